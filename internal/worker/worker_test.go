package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/presets"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/valuation"
)

func testCompany(id string) *domain.CompanyData {
	return &domain.CompanyData{
		ID:   id,
		Name: "Company " + id,
		Profile: domain.CompanyProfile{
			Sector:           "biotech",
			TherapeuticAreas: []string{"oncology"},
			Stage:            domain.StagePhaseI,
		},
		Pipeline:   []domain.Program{{Name: "P-1", Stage: domain.StagePhaseI}},
		Financials: domain.Financials{CashPosition: 50e6, BurnRate: 2e6},
		Market:     domain.MarketData{AddressableMarket: 1e9},
	}
}

func realAnalyzer(eventBus domain.EventBus) *pipeline.Analyzer {
	return pipeline.NewAnalyzer(scoring.NewEngine(), valuation.NewEngine(), pipeline.WithEventBus(eventBus))
}

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	store := presets.NewStore()
	ctx := context.Background()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, realAnalyzer(eventBus), store, "")

		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicCompanySubmitted {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.GetStats().SubscriptionCount != 0 {
			t.Error("expected 0 subscriptions after stop")
		}
	})

	t.Run("ProcessSubmission", func(t *testing.T) {
		w := NewWorker(eventBus, realAnalyzer(eventBus), store, domain.PresetConservative)
		w.Start(Config{TenantIDs: []string{"tenant-test"}})
		defer w.Stop()

		completed := make(chan *domain.Message, 1)
		eventBus.Subscribe(ctx, "tenant-test", domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed <- msg
			return nil
		})
		time.Sleep(50 * time.Millisecond)

		if err := Submit(ctx, eventBus, "tenant-test", testCompany("co-001"), ""); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		event, err := bus.DecodeEvent[bus.AnalysisCompleted](waitFor(t, completed))
		if err != nil {
			t.Fatal(err)
		}
		if event.CompanyID != "co-001" || event.AnalysisID == "" {
			t.Errorf("unexpected completion %+v", event)
		}
	})

	t.Run("UnknownPreset", func(t *testing.T) {
		w := NewWorker(eventBus, realAnalyzer(eventBus), store, "")
		w.Start(Config{TenantIDs: []string{"tenant-preset"}})
		defer w.Stop()

		failed := make(chan *domain.Message, 1)
		eventBus.Subscribe(ctx, "tenant-preset", domain.TopicAnalysisFailed, func(ctx context.Context, msg *domain.Message) error {
			failed <- msg
			return nil
		})
		time.Sleep(50 * time.Millisecond)

		Submit(ctx, eventBus, "tenant-preset", testCompany("co-002"), "no-such-preset")

		event, err := bus.DecodeEvent[bus.AnalysisFailed](waitFor(t, failed))
		if err != nil {
			t.Fatal(err)
		}
		if event.CompanyID != "co-002" {
			t.Errorf("expected co-002, got %s", event.CompanyID)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, realAnalyzer(eventBus), store, "")
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		if got := w.GetStats().SubscriptionCount; got != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", got)
		}
	})

	t.Run("SubmitRequiresCompany", func(t *testing.T) {
		if err := Submit(ctx, eventBus, "tenant-001", nil, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

// stubAnalyzer blocks on companies listed in slow until their context ends.
type stubAnalyzer struct {
	slow    map[string]bool
	fail    map[string]bool
	started chan string

	running atomic.Int32
	peak    atomic.Int32
}

func (s *stubAnalyzer) Analyze(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig) (*domain.Analysis, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if s.started != nil {
		s.started <- company.ID
	}
	if s.slow[company.ID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	time.Sleep(5 * time.Millisecond)
	if s.fail[company.ID] {
		return nil, &domain.InputError{Field: "name", Reason: "company name is required"}
	}
	return &domain.Analysis{ID: "an-" + company.ID, CompanyID: company.ID}, nil
}

type analyzerFunc func(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig) (*domain.Analysis, error)

func (f analyzerFunc) Analyze(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig) (*domain.Analysis, error) {
	return f(ctx, tenantID, company, cfg)
}

func companies(ids ...string) []*domain.CompanyData {
	out := make([]*domain.CompanyData, len(ids))
	for i, id := range ids {
		out[i] = testCompany(id)
	}
	return out
}

func TestBatch(t *testing.T) {
	ctx := context.Background()
	cfg := domain.DefaultScoringConfig()

	t.Run("OrderedResults", func(t *testing.T) {
		stub := &stubAnalyzer{fail: map[string]bool{"b": true}}
		results := NewBatch(stub, WithWorkers(2)).Run(ctx, "tenant-001", companies("a", "b", "c"), cfg)

		want := []Status{StatusCompleted, StatusFailed, StatusCompleted}
		for i, r := range results {
			if r.Status != want[i] {
				t.Errorf("%s: expected %s, got %s (%s)", r.CompanyID, want[i], r.Status, r.Error)
			}
		}
		if results[0].Analysis == nil || results[0].Analysis.ID != "an-a" {
			t.Errorf("expected analysis for a, got %+v", results[0].Analysis)
		}
		if results[1].Error == "" {
			t.Error("expected error text on failed slot")
		}

		s := Summarize(results)
		if s.Total != 3 || s.Completed != 2 || s.Failed != 1 || s.Cancelled != 0 {
			t.Errorf("unexpected summary %+v", s)
		}
	})

	t.Run("BoundedConcurrency", func(t *testing.T) {
		stub := &stubAnalyzer{}
		NewBatch(stub, WithWorkers(2)).Run(ctx, "tenant-001", companies("a", "b", "c", "d", "e", "f"), cfg)

		if p := stub.peak.Load(); p > 2 {
			t.Errorf("expected at most 2 concurrent analyses, got %d", p)
		}
	})

	t.Run("CancelOneCompany", func(t *testing.T) {
		stub := &stubAnalyzer{slow: map[string]bool{"slow": true}, started: make(chan string, 4)}
		batch := NewBatch(stub, WithWorkers(4))

		var results []Result
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			results = batch.Run(ctx, "tenant-001", companies("a", "slow", "c"), cfg)
		}()

		for i := 0; i < 3; i++ {
			select {
			case <-stub.started:
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for slots to start")
			}
		}

		if !batch.Cancel("slow") {
			t.Fatal("expected slot for slow company")
		}
		wg.Wait()

		want := map[string]Status{"a": StatusCompleted, "slow": StatusCancelled, "c": StatusCompleted}
		for _, r := range results {
			if r.Status != want[r.CompanyID] {
				t.Errorf("%s: expected %s, got %s", r.CompanyID, want[r.CompanyID], r.Status)
			}
		}
		if batch.Cancel("slow") {
			t.Error("slots must be released after the batch")
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		stub := &stubAnalyzer{slow: map[string]bool{"slow": true}}
		results := NewBatch(stub, WithCompanyTimeout(20*time.Millisecond)).Run(ctx, "tenant-001", companies("slow", "a"), cfg)

		if results[0].Status != StatusFailed || results[0].Error != "analysis timed out" {
			t.Errorf("expected timed out failure, got %s (%s)", results[0].Status, results[0].Error)
		}
		if results[1].Status != StatusCompleted {
			t.Errorf("timeout must not affect other slots, got %s", results[1].Status)
		}
	})

	t.Run("ParentCancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		results := NewBatch(&stubAnalyzer{}).Run(cctx, "tenant-001", companies("a", "b"), cfg)
		for _, r := range results {
			if r.Status != StatusCancelled {
				t.Errorf("%s: expected cancelled, got %s", r.CompanyID, r.Status)
			}
		}
	})

	t.Run("ConcurrentRunsSameCompany", func(t *testing.T) {
		delays := map[string]time.Duration{"slow-run": 300 * time.Millisecond, "fast-run": 10 * time.Millisecond}
		batch := NewBatch(analyzerFunc(func(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig) (*domain.Analysis, error) {
			select {
			case <-time.After(delays[tenantID]):
				return &domain.Analysis{ID: tenantID + "-" + company.ID, CompanyID: company.ID}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

		var slow []Result
		done := make(chan struct{})
		go func() {
			defer close(done)
			slow = batch.Run(ctx, "slow-run", companies("acme"), cfg)
		}()

		time.Sleep(20 * time.Millisecond)
		fast := batch.Run(ctx, "fast-run", companies("acme"), cfg)
		<-done

		if fast[0].Status != StatusCompleted {
			t.Errorf("fast run: expected completed, got %s (%s)", fast[0].Status, fast[0].Error)
		}
		if slow[0].Status != StatusCompleted || slow[0].Analysis.ID != "slow-run-acme" {
			t.Errorf("slow run: finishing the fast run must not cancel it, got %s (%s)", slow[0].Status, slow[0].Error)
		}
		if batch.Cancel("acme") {
			t.Error("slots must be released after both runs")
		}
	})

	t.Run("CompletedBeforeCancel", func(t *testing.T) {
		var batch *Batch
		batch = NewBatch(analyzerFunc(func(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig) (*domain.Analysis, error) {
			// The cancel lands after the analysis has finished its work.
			batch.Cancel(company.ID)
			return &domain.Analysis{ID: "an-" + company.ID, CompanyID: company.ID}, nil
		}))

		results := batch.Run(ctx, "tenant-001", companies("late"), cfg)
		if results[0].Status != StatusCompleted || results[0].Analysis == nil {
			t.Errorf("expected the finished analysis to stand, got %s (%s)", results[0].Status, results[0].Error)
		}
	})

	t.Run("RealAnalyzer", func(t *testing.T) {
		a := pipeline.NewAnalyzer(scoring.NewEngine(), valuation.NewEngine())
		results := NewBatch(a).Run(ctx, "tenant-001", companies("x", "y"), cfg)
		for _, r := range results {
			if r.Status != StatusCompleted || r.Analysis.Scoring == nil {
				t.Errorf("%s: expected completed analysis, got %s (%s)", r.CompanyID, r.Status, r.Error)
			}
		}
	})
}

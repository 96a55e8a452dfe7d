package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Status is the final state of a batch slot.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// DefaultBatchWorkers bounds concurrent analyses when none is configured.
const DefaultBatchWorkers = 8

// Result is the outcome of one company in a batch.
type Result struct {
	CompanyID  string           `json:"companyId"`
	Status     Status           `json:"status"`
	Analysis   *domain.Analysis `json:"analysis,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

// Summary counts batch results by status.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Summarize counts results by status.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Batch analyzes many companies with bounded concurrency. Every company runs
// in its own slot with its own cancel func, so one company can be cancelled
// or time out without touching the others.
type Batch struct {
	analyzer Analyzer
	workers  int
	timeout  time.Duration

	mu    sync.Mutex
	slots map[string]map[*slot]struct{}
}

// slot is one company's place in one Run. Concurrent runs of the same
// company hold separate slots.
type slot struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithWorkers bounds concurrent analyses.
func WithWorkers(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithCompanyTimeout limits each company's analysis; zero disables it.
func WithCompanyTimeout(d time.Duration) BatchOption {
	return func(b *Batch) { b.timeout = d }
}

// NewBatch creates a batch runner.
func NewBatch(analyzer Analyzer, opts ...BatchOption) *Batch {
	b := &Batch{
		analyzer: analyzer,
		workers:  DefaultBatchWorkers,
		slots:    make(map[string]map[*slot]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run analyzes every company under cfg and returns one result per company
// in input order. Slot failures never abort the batch.
func (b *Batch) Run(ctx context.Context, tenantID string, companies []*domain.CompanyData, cfg domain.ScoringConfig) []Result {
	start := time.Now()
	results := make([]Result, len(companies))

	// Slots are registered up front so pending companies can be cancelled.
	slots := make([]*slot, len(companies))
	for i, c := range companies {
		slots[i] = b.register(ctx, companyID(c))
	}

	var g errgroup.Group
	g.SetLimit(b.workers)

	for i, c := range companies {
		g.Go(func() error {
			results[i] = b.runSlot(slots[i].ctx, tenantID, c, cfg)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range companies {
		b.release(companyID(c), slots[i])
	}

	summary := Summarize(results)
	slog.Info("batch finished",
		"tenant_id", tenantID,
		"total", summary.Total,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results
}

func (b *Batch) runSlot(ctx context.Context, tenantID string, company *domain.CompanyData, cfg domain.ScoringConfig) Result {
	start := time.Now()
	result := Result{CompanyID: companyID(company)}

	if ctx.Err() != nil {
		result.Status = StatusCancelled
		result.Error = ctx.Err().Error()
		return result
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	analysis, err := b.analyzer.Analyze(ctx, tenantID, company, cfg)
	result.DurationMs = time.Since(start).Milliseconds()

	// A finished analysis stands even if the slot was cancelled or timed
	// out while it returned.
	switch {
	case err == nil:
		result.Status = StatusCompleted
		result.Analysis = analysis
	case errors.Is(ctx.Err(), context.Canceled):
		result.Status = StatusCancelled
		result.Error = context.Canceled.Error()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = StatusFailed
		result.Error = "analysis timed out"
	default:
		result.Status = StatusFailed
		result.Error = err.Error()
	}
	return result
}

// Cancel cancels every running or pending slot for a company. It reports
// whether any slot was found.
func (b *Batch) Cancel(companyID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	slots, ok := b.slots[companyID]
	for s := range slots {
		s.cancel()
	}
	return ok
}

func (b *Batch) register(ctx context.Context, id string) *slot {
	sctx, cancel := context.WithCancel(ctx)
	s := &slot{ctx: sctx, cancel: cancel}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.slots[id] == nil {
		b.slots[id] = make(map[*slot]struct{})
	}
	b.slots[id][s] = struct{}{}
	return s
}

// release ends one run's slot. Slots of other runs for the same company
// keep running.
func (b *Batch) release(id string, s *slot) {
	s.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots[id], s)
	if len(b.slots[id]) == 0 {
		delete(b.slots, id)
	}
}

func companyID(c *domain.CompanyData) string {
	if c == nil {
		return ""
	}
	return c.ID
}

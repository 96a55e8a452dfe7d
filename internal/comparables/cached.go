package comparables

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// generationKey holds the pool generation. Bumping it retires every
// cached search for the tenant.
const generationKey = "search:gen"

// CachedMatcher puts a TTL cache in front of a Matcher. Entries are keyed by
// pool generation and a hash of the normalized request and are only ever
// replaced, never modified.
type CachedMatcher struct {
	matcher *Matcher
	cache   domain.Cache
	ttl     time.Duration
}

// NewCachedMatcher wraps a matcher with a search cache.
func NewCachedMatcher(m *Matcher, c domain.Cache, ttl time.Duration) *CachedMatcher {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedMatcher{matcher: m, cache: c, ttl: ttl}
}

// FindComparables returns a cached result when one exists for the current
// pool generation, otherwise searches and stores the result.
// Cache failures degrade to an uncached search.
func (c *CachedMatcher) FindComparables(ctx context.Context, tenantID string, target domain.TargetProfile, criteria domain.ComparableCriteria) (*domain.ComparableSearchResult, error) {
	criteria.AsOf = c.matcher.ResolveAsOf(criteria.AsOf)

	gen, err := cache.Generation(ctx, c.cache, tenantID, generationKey)
	if err != nil {
		return c.matcher.FindComparables(ctx, tenantID, target, criteria)
	}
	key := SearchKey(gen, target, criteria)

	if raw, err := c.cache.Get(ctx, tenantID, key); err == nil && raw != nil {
		var cached domain.ComparableSearchResult
		if json.Unmarshal(raw, &cached) == nil {
			return &cached, nil
		}
	}

	result, err := c.matcher.FindComparables(ctx, tenantID, target, criteria)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(result); err == nil {
		_ = c.cache.Set(ctx, tenantID, key, raw, c.ttl)
	}
	return result, nil
}

// Invalidate retires every cached search of the tenant, for use after the
// pool is refreshed, and returns the new pool generation. In-flight searches
// keep their own snapshot.
func (c *CachedMatcher) Invalidate(ctx context.Context, tenantID string) (int64, error) {
	gen, err := c.cache.Incr(ctx, tenantID, generationKey)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate search cache: %w", err)
	}
	return gen, nil
}

// searchRequest is the canonical form hashed into the cache key.
type searchRequest struct {
	Target   domain.TargetProfile      `json:"t"`
	Criteria domain.ComparableCriteria `json:"c"`
}

// SearchKey builds the cache key of a search. Set-valued fields are
// normalized so equivalent requests share a key.
func SearchKey(generation int64, target domain.TargetProfile, criteria domain.ComparableCriteria) string {
	target.CompanyID = ""
	target.TherapeuticAreas = normalizedAreas(target.TherapeuticAreas)
	target.Mechanism = strings.ToLower(strings.TrimSpace(target.Mechanism))

	criteria.TherapeuticAreas = normalizedAreas(criteria.TherapeuticAreas)
	criteria.Stages = append([]domain.DevelopmentStage(nil), criteria.Stages...)
	sort.Slice(criteria.Stages, func(i, j int) bool { return criteria.Stages[i] < criteria.Stages[j] })
	criteria.TransactionTypes = append([]domain.TransactionType(nil), criteria.TransactionTypes...)
	sort.Slice(criteria.TransactionTypes, func(i, j int) bool { return criteria.TransactionTypes[i] < criteria.TransactionTypes[j] })
	criteria.AsOf = criteria.AsOf.UTC()

	raw, _ := json.Marshal(searchRequest{Target: target, Criteria: criteria})
	return fmt.Sprintf("search:%d:%016x", generation, xxhash.Sum64(raw))
}

func normalizedAreas(areas []string) []string {
	set := areaSet(areas)
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

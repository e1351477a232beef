package cloudblob

import (
	"context"
	"sort"
	"sync"
	"time"
)

// QueryComplexity represents the cost class of a read path
type QueryComplexity string

const (
	ComplexityO1 QueryComplexity = "O(1)" // direct key read
	ComplexityOK QueryComplexity = "O(K)" // search index, K matches read
	ComplexityON QueryComplexity = "O(N)" // full namespace scan
)

// DefaultMaxProfiles bounds the profiles held between exports
const DefaultMaxProfiles = 10000

// QueryProfile tracks execution details for a single query
type QueryProfile struct {
	Method       string // "select", "filter"
	Namespace    string
	StartTime    time.Time
	Duration     time.Duration
	Complexity   QueryComplexity
	IndexUsed    string // "ref:id", "fulltext:user" or "none:full-scan"
	ResultCount  int
	FilterFields []string // columns referenced by the predicate
	StorageOps   int      // backend list pages plus documents read
	Error        error
}

// FullScan reports whether the query walked the whole namespace
func (q QueryProfile) FullScan() bool {
	return q.Complexity == ComplexityON
}

// QueryProfiler collects and reports query performance
type QueryProfiler struct {
	mu                 sync.RWMutex
	profiles           []QueryProfile
	slowQueryThreshold time.Duration
	maxProfiles        int
	dropped            int
	enabled            bool
}

// NewQueryProfiler creates a new query profiler
func NewQueryProfiler() *QueryProfiler {
	return &QueryProfiler{
		profiles:           make([]QueryProfile, 0),
		slowQueryThreshold: 100 * time.Millisecond,
		maxProfiles:        DefaultMaxProfiles,
		enabled:            true,
	}
}

// SetSlowQueryThreshold sets the duration threshold for slow queries
func (p *QueryProfiler) SetSlowQueryThreshold(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slowQueryThreshold = d
}

// SetMaxProfiles bounds the number of retained profiles. Once full, the
// oldest profile is dropped for each new one.
func (p *QueryProfiler) SetMaxProfiles(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxProfiles = n
}

// SetEnabled enables or disables profiling
func (p *QueryProfiler) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// StartProfile begins profiling a query. It returns nil when profiling is
// disabled; Record ignores nil profiles.
func (p *QueryProfiler) StartProfile(method, namespace string) *QueryProfile {
	p.mu.RLock()
	enabled := p.enabled
	p.mu.RUnlock()

	if !enabled {
		return nil
	}

	return &QueryProfile{
		Method:       method,
		Namespace:    namespace,
		StartTime:    time.Now(),
		FilterFields: make([]string, 0),
	}
}

// Record records a completed query profile
func (p *QueryProfiler) Record(profile *QueryProfile) {
	if profile == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	profile.Duration = time.Since(profile.StartTime)
	if p.maxProfiles > 0 && len(p.profiles) >= p.maxProfiles {
		p.profiles = p.profiles[1:]
		p.dropped++
	}
	p.profiles = append(p.profiles, *profile)
}

// GetProfiles returns all recorded profiles
func (p *QueryProfiler) GetProfiles() []QueryProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]QueryProfile, len(p.profiles))
	copy(result, p.profiles)
	return result
}

// Drain returns the recorded profiles and clears them in one step
func (p *QueryProfiler) Drain() []QueryProfile {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := p.profiles
	p.profiles = make([]QueryProfile, 0)
	return result
}

// Dropped returns how many profiles were discarded because the buffer was full
func (p *QueryProfiler) Dropped() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dropped
}

// GetSlowQueries returns queries that exceeded the slow query threshold
func (p *QueryProfiler) GetSlowQueries() []QueryProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	slow := make([]QueryProfile, 0)
	for _, profile := range p.profiles {
		if profile.Duration > p.slowQueryThreshold {
			slow = append(slow, profile)
		}
	}
	return slow
}

// GetFullScans returns queries that performed full scans
func (p *QueryProfiler) GetFullScans() []QueryProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	scans := make([]QueryProfile, 0)
	for _, profile := range p.profiles {
		if profile.FullScan() {
			scans = append(scans, profile)
		}
	}
	return scans
}

// Clear clears all recorded profiles
func (p *QueryProfiler) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles = make([]QueryProfile, 0)
}

// ProfileSummary aggregates recorded profiles
type ProfileSummary struct {
	TotalQueries    int
	SlowQueries     int
	FullScans       int
	Errors          int
	AverageDuration time.Duration
	P50Duration     time.Duration
	P95Duration     time.Duration
	P99Duration     time.Duration
	ByNamespace     map[string]NamespaceStats
	ByComplexity    map[QueryComplexity]int
}

type NamespaceStats struct {
	Count           int
	TotalDuration   time.Duration
	AverageDuration time.Duration
	MaxDuration     time.Duration
	MinDuration     time.Duration
	FullScans       int
}

// GetSummary returns a statistical summary of all profiles
func (p *QueryProfiler) GetSummary() ProfileSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary := ProfileSummary{
		TotalQueries: len(p.profiles),
		ByNamespace:  make(map[string]NamespaceStats),
		ByComplexity: make(map[QueryComplexity]int),
	}

	if len(p.profiles) == 0 {
		return summary
	}

	var totalDuration time.Duration
	durations := make([]time.Duration, 0, len(p.profiles))

	for _, profile := range p.profiles {
		totalDuration += profile.Duration
		durations = append(durations, profile.Duration)

		if profile.Duration > p.slowQueryThreshold {
			summary.SlowQueries++
		}
		if profile.FullScan() {
			summary.FullScans++
		}
		if profile.Error != nil {
			summary.Errors++
		}

		summary.ByComplexity[profile.Complexity]++

		stats := summary.ByNamespace[profile.Namespace]
		stats.Count++
		stats.TotalDuration += profile.Duration
		if stats.Count == 1 || profile.Duration > stats.MaxDuration {
			stats.MaxDuration = profile.Duration
		}
		if stats.Count == 1 || profile.Duration < stats.MinDuration {
			stats.MinDuration = profile.Duration
		}
		if profile.FullScan() {
			stats.FullScans++
		}
		summary.ByNamespace[profile.Namespace] = stats
	}

	summary.AverageDuration = totalDuration / time.Duration(len(p.profiles))
	for ns, stats := range summary.ByNamespace {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Count)
		summary.ByNamespace[ns] = stats
	}

	sort.Slice(durations, func(i, j int) bool {
		return durations[i] < durations[j]
	})
	summary.P50Duration = durations[len(durations)*50/100]
	summary.P95Duration = durations[len(durations)*95/100]
	summary.P99Duration = durations[len(durations)*99/100]

	return summary
}

// Context key for query profiler
type profilerKey struct{}

// WithProfiler attaches a profiler to the context
func WithProfiler(ctx context.Context, profiler *QueryProfiler) context.Context {
	return context.WithValue(ctx, profilerKey{}, profiler)
}

// GetProfilerFromContext retrieves the profiler from context, or a disabled
// profiler when none is attached
func GetProfilerFromContext(ctx context.Context) *QueryProfiler {
	if profiler, ok := ctx.Value(profilerKey{}).(*QueryProfiler); ok && profiler != nil {
		return profiler
	}
	p := NewQueryProfiler()
	p.SetEnabled(false)
	return p
}

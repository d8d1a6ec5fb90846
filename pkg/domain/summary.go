package domain

import (
	"fmt"
	"time"
)

// ProviderCounts holds per-provider ingestion counters for one run.
type ProviderCounts struct {
	Collected int
	Matched   int
	Inserted  int
	Updated   int
	NoMatch   int
	Dropped   int // malformed events rejected before matching
	Failures  int // collector failures for this provider
}

// RunSummary is the observable output of an ingestion run beyond the
// store's new contents. Recoverable failures are accumulated here so
// repeated silent data loss stays visible.
type RunSummary struct {
	Started   time.Time
	Finished  time.Time
	Topics    int
	Collected int
	Matched   int
	Inserted  int
	Updated   int
	NoMatch   int
	Dropped   int
	Failures  int // collector failures, all providers
	Limited   int // rate-limited (topic, provider) pairs, retryable next run

	PerProvider map[string]*ProviderCounts
}

// Provider returns the counters for the given provider, creating them on
// first use.
func (s *RunSummary) Provider(name string) *ProviderCounts {
	if s.PerProvider == nil {
		s.PerProvider = map[string]*ProviderCounts{}
	}
	if _, ok := s.PerProvider[name]; !ok {
		s.PerProvider[name] = &ProviderCounts{}
	}
	return s.PerProvider[name]
}

// String renders a one-line summary suitable for the run log.
func (s *RunSummary) String() string {
	return fmt.Sprintf("topics:%d collected:%d matched:%d inserted:%d updated:%d no-match:%d dropped:%d failures:%d rate-limited:%d in %v",
		s.Topics, s.Collected, s.Matched, s.Inserted, s.Updated, s.NoMatch, s.Dropped, s.Failures, s.Limited,
		s.Finished.Sub(s.Started).Round(time.Millisecond))
}

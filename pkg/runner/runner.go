package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/jerdev/trendradar/pkg/cache"
	"github.com/jerdev/trendradar/pkg/collector"
	"github.com/jerdev/trendradar/pkg/domain"
	"github.com/jerdev/trendradar/pkg/matcher"
	"github.com/jerdev/trendradar/pkg/store"
)

// EventStore persists classified events
type EventStore interface {
	Upsert(ctx context.Context, ev *domain.StoredEvent) (store.UpsertResult, error)
}

// Matcher classifies candidate events by topic
type Matcher interface {
	Validate(ev domain.CandidateEvent) error
	Classify(ev domain.CandidateEvent) []matcher.Match
}

// Runner drives one ingestion run: every (topic, collector) pair is one
// unit of work, processed concurrently by a bounded worker pool. A failing
// collector or an exhausted rate budget skips its pair; a failing store
// aborts the run, partial ingestion with no persistence has no value.
type Runner struct {
	store      EventStore
	matcher    Matcher
	collectors []collector.Collector
	topics     []domain.Topic
	maxWorkers int
	timeout    time.Duration
}

// Config holds runner dependencies and parameters
type Config struct {
	Store      EventStore
	Matcher    Matcher
	Collectors []collector.Collector
	Topics     []domain.Topic
	MaxWorkers int
	Timeout    time.Duration
}

// New creates a runner, filling defaults for zero parameters
func New(cfg Config) *Runner {
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return &Runner{
		store:      cfg.Store,
		matcher:    cfg.Matcher,
		collectors: cfg.Collectors,
		topics:     cfg.Topics,
		maxWorkers: cfg.MaxWorkers,
		timeout:    cfg.Timeout,
	}
}

// Run executes one full ingestion pass and returns its summary. The
// returned error is nil for complete and partial runs alike; it is set
// only when the run had to abort, i.e. the event store went away.
// Cancellation or timeout ends the run early but already-upserted events
// stay committed and the partial summary is still returned.
func (r *Runner) Run(ctx context.Context) (*domain.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	summary := &domain.RunSummary{Started: time.Now(), Topics: len(r.topics)}
	var mu sync.Mutex

	lgr.Printf("[INFO] starting run: %d topics, %d collectors, %d workers",
		len(r.topics), len(r.collectors), r.maxWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxWorkers)

	for _, topic := range r.topics {
		for _, coll := range r.collectors {
			g.Go(func() error {
				return r.processPair(gctx, coll, topic, summary, &mu)
			})
		}
	}

	err := g.Wait()
	summary.Finished = time.Now()
	lgr.Printf("[INFO] run finished: %s", summary)

	if err != nil && ctx.Err() == nil {
		return summary, err
	}
	if ctx.Err() != nil {
		lgr.Printf("[WARN] run ended early: %v", ctx.Err())
	}
	return summary, nil
}

// processPair collects, matches and persists events for one (topic,
// collector) pair. Only store failures return an error, everything else is
// counted and swallowed so one source outage never aborts the run.
func (r *Runner) processPair(ctx context.Context, coll collector.Collector, topic domain.Topic,
	summary *domain.RunSummary, mu *sync.Mutex) error {

	provider := coll.Provider()
	lgr.Printf("[DEBUG] collecting %s for topic %q", provider, topic.Name)

	events, err := coll.Collect(ctx, topic)
	if err != nil {
		if ctx.Err() != nil {
			return nil // run canceled, not a collector problem
		}
		mu.Lock()
		defer mu.Unlock()
		if errors.Is(err, cache.ErrRateLimited) {
			lgr.Printf("[WARN] %s rate limited for topic %q, will retry next run: %v", provider, topic.Name, err)
			summary.Limited++
			return nil
		}
		lgr.Printf("[WARN] %v", err)
		summary.Failures++
		summary.Provider(provider).Failures++
		return nil
	}

	for _, ev := range events {
		if err := r.processEvent(ctx, ev, summary, mu); err != nil {
			return err
		}
	}
	return nil
}

// processEvent validates, classifies and upserts a single candidate
// event. The stored topic comes from classification, not from the topic
// that drove the collection query.
func (r *Runner) processEvent(ctx context.Context, ev domain.CandidateEvent,
	summary *domain.RunSummary, mu *sync.Mutex) error {

	mu.Lock()
	summary.Collected++
	pc := summary.Provider(ev.Source)
	pc.Collected++
	mu.Unlock()

	if err := r.matcher.Validate(ev); err != nil {
		lgr.Printf("[DEBUG] dropping malformed event: %v", err)
		mu.Lock()
		summary.Dropped++
		pc.Dropped++
		mu.Unlock()
		return nil
	}

	matches := r.matcher.Classify(ev)
	if len(matches) == 0 {
		mu.Lock()
		summary.NoMatch++
		pc.NoMatch++
		mu.Unlock()
		return nil
	}

	mu.Lock()
	summary.Matched++
	pc.Matched++
	mu.Unlock()

	// one stored row per matched topic, each with its own fingerprint
	for _, m := range matches {
		stored := &domain.StoredEvent{
			Source:     ev.Source,
			ProviderID: ev.ProviderID,
			Topic:      m.Topic,
			Category:   m.Category,
			Title:      ev.Title,
			URL:        ev.URL,
			Score:      ev.Score,
		}
		res, err := r.store.Upsert(ctx, stored)
		if err != nil {
			if ctx.Err() != nil {
				return nil // partial run, already-committed rows stay
			}
			return fmt.Errorf("persist event %s/%s: %w", ev.Source, ev.ProviderID, err)
		}

		mu.Lock()
		if res == store.Inserted {
			summary.Inserted++
			pc.Inserted++
		} else {
			summary.Updated++
			pc.Updated++
		}
		mu.Unlock()
	}
	return nil
}

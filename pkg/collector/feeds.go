package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/jerdev/trendradar/pkg/cache"
	"github.com/jerdev/trendradar/pkg/domain"
)

// Feeds collects items from configured RSS/Atom feeds, e.g. launch
// catalogs and forums that expose no search API. Unlike the search-based
// collectors it fetches whole feeds and narrows locally by the topic's
// keywords; feed payloads are cached topic-independently so one run
// fetches each URL at most once.
type Feeds struct {
	cache     *cache.Cache
	client    *http.Client
	urls      []string
	userAgent string
	daysLimit int
}

// FeedsConfig holds collector parameters
type FeedsConfig struct {
	URLs      []string
	UserAgent string
	DaysLimit int
	Timeout   time.Duration
}

// NewFeeds creates a feed collector for the configured URLs
func NewFeeds(c *cache.Cache, cfg FeedsConfig) *Feeds {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "trendradar/1.0"
	}
	if cfg.DaysLimit == 0 {
		cfg.DaysLimit = 7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Feeds{
		cache:     c,
		client:    newClient(cfg.Timeout),
		urls:      cfg.URLs,
		userAgent: cfg.UserAgent,
		daysLimit: cfg.DaysLimit,
	}
}

// Provider returns the provider identifier
func (f *Feeds) Provider() string { return "feeds" }

// Collect fetches all configured feeds and returns recent items whose text
// mentions one of the topic's keywords. A single unreachable feed fails the
// whole pair, the orchestrator treats it as a recoverable failure.
func (f *Feeds) Collect(ctx context.Context, topic domain.Topic) ([]domain.CandidateEvent, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -f.daysLimit)

	var events []domain.CandidateEvent
	for _, feedURL := range f.urls {
		// topic left empty on purpose: the payload is topic-independent
		// and shared across all topics of the run
		sig := cache.Signature{Provider: f.Provider(), Query: feedURL}
		payload, err := f.cache.Fetch(ctx, sig, func(ctx context.Context) ([]byte, error) {
			return f.fetch(ctx, feedURL)
		})
		if err != nil {
			return nil, &Failure{Provider: f.Provider(), Topic: topic.Name, Err: err}
		}

		parsed, err := gofeed.NewParser().ParseString(string(payload))
		if err != nil {
			return nil, &Failure{Provider: f.Provider(), Topic: topic.Name, Err: fmt.Errorf("parse feed %s: %w", feedURL, err)}
		}

		for _, item := range parsed.Items {
			published := itemTime(item)
			if published.Before(cutoff) {
				continue
			}
			text := stripHTML(item.Description)
			if !mentionsTopic(topic, item.Title+" "+text) {
				continue
			}

			providerID := item.GUID
			if providerID == "" {
				providerID = item.Link
			}
			events = append(events, domain.CandidateEvent{
				Source:     f.Provider(),
				ProviderID: providerID,
				Title:      item.Title,
				Text:       text,
				URL:        item.Link,
				Timestamp:  published,
			})
		}
	}
	return events, nil
}

// fetch retrieves raw feed content
func (f *Feeds) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	return getBody(f.client, req)
}

// mentionsTopic is the feed-side equivalent of a provider search query:
// a coarse keyword screen before the matcher does the authoritative
// classification
func mentionsTopic(topic domain.Topic, text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range topic.Keywords {
		if strings.Contains(lower, strings.ToLower(kw.Term)) {
			return true
		}
	}
	return false
}

func itemTime(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return *item.PublishedParsed
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed
	default:
		return time.Time{}
	}
}

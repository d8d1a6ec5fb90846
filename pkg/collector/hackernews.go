package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jerdev/trendradar/pkg/cache"
	"github.com/jerdev/trendradar/pkg/domain"
)

// HackerNews collects recent stories matching a topic via the Algolia
// search API. Score is the story points.
type HackerNews struct {
	cache      *cache.Cache
	client     *http.Client
	baseURL    string
	maxStories int
	daysLimit  int
}

// HackerNewsConfig holds collector parameters
type HackerNewsConfig struct {
	BaseURL    string // overridable for tests, default https://hn.algolia.com
	MaxStories int
	DaysLimit  int
	Timeout    time.Duration
}

// NewHackerNews creates a Hacker News collector routing requests through
// the cache
func NewHackerNews(c *cache.Cache, cfg HackerNewsConfig) *HackerNews {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://hn.algolia.com"
	}
	if cfg.MaxStories == 0 {
		cfg.MaxStories = 50
	}
	if cfg.DaysLimit == 0 {
		cfg.DaysLimit = 7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HackerNews{
		cache:      c,
		client:     newClient(cfg.Timeout),
		baseURL:    cfg.BaseURL,
		maxStories: cfg.MaxStories,
		daysLimit:  cfg.DaysLimit,
	}
}

// Provider returns the provider identifier
func (h *HackerNews) Provider() string { return "hackernews" }

// Collect searches recent stories for the topic name. Stories without an
// external URL (Ask HN and similar) link back to the discussion page.
func (h *HackerNews) Collect(ctx context.Context, topic domain.Topic) ([]domain.CandidateEvent, error) {
	sig := cache.Signature{Provider: h.Provider(), Topic: topic.Name, Query: "search_by_date"}
	payload, err := h.cache.Fetch(ctx, sig, func(ctx context.Context) ([]byte, error) {
		return h.search(ctx, topic.Name)
	})
	if err != nil {
		return nil, &Failure{Provider: h.Provider(), Topic: topic.Name, Err: err}
	}

	var result struct {
		Hits []struct {
			ObjectID  string `json:"objectID"`
			Title     string `json:"title"`
			URL       string `json:"url"`
			Points    int    `json:"points"`
			StoryText string `json:"story_text"`
			CreatedAt int64  `json:"created_at_i"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, &Failure{Provider: h.Provider(), Topic: topic.Name, Err: fmt.Errorf("decode search response: %w", err)}
	}

	events := make([]domain.CandidateEvent, 0, len(result.Hits))
	for _, hit := range result.Hits {
		storyURL := hit.URL
		if storyURL == "" {
			storyURL = "https://news.ycombinator.com/item?id=" + hit.ObjectID
		}
		events = append(events, domain.CandidateEvent{
			Source:     h.Provider(),
			ProviderID: hit.ObjectID,
			Title:      hit.Title,
			Text:       stripHTML(hit.StoryText),
			URL:        storyURL,
			Score:      float64(hit.Points),
			Timestamp:  time.Unix(hit.CreatedAt, 0).UTC(),
		})
	}
	return events, nil
}

// search queries the Algolia search_by_date endpoint with a recency cutoff
func (h *HackerNews) search(ctx context.Context, keyword string) ([]byte, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -h.daysLimit).Unix()

	params := url.Values{}
	params.Set("query", keyword)
	params.Set("tags", "story")
	params.Set("numericFilters", "created_at_i>"+strconv.FormatInt(cutoff, 10))
	params.Set("hitsPerPage", strconv.Itoa(h.maxStories))

	reqURL := h.baseURL + "/api/v1/search_by_date?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "trendradar/1.0")

	return getBody(h.client, req)
}

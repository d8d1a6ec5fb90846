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

// Reddit collects recent posts matching a topic via the public search
// endpoint. Score is the post score.
type Reddit struct {
	cache     *cache.Cache
	client    *http.Client
	baseURL   string
	userAgent string
	limit     int
}

// RedditConfig holds collector parameters
type RedditConfig struct {
	BaseURL   string // overridable for tests, default https://www.reddit.com
	UserAgent string // reddit requires a descriptive user agent
	Limit     int
	Timeout   time.Duration
}

// NewReddit creates a Reddit collector routing requests through the cache
func NewReddit(c *cache.Cache, cfg RedditConfig) *Reddit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "trendradar/1.0 (trend monitoring)"
	}
	if cfg.Limit == 0 {
		cfg.Limit = 100
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Reddit{
		cache:     c,
		client:    newClient(cfg.Timeout),
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		limit:     cfg.Limit,
	}
}

// Provider returns the provider identifier
func (r *Reddit) Provider() string { return "reddit" }

// Collect searches new posts from the last week for the topic name
func (r *Reddit) Collect(ctx context.Context, topic domain.Topic) ([]domain.CandidateEvent, error) {
	sig := cache.Signature{Provider: r.Provider(), Topic: topic.Name, Query: "search"}
	payload, err := r.cache.Fetch(ctx, sig, func(ctx context.Context) ([]byte, error) {
		return r.search(ctx, topic.Name)
	})
	if err != nil {
		return nil, &Failure{Provider: r.Provider(), Topic: topic.Name, Err: err}
	}

	var result struct {
		Data struct {
			Children []struct {
				Data struct {
					ID         string  `json:"id"`
					Title      string  `json:"title"`
					SelfText   string  `json:"selftext"`
					Permalink  string  `json:"permalink"`
					Score      float64 `json:"score"`
					CreatedUTC float64 `json:"created_utc"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, &Failure{Provider: r.Provider(), Topic: topic.Name, Err: fmt.Errorf("decode search response: %w", err)}
	}

	events := make([]domain.CandidateEvent, 0, len(result.Data.Children))
	for _, child := range result.Data.Children {
		post := child.Data
		events = append(events, domain.CandidateEvent{
			Source:     r.Provider(),
			ProviderID: post.ID,
			Title:      post.Title,
			Text:       stripHTML(post.SelfText),
			URL:        r.baseURL + post.Permalink,
			Score:      post.Score,
			Timestamp:  time.Unix(int64(post.CreatedUTC), 0).UTC(),
		})
	}
	return events, nil
}

// search queries the public search endpoint, newest first
func (r *Reddit) search(ctx context.Context, keyword string) ([]byte, error) {
	params := url.Values{}
	params.Set("q", keyword)
	params.Set("sort", "new")
	params.Set("t", "week")
	params.Set("limit", strconv.Itoa(r.limit))

	reqURL := r.baseURL + "/search.json?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	return getBody(r.client, req)
}

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

// GitHub collects recently active repositories matching a topic via the
// code-search API. Score is the star count.
type GitHub struct {
	cache     *cache.Cache
	client    *http.Client
	token     string
	baseURL   string
	pages     int
	perPage   int
	daysLimit int
}

// GitHubConfig holds collector parameters
type GitHubConfig struct {
	Token     string
	BaseURL   string        // overridable for tests, default https://api.github.com
	Pages     int           // search pages per topic
	PerPage   int           // results per page, capped at 100 by the API
	DaysLimit int           // ignore repositories without activity in this many days
	Timeout   time.Duration // http timeout
}

// NewGitHub creates a GitHub collector routing requests through the cache
func NewGitHub(c *cache.Cache, cfg GitHubConfig) *GitHub {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Pages == 0 {
		cfg.Pages = 2
	}
	if cfg.PerPage == 0 || cfg.PerPage > 100 {
		cfg.PerPage = 100
	}
	if cfg.DaysLimit == 0 {
		cfg.DaysLimit = 7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GitHub{
		cache:     c,
		client:    newClient(cfg.Timeout),
		token:     cfg.Token,
		baseURL:   cfg.BaseURL,
		pages:     cfg.Pages,
		perPage:   cfg.PerPage,
		daysLimit: cfg.DaysLimit,
	}
}

// Provider returns the provider identifier
func (g *GitHub) Provider() string { return "github" }

// Collect searches repositories for the topic name, newest activity first,
// and keeps the ones active within the configured days limit.
func (g *GitHub) Collect(ctx context.Context, topic domain.Topic) ([]domain.CandidateEvent, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -g.daysLimit)

	var events []domain.CandidateEvent
	for page := 1; page <= g.pages; page++ {
		sig := cache.Signature{Provider: g.Provider(), Topic: topic.Name, Query: fmt.Sprintf("page=%d", page)}
		payload, err := g.cache.Fetch(ctx, sig, func(ctx context.Context) ([]byte, error) {
			return g.search(ctx, topic.Name, page)
		})
		if err != nil {
			return nil, &Failure{Provider: g.Provider(), Topic: topic.Name, Err: err}
		}

		var result struct {
			Items []struct {
				ID          int64     `json:"id"`
				FullName    string    `json:"full_name"`
				Description string    `json:"description"`
				HTMLURL     string    `json:"html_url"`
				Stars       int       `json:"stargazers_count"`
				PushedAt    time.Time `json:"pushed_at"`
				CreatedAt   time.Time `json:"created_at"`
			} `json:"items"`
		}
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, &Failure{Provider: g.Provider(), Topic: topic.Name, Err: fmt.Errorf("decode search response: %w", err)}
		}

		for _, repo := range result.Items {
			activity := repo.PushedAt
			if activity.IsZero() {
				activity = repo.CreatedAt
			}
			if activity.Before(cutoff) {
				continue
			}
			events = append(events, domain.CandidateEvent{
				Source:     g.Provider(),
				ProviderID: strconv.FormatInt(repo.ID, 10),
				Title:      repo.FullName,
				Text:       repo.Description,
				URL:        repo.HTMLURL,
				Score:      float64(repo.Stars),
				Timestamp:  activity,
			})
		}
	}
	return events, nil
}

// search queries one page of the repository search API
func (g *GitHub) search(ctx context.Context, keyword string, page int) ([]byte, error) {
	params := url.Values{}
	params.Set("q", keyword+" in:name,description,readme")
	params.Set("sort", "updated")
	params.Set("order", "desc")
	params.Set("per_page", strconv.Itoa(g.perPage))
	params.Set("page", strconv.Itoa(page))

	reqURL := g.baseURL + "/search/repositories?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "trendradar/1.0")
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}

	return getBody(g.client, req)
}

package collector

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jerdev/trendradar/pkg/domain"
)

// Collector is a source-specific adapter producing raw candidate events
// for one topic. Implementations route all network access through the
// shared cache so repeated queries within the TTL never hit the provider
// and per-provider rate limits are respected.
type Collector interface {
	Provider() string
	Collect(ctx context.Context, topic domain.Topic) ([]domain.CandidateEvent, error)
}

// Failure reports a provider error for one (provider, topic) pair. The
// orchestrator logs and skips it, other collectors and topics continue.
type Failure struct {
	Provider string
	Topic    string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("collector %s failed for topic %q: %v", f.Provider, f.Topic, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// newClient returns the http client shared by collector implementations
func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// getBody performs the request and returns the response body, treating any
// non-200 status as an error
func getBody(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, req.URL.Host)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", req.URL.Host, err)
	}
	return body, nil
}

var stripPolicy = bluemonday.StrictPolicy()

// stripHTML removes markup and entities from provider text fields so the
// matcher and store see plain text. Providers ship markup both raw and
// entity-escaped (HN escapes story_text), so the input is unescaped before
// sanitizing; the trailing unescape undoes the sanitizer's own re-escaping
// of entity characters in what remains.
func stripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(html.UnescapeString(s))))
}

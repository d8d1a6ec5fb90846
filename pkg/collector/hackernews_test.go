package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerdev/trendradar/pkg/cache"
	"github.com/jerdev/trendradar/pkg/domain"
)

func TestHackerNews_Collect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search_by_date", r.URL.Path)
		assert.Equal(t, "docker", r.URL.Query().Get("query"))
		assert.Equal(t, "story", r.URL.Query().Get("tags"))

		// recency is pushed into the query instead of filtered client-side
		nf := r.URL.Query().Get("numericFilters")
		require.True(t, len(nf) > len("created_at_i>"))
		cutoff, err := strconv.ParseInt(nf[len("created_at_i>"):], 10, 64)
		require.NoError(t, err)
		assert.InDelta(t, time.Now().UTC().AddDate(0, 0, -7).Unix(), cutoff, 60)

		fmt.Fprint(w, `{"hits":[
			{"objectID":"41000001","title":"Docker internals","url":"https://example.com/docker","points":120,"created_at_i":1755000000},
			{"objectID":"41000002","title":"Ask HN: docker alternatives?","url":"","points":15,"story_text":"Looking for &lt;b&gt;lightweight&lt;/b&gt; options","created_at_i":1755000100}
		]}`)
	}))
	defer ts.Close()

	h := NewHackerNews(cache.New(cache.Config{}), HackerNewsConfig{BaseURL: ts.URL})

	events, err := h.Collect(context.Background(), domain.Topic{Name: "docker"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "hackernews", events[0].Source)
	assert.Equal(t, "41000001", events[0].ProviderID)
	assert.Equal(t, "https://example.com/docker", events[0].URL)
	assert.Equal(t, float64(120), events[0].Score)

	// URL-less story links back to the discussion, markup is stripped
	assert.Equal(t, "https://news.ycombinator.com/item?id=41000002", events[1].URL)
	assert.Equal(t, "Looking for lightweight options", events[1].Text)
}

func TestHackerNews_CollectServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	h := NewHackerNews(cache.New(cache.Config{}), HackerNewsConfig{BaseURL: ts.URL})

	_, err := h.Collect(context.Background(), domain.Topic{Name: "docker"})
	require.Error(t, err)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "hackernews", failure.Provider)
}

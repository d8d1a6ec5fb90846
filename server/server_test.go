package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerdev/trendradar/pkg/domain"
	"github.com/jerdev/trendradar/pkg/store"
)

// mockStore records the last filter and serves canned events
type mockStore struct {
	events     []domain.StoredEvent
	stats      map[string]int
	err        error
	lastFilter store.Filter
}

func (m *mockStore) Query(_ context.Context, f store.Filter) ([]domain.StoredEvent, error) {
	m.lastFilter = f
	return m.events, m.err
}

func (m *mockStore) Stats(_ context.Context) (map[string]int, error) {
	return m.stats, m.err
}

func testServer(t *testing.T, db EventStore) *httptest.Server {
	t.Helper()
	topics := []domain.Topic{
		{Name: "devops", Category: "infrastructure", Keywords: []domain.Keyword{{Term: "docker"}, {Term: "kubernetes"}}},
	}
	s := New(db, topics, Config{Listen: "127.0.0.1:0", Timeout: 5 * time.Second, Version: "test"})
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Events(t *testing.T) {
	now := time.Now().UTC()
	db := &mockStore{events: []domain.StoredEvent{
		{Fingerprint: "fp1", Source: "github", Topic: "devops", Category: "infrastructure",
			Title: "kube/operator", URL: "https://github.com/kube/operator", Score: 420,
			FirstSeen: now.Add(-time.Hour), LastSeen: now},
	}}
	ts := testServer(t, db)

	resp, err := http.Get(ts.URL + "/api/v1/events?topic=devops&min_score=100&limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []eventJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "fp1", events[0].Fingerprint)
	assert.Equal(t, "kube/operator", events[0].Title)
	assert.Equal(t, float64(420), events[0].Score)

	assert.Equal(t, "devops", db.lastFilter.Topic)
	assert.Equal(t, float64(100), db.lastFilter.MinScore)
	assert.Equal(t, 10, db.lastFilter.Limit)
}

func TestServer_EventsDefaultLimit(t *testing.T) {
	db := &mockStore{}
	ts := testServer(t, db)

	resp, err := http.Get(ts.URL + "/api/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 100, db.lastFilter.Limit)
}

func TestServer_EventsSinceFilter(t *testing.T) {
	db := &mockStore{}
	ts := testServer(t, db)

	since := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)
	resp, err := http.Get(ts.URL + "/api/v1/events?since=" + since.Format(time.RFC3339))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, db.lastFilter.Since.Equal(since))
}

func TestServer_EventsBadParams(t *testing.T) {
	ts := testServer(t, &mockStore{})

	for _, query := range []string{"since=yesterday", "min_score=high", "limit=-1", "limit=abc"} {
		t.Run(query, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/v1/events?" + query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServer_EventsStoreError(t *testing.T) {
	ts := testServer(t, &mockStore{err: fmt.Errorf("db gone")})

	resp, err := http.Get(ts.URL + "/api/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_Topics(t *testing.T) {
	ts := testServer(t, &mockStore{})

	resp, err := http.Get(ts.URL + "/api/v1/topics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var topics []struct {
		Topic    string   `json:"topic"`
		Category string   `json:"category"`
		Keywords []string `json:"keywords"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&topics))
	require.Len(t, topics, 1)
	assert.Equal(t, "devops", topics[0].Topic)
	assert.Equal(t, "infrastructure", topics[0].Category)
	assert.Equal(t, []string{"docker", "kubernetes"}, topics[0].Keywords)
}

func TestServer_Status(t *testing.T) {
	ts := testServer(t, &mockStore{stats: map[string]int{"github": 3, "reddit": 1}})

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Status  string         `json:"status"`
		Version string         `json:"version"`
		Events  map[string]int `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, map[string]int{"github": 3, "reddit": 1}, status.Events)
}

func TestServer_Ping(t *testing.T) {
	ts := testServer(t, &mockStore{})

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RunShutdown(t *testing.T) {
	s := New(&mockStore{}, nil, Config{Listen: "127.0.0.1:0", Timeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err, "server must exit cleanly on context cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerdev/trendradar/pkg/domain"
)

func testEvent() *domain.StoredEvent {
	return &domain.StoredEvent{
		Source:     "github",
		ProviderID: "12345",
		Topic:      "devops",
		Category:   "infrastructure",
		Title:      "kubernetes operator framework",
		URL:        "https://github.com/some/repo",
		Score:      42,
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("github", "12345", "devops")
	assert.Len(t, fp, 64)

	// case insensitive and stable
	assert.Equal(t, fp, Fingerprint("GitHub", "12345", "DevOps"))
	assert.Equal(t, fp, Fingerprint("github", "12345", "devops"))

	// any identity component changes the fingerprint
	assert.NotEqual(t, fp, Fingerprint("reddit", "12345", "devops"))
	assert.NotEqual(t, fp, Fingerprint("github", "67890", "devops"))
	assert.NotEqual(t, fp, Fingerprint("github", "12345", "databases"))
}

func TestStore_UpsertInsertThenUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent()
	res, err := s.Upsert(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Inserted, res)
	assert.NotEmpty(t, ev.Fingerprint)
	assert.NotZero(t, ev.ID)
	assert.False(t, ev.FirstSeen.IsZero())
	assert.Equal(t, ev.FirstSeen, ev.LastSeen)

	firstSeen := ev.FirstSeen
	time.Sleep(10 * time.Millisecond)

	// same identity with a new score refreshes the existing row
	again := testEvent()
	again.Score = 50
	res, err = s.Upsert(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)
	assert.Equal(t, ev.Fingerprint, again.Fingerprint, "score change must not move the fingerprint")

	events, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1, "idempotent re-run keeps a single row")
	assert.Equal(t, float64(50), events[0].Score)
	assert.Equal(t, firstSeen.Unix(), events[0].FirstSeen.Unix(), "first_seen is immutable")
	assert.True(t, events[0].LastSeen.After(events[0].FirstSeen))
}

func TestStore_UpsertMultiTopicFanOut(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// the same external item classified into two topics gets two rows
	ev1 := testEvent()
	ev2 := testEvent()
	ev2.Topic, ev2.Category = "databases", "storage"

	for _, ev := range []*domain.StoredEvent{ev1, ev2} {
		res, err := s.Upsert(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, Inserted, res)
	}
	assert.NotEqual(t, ev1.Fingerprint, ev2.Fingerprint)

	events, err := s.Query(ctx, Filter{Source: "github"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStore_UpsertConcurrentSameFingerprint(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Upsert(ctx, testEvent())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 1, "concurrent upserts of one identity collapse to one row")
}

func TestStore_Query(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seed := []*domain.StoredEvent{
		{Source: "github", ProviderID: "1", Topic: "devops", Title: "a", URL: "https://x/1", Score: 10},
		{Source: "github", ProviderID: "2", Topic: "databases", Title: "b", URL: "https://x/2", Score: 80},
		{Source: "hackernews", ProviderID: "3", Topic: "devops", Title: "c", URL: "https://x/3", Score: 250},
	}
	for _, ev := range seed {
		_, err := s.Upsert(ctx, ev)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond) // distinct last_seen for ordering checks
	}

	t.Run("no filter returns all, newest first", func(t *testing.T) {
		events, err := s.Query(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "3", events[0].ProviderID)
		assert.Equal(t, "1", events[2].ProviderID)
	})

	t.Run("by topic", func(t *testing.T) {
		events, err := s.Query(ctx, Filter{Topic: "devops"})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by source", func(t *testing.T) {
		events, err := s.Query(ctx, Filter{Source: "hackernews"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "3", events[0].ProviderID)
	})

	t.Run("by min score", func(t *testing.T) {
		events, err := s.Query(ctx, Filter{MinScore: 50})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by since", func(t *testing.T) {
		events, err := s.Query(ctx, Filter{Since: time.Now().UTC().Add(-time.Hour)})
		require.NoError(t, err)
		assert.Len(t, events, 3)

		events, err = s.Query(ctx, Filter{Since: time.Now().UTC().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("limit", func(t *testing.T) {
		events, err := s.Query(ctx, Filter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("combined filters", func(t *testing.T) {
		events, err := s.Query(ctx, Filter{Topic: "devops", Source: "github"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "1", events[0].ProviderID)
	})
}

func TestStore_MarkNotified(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent()
	_, err := s.Upsert(ctx, ev)
	require.NoError(t, err)

	require.NoError(t, s.MarkNotified(ctx, ev.Fingerprint))

	events, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Notified)

	err = s.MarkNotified(ctx, "deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no event with fingerprint")
}

func TestStore_Stats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := testEvent()
		ev.ProviderID = fmt.Sprintf("gh-%d", i)
		_, err := s.Upsert(ctx, ev)
		require.NoError(t, err)
	}
	hn := testEvent()
	hn.Source, hn.ProviderID = "hackernews", "hn-1"
	_, err := s.Upsert(ctx, hn)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"github": 3, "hackernews": 1}, stats)
}

func TestUpsertResult_String(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "updated", Updated.String())
}

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"

	"github.com/jerdev/trendradar/pkg/domain"
)

// UpsertResult reports whether an upsert created a new row or refreshed an
// existing one.
type UpsertResult int

// upsert outcomes
const (
	Inserted UpsertResult = iota
	Updated
)

func (r UpsertResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "updated"
}

// Filter narrows Query results. Zero values mean "no constraint".
type Filter struct {
	Topic    string
	Source   string
	Since    time.Time
	MinScore float64
	Limit    int
}

// eventSQL represents a stored event for SQL operations
type eventSQL struct {
	ID          int64     `db:"id"`
	Fingerprint string    `db:"fingerprint"`
	Source      string    `db:"source"`
	ProviderID  string    `db:"provider_id"`
	Topic       string    `db:"topic"`
	Category    string    `db:"category"`
	Title       string    `db:"title"`
	URL         string    `db:"url"`
	Score       float64   `db:"score"`
	FirstSeen   time.Time `db:"first_seen"`
	LastSeen    time.Time `db:"last_seen"`
	Notified    bool      `db:"notified"`
}

// Fingerprint computes the stable identity hash for a stored event.
// It covers source, provider-native id and topic, never mutable fields
// like score: the same external item legitimately gets one row per topic
// it matches, and score changes between polls must land on the same row.
func Fingerprint(source, providerID, topic string) string {
	h := sha256.Sum256([]byte(strings.ToLower(source + ":" + providerID + ":" + topic)))
	return hex.EncodeToString(h[:])
}

// Upsert inserts the event on first sight and refreshes last_seen and
// score on every later one, leaving first_seen untouched. The fingerprint
// is computed here, callers only fill the identity and payload fields.
func (s *Store) Upsert(ctx context.Context, ev *domain.StoredEvent) (UpsertResult, error) {
	ev.Fingerprint = Fingerprint(ev.Source, ev.ProviderID, ev.Topic)
	now := time.Now().UTC()

	lock := s.lockFor(ev.Fingerprint)
	lock.Lock()
	defer lock.Unlock()

	res := Inserted
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	err := retrier.Do(ctx, func() error {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM events WHERE fingerprint = ?)", ev.Fingerprint); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("check event exists: %w", err)}
		}

		if exists {
			res = Updated
			_, err := s.db.ExecContext(ctx,
				"UPDATE events SET last_seen = ?, score = ? WHERE fingerprint = ?",
				now, ev.Score, ev.Fingerprint)
			if err != nil {
				if isLockError(err) {
					return err // retry
				}
				return &criticalError{err: fmt.Errorf("update event: %w", err)}
			}
			ev.LastSeen = now
			return nil
		}

		ev.FirstSeen, ev.LastSeen = now, now
		sqlEvent := toSQLEvent(ev)
		query := `
			INSERT INTO events (fingerprint, source, provider_id, topic, category, title, url, score, first_seen, last_seen)
			VALUES (:fingerprint, :source, :provider_id, :topic, :category, :title, :url, :score, :first_seen, :last_seen)
		`
		result, err := s.db.NamedExecContext(ctx, query, sqlEvent)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("insert event: %w", err)}
		}

		id, err := result.LastInsertId()
		if err != nil {
			return &criticalError{err: fmt.Errorf("get insert id: %w", err)}
		}
		ev.ID = id
		return nil
	})

	if err != nil {
		return res, fmt.Errorf("upsert event %s/%s: %w: %w", ev.Source, ev.ProviderID, ErrUnavailable, err)
	}
	return res, nil
}

// Query retrieves stored events matching the filter, ordered by last_seen
// descending. Consumed by ranking and notification collaborators.
func (s *Store) Query(ctx context.Context, f Filter) ([]domain.StoredEvent, error) {
	query := "SELECT * FROM events WHERE 1=1"
	var args []interface{}

	if f.Topic != "" {
		query += " AND topic = ?"
		args = append(args, f.Topic)
	}
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, f.Source)
	}
	if !f.Since.IsZero() {
		query += " AND last_seen >= ?"
		args = append(args, f.Since)
	}
	if f.MinScore > 0 {
		query += " AND score >= ?"
		args = append(args, f.MinScore)
	}
	query += " ORDER BY last_seen DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var sqlEvents []eventSQL
	if err := s.db.SelectContext(ctx, &sqlEvents, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]domain.StoredEvent, len(sqlEvents))
	for i, e := range sqlEvents {
		events[i] = toDomainEvent(&e)
	}
	return events, nil
}

// MarkNotified flags an event as delivered so notification consumers can
// deduplicate their own output.
func (s *Store) MarkNotified(ctx context.Context, fingerprint string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE events SET notified = 1 WHERE fingerprint = ?", fingerprint)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no event with fingerprint %s", fingerprint)
	}
	return nil
}

// Stats returns stored event counts per source
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows := []struct {
		Source string `db:"source"`
		Count  int    `db:"cnt"`
	}{}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT source, COUNT(*) AS cnt FROM events GROUP BY source"); err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	stats := make(map[string]int, len(rows))
	for _, r := range rows {
		stats[r.Source] = r.Count
	}
	return stats, nil
}

func toSQLEvent(ev *domain.StoredEvent) *eventSQL {
	return &eventSQL{
		ID:          ev.ID,
		Fingerprint: ev.Fingerprint,
		Source:      ev.Source,
		ProviderID:  ev.ProviderID,
		Topic:       ev.Topic,
		Category:    ev.Category,
		Title:       ev.Title,
		URL:         ev.URL,
		Score:       ev.Score,
		FirstSeen:   ev.FirstSeen,
		LastSeen:    ev.LastSeen,
		Notified:    ev.Notified,
	}
}

func toDomainEvent(e *eventSQL) domain.StoredEvent {
	return domain.StoredEvent{
		ID:          e.ID,
		Fingerprint: e.Fingerprint,
		Source:      e.Source,
		ProviderID:  e.ProviderID,
		Topic:       e.Topic,
		Category:    e.Category,
		Title:       e.Title,
		URL:         e.URL,
		Score:       e.Score,
		FirstSeen:   e.FirstSeen,
		LastSeen:    e.LastSeen,
		Notified:    e.Notified,
	}
}

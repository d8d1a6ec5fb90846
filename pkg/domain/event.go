package domain

import "time"

// CandidateEvent is a raw item returned by a collector before topic
// classification. It exists only within a single ingestion run.
type CandidateEvent struct {
	Source     string // provider identifier: github, hackernews, reddit, feeds
	ProviderID string // provider-native id, stable across polls
	Title      string
	Text       string // additional searchable text, may be empty
	URL        string
	Score      float64 // provider-specific: stars, points, upvotes
	Timestamp  time.Time
}

// StoredEvent is the persisted form of a classified candidate event.
// Fingerprint is unique in the store; a repeated upsert with the same
// fingerprint refreshes LastSeen and Score in place.
type StoredEvent struct {
	ID          int64
	Fingerprint string
	Source      string
	ProviderID  string
	Topic       string
	Category    string
	Title       string
	URL         string
	Score       float64
	FirstSeen   time.Time
	LastSeen    time.Time
	Notified    bool
}

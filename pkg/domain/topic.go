package domain

// Topic is a named technology category with keyword rules.
// Loaded once per run from configuration and never mutated after that.
type Topic struct {
	Name     string
	Category string
	Keywords []Keyword
}

// Keyword is a single matching rule for a topic. Term is matched
// case-insensitively as a substring by default; WholeWord restricts the
// match to word boundaries for short ambiguous terms like "go" or "ray".
type Keyword struct {
	Term      string
	WholeWord bool
}

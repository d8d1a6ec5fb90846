package matcher

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/jerdev/trendradar/pkg/domain"
)

// Matcher classifies candidate events by testing configured topic keyword
// rules against the event's searchable text. Matching is not exclusive:
// an event may match several topics and the result does not depend on the
// order of the topic list.
type Matcher struct {
	rules []rule
}

// Match is a single topic hit for an event
type Match struct {
	Topic    string
	Category string
}

type rule struct {
	topic    string
	category string
	term     string         // lowercase, used for substring matching
	re       *regexp.Regexp // set for whole-word keywords
}

// New builds a matcher from the configured topics, precompiling whole-word
// patterns. Substring matching is the default so compound terms like
// "devops" still hit inside "platform-devops-tools".
func New(topics []domain.Topic) (*Matcher, error) {
	m := &Matcher{}
	for _, t := range topics {
		for _, kw := range t.Keywords {
			term := strings.ToLower(strings.TrimSpace(kw.Term))
			if term == "" {
				return nil, fmt.Errorf("topic %q has an empty keyword", t.Name)
			}
			r := rule{topic: t.Name, category: t.Category, term: term}
			if kw.WholeWord {
				// explicit non-alphanumeric boundaries instead of \b: terms
				// like "c++" have non-word edges where \b never matches
				re, err := regexp.Compile(`(^|[^a-z0-9])` + regexp.QuoteMeta(term) + `([^a-z0-9]|$)`)
				if err != nil {
					return nil, fmt.Errorf("topic %q keyword %q: %w", t.Name, kw.Term, err)
				}
				r.re = re
			}
			m.rules = append(m.rules, r)
		}
	}
	return m, nil
}

// Classify returns all topics whose keyword rules match the event text.
// An empty result means the event should be dropped, it is not an error.
func (m *Matcher) Classify(ev domain.CandidateEvent) []Match {
	text := strings.ToLower(ev.Title + " " + ev.Text)

	var matches []Match
	seen := map[string]bool{}
	for _, r := range m.rules {
		if seen[r.topic] {
			continue // one keyword hit per topic is enough
		}
		if r.matches(text) {
			matches = append(matches, Match{Topic: r.topic, Category: r.category})
			seen[r.topic] = true
		}
	}
	return matches
}

// Validate rejects events too malformed to classify or store: missing
// title, missing provider id or a non-http URL.
func (m *Matcher) Validate(ev domain.CandidateEvent) error {
	if strings.TrimSpace(ev.Title) == "" {
		return fmt.Errorf("event %s/%s has no title", ev.Source, ev.ProviderID)
	}
	if ev.ProviderID == "" {
		return fmt.Errorf("event %q from %s has no provider id", ev.Title, ev.Source)
	}
	u, err := url.Parse(ev.URL)
	if err != nil {
		return fmt.Errorf("event %s/%s has unparsable url: %w", ev.Source, ev.ProviderID, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("event %s/%s has non-http url %q", ev.Source, ev.ProviderID, ev.URL)
	}
	return nil
}

func (r rule) matches(text string) bool {
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.term)
}

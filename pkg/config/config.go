package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jerdev/trendradar/pkg/cache"
	"github.com/jerdev/trendradar/pkg/domain"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:trendradar.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Cache struct {
		TTL         time.Duration `yaml:"ttl" json:"ttl" jsonschema:"default=3h,description=How long cached provider responses stay fresh"`
		NegativeTTL time.Duration `yaml:"negative_ttl" json:"negative_ttl" jsonschema:"default=30s,description=How long provider failures are remembered"`
	} `yaml:"cache" json:"cache" jsonschema:"description=Request cache configuration"`

	Run struct {
		MaxWorkers int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=4,description=Maximum concurrent (topic collector) units"`
		Timeout    time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=15m,description=Run-level timeout"`
		DaysLimit  int           `yaml:"days_limit" json:"days_limit" jsonschema:"default=7,description=Ignore items older than this many days"`
	} `yaml:"run" json:"run" jsonschema:"description=Ingestion run configuration"`

	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Read API server configuration"`

	Providers struct {
		GitHub     GitHubProvider  `yaml:"github" json:"github" jsonschema:"description=GitHub repository search"`
		HackerNews GenericProvider `yaml:"hackernews" json:"hackernews" jsonschema:"description=Hacker News Algolia search"`
		Reddit     GenericProvider `yaml:"reddit" json:"reddit" jsonschema:"description=Reddit post search"`
		Feeds      FeedsProvider   `yaml:"feeds" json:"feeds" jsonschema:"description=RSS/Atom launch-catalog feeds"`
	} `yaml:"providers" json:"providers" jsonschema:"description=Source provider configuration"`

	Topics []Topic `yaml:"topics" json:"topics" jsonschema:"required,description=Topics with keyword rules"`
}

// Rate describes a provider's rate-limit window
type Rate struct {
	Calls   int           `yaml:"calls" json:"calls" jsonschema:"description=Maximum calls per window; 0 disables limiting"`
	Window  time.Duration `yaml:"window" json:"window" jsonschema:"default=1m,description=Limiting window"`
	MaxWait time.Duration `yaml:"max_wait" json:"max_wait" jsonschema:"default=2m,description=Maximum time to wait for a window reset"`
}

// GitHubProvider holds GitHub collector settings
type GitHubProvider struct {
	Enabled bool   `yaml:"enabled" json:"enabled" jsonschema:"default=false"`
	Token   string `yaml:"token" json:"token" jsonschema:"description=API token; supports $ENV expansion"`
	Pages   int    `yaml:"pages" json:"pages" jsonschema:"default=2,description=Search pages per topic"`
	Rate    Rate   `yaml:"rate" json:"rate"`
}

// GenericProvider holds settings shared by simple search providers
type GenericProvider struct {
	Enabled  bool `yaml:"enabled" json:"enabled" jsonschema:"default=false"`
	MaxItems int  `yaml:"max_items" json:"max_items" jsonschema:"default=50,description=Maximum items per topic query"`
	Rate     Rate `yaml:"rate" json:"rate"`
}

// FeedsProvider holds RSS/Atom feed collector settings
type FeedsProvider struct {
	Enabled bool     `yaml:"enabled" json:"enabled" jsonschema:"default=false"`
	URLs    []string `yaml:"urls" json:"urls" jsonschema:"description=Feed URLs to poll"`
	Rate    Rate     `yaml:"rate" json:"rate"`
}

// Topic is one configured topic with keyword rules
type Topic struct {
	Topic    string    `yaml:"topic" json:"topic" jsonschema:"required,description=Topic identifier"`
	Category string    `yaml:"category" json:"category" jsonschema:"description=Optional topic category"`
	Keywords []Keyword `yaml:"keywords" json:"keywords" jsonschema:"required,description=Keyword rules"`
}

// Keyword is a single keyword rule. In YAML it is either a plain string
// (substring match) or a mapping {term: go, word: true} for whole-word
// matching of short ambiguous terms.
type Keyword struct {
	Term string `json:"term"`
	Word bool   `json:"word,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the mapping form
func (k *Keyword) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&k.Term)
	case yaml.MappingNode:
		var aux struct {
			Term string `yaml:"term"`
			Word bool   `yaml:"word"`
		}
		if err := value.Decode(&aux); err != nil {
			return err
		}
		k.Term, k.Word = aux.Term, aux.Word
		return nil
	default:
		return fmt.Errorf("keyword must be a string or a {term, word} mapping")
	}
}

// MarshalYAML renders the short form when possible
func (k Keyword) MarshalYAML() (interface{}, error) {
	if !k.Word {
		return k.Term, nil
	}
	return map[string]interface{}{"term": k.Term, "word": true}, nil
}

// Load reads configuration from a YAML file. Provider secrets referenced
// as $VARS are expanded from the environment here, nothing downstream
// reads the environment directly.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:trendradar.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 3 * time.Hour
	}
	if cfg.Cache.NegativeTTL == 0 {
		cfg.Cache.NegativeTTL = 30 * time.Second
	}

	if cfg.Run.MaxWorkers == 0 {
		cfg.Run.MaxWorkers = 4
	}
	if cfg.Run.Timeout == 0 {
		cfg.Run.Timeout = 15 * time.Minute
	}
	if cfg.Run.DaysLimit == 0 {
		cfg.Run.DaysLimit = 7
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	for _, r := range []*Rate{
		&cfg.Providers.GitHub.Rate, &cfg.Providers.HackerNews.Rate,
		&cfg.Providers.Reddit.Rate, &cfg.Providers.Feeds.Rate,
	} {
		if r.Window == 0 {
			r.Window = time.Minute
		}
		if r.MaxWait == 0 {
			r.MaxWait = 2 * time.Minute
		}
	}

	if cfg.Providers.GitHub.Pages == 0 {
		cfg.Providers.GitHub.Pages = 2
	}
	if cfg.Providers.HackerNews.MaxItems == 0 {
		cfg.Providers.HackerNews.MaxItems = 50
	}
	if cfg.Providers.Reddit.MaxItems == 0 {
		cfg.Providers.Reddit.MaxItems = 100
	}
}

// validate checks configuration for correctness. Topic problems are fatal:
// no events can be classified without a usable topic list.
func validate(cfg *Config) error {
	if len(cfg.Topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}
	seen := map[string]bool{}
	for i, t := range cfg.Topics {
		if t.Topic == "" {
			return fmt.Errorf("topic #%d has no name", i+1)
		}
		if seen[t.Topic] {
			return fmt.Errorf("duplicate topic %q", t.Topic)
		}
		seen[t.Topic] = true
		if len(t.Keywords) == 0 {
			return fmt.Errorf("topic %q has no keywords", t.Topic)
		}
		for _, kw := range t.Keywords {
			if kw.Term == "" {
				return fmt.Errorf("topic %q has an empty keyword", t.Topic)
			}
		}
	}

	p := cfg.Providers
	if !p.GitHub.Enabled && !p.HackerNews.Enabled && !p.Reddit.Enabled && !p.Feeds.Enabled {
		return fmt.Errorf("at least one provider must be enabled")
	}
	if p.GitHub.Enabled && p.GitHub.Token == "" {
		return fmt.Errorf("providers.github.token is required when github is enabled")
	}
	if p.Feeds.Enabled && len(p.Feeds.URLs) == 0 {
		return fmt.Errorf("providers.feeds.urls is required when feeds is enabled")
	}
	return nil
}

// DomainTopics converts configured topics to their domain form
func (cfg *Config) DomainTopics() []domain.Topic {
	topics := make([]domain.Topic, len(cfg.Topics))
	for i, t := range cfg.Topics {
		keywords := make([]domain.Keyword, len(t.Keywords))
		for j, kw := range t.Keywords {
			keywords[j] = domain.Keyword{Term: kw.Term, WholeWord: kw.Word}
		}
		topics[i] = domain.Topic{Name: t.Topic, Category: t.Category, Keywords: keywords}
	}
	return topics
}

// CacheLimits builds the per-provider rate-limit table for the cache
func (cfg *Config) CacheLimits() map[string]cache.Limit {
	limits := map[string]cache.Limit{}
	add := func(provider string, enabled bool, r Rate) {
		if enabled && r.Calls > 0 {
			limits[provider] = cache.Limit{Calls: r.Calls, Window: r.Window, MaxWait: r.MaxWait}
		}
	}
	add("github", cfg.Providers.GitHub.Enabled, cfg.Providers.GitHub.Rate)
	add("hackernews", cfg.Providers.HackerNews.Enabled, cfg.Providers.HackerNews.Rate)
	add("reddit", cfg.Providers.Reddit.Enabled, cfg.Providers.Reddit.Rate)
	add("feeds", cfg.Providers.Feeds.Enabled, cfg.Providers.Feeds.Rate)
	return limits
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/jerdev/trendradar/pkg/cache"
	"github.com/jerdev/trendradar/pkg/collector"
	"github.com/jerdev/trendradar/pkg/config"
	"github.com/jerdev/trendradar/pkg/matcher"
	"github.com/jerdev/trendradar/pkg/runner"
	"github.com/jerdev/trendradar/pkg/store"
	"github.com/jerdev/trendradar/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"trendradar.yml" description:"config file"`
	Serve  bool   `long:"serve" env:"SERVE" description:"keep serving the read API after the run"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

// exit codes: 0 success or partial success, 1 config error, 2 store unavailable
const (
	exitOK          = 0
	exitConfigError = 1
	exitStoreError  = 2
)

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(exitOK)
		}
		os.Exit(exitConfigError)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(exitOK)
	}

	setupLog(opts.Debug, opts.NoColor)

	log.Printf("[INFO] starting trendradar version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	err := run(ctx, opts)
	cancel()

	switch {
	case err == nil:
		log.Print("[INFO] shutdown complete")
	case errors.Is(err, store.ErrUnavailable):
		log.Printf("[ERROR] %v", err)
		os.Exit(exitStoreError)
	default:
		log.Printf("[ERROR] %v", err)
		os.Exit(exitConfigError)
	}
}

// run performs one full ingestion pass and, with --serve, keeps the read
// API up until the context is canceled
func run(ctx context.Context, opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if token := cfg.Providers.GitHub.Token; token != "" {
		setupLog(opts.Debug, opts.NoColor, token) // keep the token out of logs
	}

	topics := cfg.DomainTopics()

	m, err := matcher.New(topics)
	if err != nil {
		return fmt.Errorf("failed to build matcher: %w", err)
	}

	st, err := store.New(ctx, store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to open event store: %w: %w", store.ErrUnavailable, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	requestCache := cache.New(cache.Config{
		TTL:         cfg.Cache.TTL,
		NegativeTTL: cfg.Cache.NegativeTTL,
		Limits:      cfg.CacheLimits(),
	})

	r := runner.New(runner.Config{
		Store:      st,
		Matcher:    m,
		Collectors: makeCollectors(cfg, requestCache),
		Topics:     topics,
		MaxWorkers: cfg.Run.MaxWorkers,
		Timeout:    cfg.Run.Timeout,
	})

	summary, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}
	log.Printf("[INFO] run summary: %s", summary)

	if !opts.Serve {
		return nil
	}

	srv := server.New(st, topics, server.Config{
		Listen:  cfg.Server.Listen,
		Timeout: cfg.Server.Timeout,
		Version: revision,
		Debug:   opts.Debug,
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// makeCollectors builds the static provider registry from configuration
func makeCollectors(cfg *config.Config, c *cache.Cache) []collector.Collector {
	var collectors []collector.Collector

	if cfg.Providers.GitHub.Enabled {
		collectors = append(collectors, collector.NewGitHub(c, collector.GitHubConfig{
			Token:     cfg.Providers.GitHub.Token,
			Pages:     cfg.Providers.GitHub.Pages,
			DaysLimit: cfg.Run.DaysLimit,
		}))
	}
	if cfg.Providers.HackerNews.Enabled {
		collectors = append(collectors, collector.NewHackerNews(c, collector.HackerNewsConfig{
			MaxStories: cfg.Providers.HackerNews.MaxItems,
			DaysLimit:  cfg.Run.DaysLimit,
		}))
	}
	if cfg.Providers.Reddit.Enabled {
		collectors = append(collectors, collector.NewReddit(c, collector.RedditConfig{
			Limit: cfg.Providers.Reddit.MaxItems,
		}))
	}
	if cfg.Providers.Feeds.Enabled {
		collectors = append(collectors, collector.NewFeeds(c, collector.FeedsConfig{
			URLs:      cfg.Providers.Feeds.URLs,
			DaysLimit: cfg.Run.DaysLimit,
		}))
	}

	return collectors
}

func setupLog(dbg, noColor bool, secs ...string) {
	lgr.SetupStdLogger(logOpts(dbg, noColor, secs...)...)
	lgr.Setup(logOpts(dbg, noColor, secs...)...)
}

func logOpts(dbg, noColor bool, secs ...string) []lgr.Option {
	opts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		opts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		opts = append(opts, lgr.Map(colorizer))
	}
	if len(secs) > 0 {
		opts = append(opts, lgr.Secret(secs...))
	}
	return opts
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/JanSparnaaij/ScoritoOdds/internal/cycling"
	"github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers"
	pkgconfig "github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/logging"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/normalizer"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/renderer"

	// Register the sport fetchers via init().
	_ "github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers/all"
)

const defaultConfigPath = "configs/config.yaml"

type config struct {
	configPath string
	source     string
	cyclingSet string
	timeout    time.Duration
}

// fetch runs one fetch without cache or lock and prints the result as JSON.
func main() {
	if err := run(); err != nil {
		slog.Error("Fetch failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()
	if (cfg.source == "") == (cfg.cyclingSet == "") {
		flag.Usage()
		return errors.New("exactly one of -source or -cycling is required")
	}

	appConfig, err := pkgconfig.Load(cfg.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.SetupLogger(&appConfig.Logging, "fetch")
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	tables, err := pkgconfig.LoadTables(appConfig.Tables)
	if err != nil {
		return fmt.Errorf("failed to load tables: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	var out any
	if cfg.cyclingSet != "" {
		out, err = fetchCycling(ctx, appConfig, tables, cfg.cyclingSet, logger)
	} else {
		out, err = fetchMatches(ctx, appConfig, tables, cfg.source, logger)
	}
	if err != nil {
		return err
	}

	data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func fetchMatches(ctx context.Context, appConfig *pkgconfig.Config, tables *pkgconfig.Tables, key string, logger *slog.Logger) (any, error) {
	desc, ok := tables.Source(key)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", key)
	}

	pool := renderer.NewPool(1, func(context.Context) (renderer.Session, error) {
		s, err := renderer.NewBrowserSession(appConfig.Renderer, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, logger)
	r := renderer.New(pool, logger)
	defer r.Close()

	factory, ok := parsers.FactoryFor(desc.Sport)
	if !ok {
		return nil, fmt.Errorf("no fetcher for sport %q", desc.Sport)
	}
	f := factory(parsers.Deps{
		Page:       r,
		Normalizer: normalizer.New(tables, normalizer.WithLogger(logger)),
		Logger:     logger,
	})

	start := time.Now()
	records, err := parsers.FetchAndNormalize(ctx, f, desc)
	if err != nil {
		return nil, err
	}
	logger.Info("Fetched", "source_key", desc.Key, "records", len(records), "duration", time.Since(start))
	return records, nil
}

func fetchCycling(ctx context.Context, appConfig *pkgconfig.Config, tables *pkgconfig.Tables, set string, logger *slog.Logger) (any, error) {
	races, ok := tables.CyclingSet(set)
	if !ok {
		return nil, fmt.Errorf("unknown cycling set %q", set)
	}
	client := cycling.NewClient(appConfig.Cycling, logger)
	raw := cycling.FetchAll(ctx, client, races, appConfig.Cycling.Concurrency)
	return cycling.Process(set, raw), nil
}

func parseFlags() config {
	var cfg config

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = defaultConfigPath
	}

	flag.StringVar(&cfg.configPath, "config", defaultConfig, "Path to config file (can be set via CONFIG_PATH env var)")
	flag.StringVar(&cfg.source, "source", "", "Source key to fetch (e.g. eredivisie)")
	flag.StringVar(&cfg.cyclingSet, "cycling", "", "Cycling startlist set to fetch instead of a source")
	flag.DurationVar(&cfg.timeout, "timeout", 3*time.Minute, "Overall deadline")
	flag.Parse()
	return cfg
}

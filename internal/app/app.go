// Package app builds the shared components of the service binaries from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-normalizer/internal/database"
	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/extraction"
	"github.com/biomarker-normalizer/internal/repository"
	"github.com/biomarker-normalizer/internal/review"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

const healthTimeout = 2 * time.Second

// NewLogger creates the process logger. Output is "stdout", "stderr" or a
// file path opened for appending.
func NewLogger(cfg domain.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	if strings.ToLower(cfg.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
	}
	logger.SetOutput(out)

	return logger, nil
}

// NewMatcher loads the taxonomy, the built-in one unless a YAML override is
// configured, and builds a matcher over it.
func NewMatcher(cfg *domain.Config) (*biomarker.Matcher, error) {
	taxonomy := biomarker.DefaultTaxonomy()

	if cfg.Taxonomy.File != "" {
		f, err := os.Open(cfg.Taxonomy.File)
		if err != nil {
			return nil, fmt.Errorf("opening taxonomy file: %w", err)
		}
		defer f.Close()

		taxonomy, err = biomarker.LoadTaxonomyYAML(f)
		if err != nil {
			return nil, fmt.Errorf("loading taxonomy %s: %w", cfg.Taxonomy.File, err)
		}
	}

	return biomarker.NewMatcher(taxonomy, biomarker.WithMemo(cfg.Matcher.MemoSize))
}

// Stores holds the persistence components of the configured database
type Stores struct {
	Repository  domain.TestResultRepository
	Corrections review.Store
	// Checks test the stores for the health endpoint
	Checks map[string]func(ctx context.Context) error
	// Stats report connection pool usage for the health endpoint
	Stats   map[string]func() database.PoolStats
	closers []func() error
}

// Close releases every store, returning the first error
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStores connects the test result repository and correction store of
// the configured driver. For PostgreSQL the embedded migrations run first
// when migrations_auto is set.
func OpenStores(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*Stores, error) {
	dc := cfg.Database
	stores := &Stores{
		Checks: make(map[string]func(ctx context.Context) error),
		Stats:  make(map[string]func() database.PoolStats),
	}

	switch dc.Driver {
	case domain.DatabaseDriverSQLite, "":
		repo, err := repository.NewSQLiteTestResultRepository(dc.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite repository: %w", err)
		}
		stores.closers = append(stores.closers, repo.Close)

		corrections, err := review.NewSQLiteStoreFromDB(repo.DB())
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("opening sqlite correction store: %w", err)
		}
		stores.Repository = repo
		stores.Corrections = corrections
		stores.Checks["database"] = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, healthTimeout)
			defer cancel()
			return repo.DB().PingContext(ctx)
		}
		stores.Stats["database"] = func() database.PoolStats {
			return database.PoolStatsFromSQL(repo.DB().Stats())
		}

		logger.WithField("path", dc.SQLitePath).Info("Using SQLite database")

	case domain.DatabaseDriverPostgres:
		if dc.MigrationsAuto {
			if err := Migrate(ctx, dc, logger, false); err != nil {
				return nil, err
			}
		}

		db, err := database.NewConnection(ctx, database.ConfigFromDomain(dc), logger)
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, func() error {
			db.Close()
			return nil
		})

		corrections, err := review.NewPostgresStoreFromURL(database.ConfigFromDomain(dc).URL(), dc.MaxOpenConns, dc.MaxIdleConns, dc.ConnMaxLifetime)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("opening postgres correction store: %w", err)
		}
		stores.closers = append(stores.closers, corrections.Close)

		stores.Repository = repository.NewTestResultRepository(db.Pool, logger)
		stores.Corrections = corrections
		stores.Checks["database"] = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, healthTimeout)
			defer cancel()
			return db.Health(ctx)
		}
		stores.Stats["database"] = db.Stats

	default:
		return nil, fmt.Errorf("unsupported database driver %q", dc.Driver)
	}

	return stores, nil
}

// Migrate applies the embedded PostgreSQL migrations, or with down set rolls
// back the most recent one.
func Migrate(ctx context.Context, dc domain.DatabaseConfig, logger *logrus.Logger, down bool) error {
	return withMigrationRunner(dc, logger, func(runner *database.MigrationRunner) error {
		if down {
			return runner.Down(ctx)
		}
		return runner.Up(ctx)
	})
}

// SchemaVersion reports the applied PostgreSQL schema version
func SchemaVersion(dc domain.DatabaseConfig, logger *logrus.Logger) (database.SchemaVersion, error) {
	var v database.SchemaVersion
	err := withMigrationRunner(dc, logger, func(runner *database.MigrationRunner) error {
		var err error
		v, err = runner.Version()
		return err
	})
	return v, err
}

func withMigrationRunner(dc domain.DatabaseConfig, logger *logrus.Logger, fn func(*database.MigrationRunner) error) error {
	if dc.Driver != domain.DatabaseDriverPostgres {
		return fmt.Errorf("migrations apply to the %s driver only, configured driver is %q", domain.DatabaseDriverPostgres, dc.Driver)
	}

	runner, err := database.NewEmbeddedMigrationRunner(database.ConfigFromDomain(dc).URL(), logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return fn(runner)
}

// Extraction is the configured extraction client and its optional cache
type Extraction struct {
	Client domain.ExtractionClient
	// Check pings the cache, nil without one
	Check func(ctx context.Context) error
	cache *extraction.CacheClient
}

// Close releases the cache connection, if any
func (e *Extraction) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// NewExtraction creates the extraction client, wrapped in the Redis response
// cache when caching is enabled
func NewExtraction(cfg *domain.Config, logger *logrus.Logger) (*Extraction, error) {
	client := extraction.NewClient(cfg.Extraction, logger)
	out := &Extraction{Client: client}

	if !cfg.Cache.Enabled {
		return out, nil
	}

	cache, err := extraction.NewCacheClient(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("connecting extraction cache: %w", err)
	}
	out.cache = cache
	out.Client = extraction.NewCachedClient(client, cache, client.Model(), cfg.Cache.DefaultTTL, logger)
	out.Check = func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		return cache.Ping(ctx)
	}

	logger.WithField("ttl", cfg.Cache.DefaultTTL).Info("Extraction response cache enabled")
	return out, nil
}

// Package bootstrap builds the service's collaborators from a Config. Optional
// integrations (object store, preview queue, MQTT, ClickHouse, exiftool) are
// skipped with a log line when unconfigured or unreachable.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/vanguard/internal/api"
	"github.com/dharsanguruparan/vanguard/internal/classify"
	"github.com/dharsanguruparan/vanguard/internal/config"
	"github.com/dharsanguruparan/vanguard/internal/database"
	"github.com/dharsanguruparan/vanguard/internal/events"
	"github.com/dharsanguruparan/vanguard/internal/geo"
	"github.com/dharsanguruparan/vanguard/internal/intake"
	"github.com/dharsanguruparan/vanguard/internal/logging"
	"github.com/dharsanguruparan/vanguard/internal/model"
	"github.com/dharsanguruparan/vanguard/internal/processing"
	"github.com/dharsanguruparan/vanguard/internal/queue"
	"github.com/dharsanguruparan/vanguard/internal/repository"
	"github.com/dharsanguruparan/vanguard/internal/s3storage"
	"github.com/dharsanguruparan/vanguard/internal/signing"
	"github.com/dharsanguruparan/vanguard/internal/sqlitestore"
	"github.com/dharsanguruparan/vanguard/internal/storage"
	"github.com/dharsanguruparan/vanguard/internal/store"
)

// Store drivers accepted by VANGUARD_DB_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// OpenStore opens the configured store, creating the schema and seeding the
// item type vocabulary.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case DriverPostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		if err := database.Seed(ctx, pool, model.Vocabulary); err != nil {
			pool.Close()
			return nil, err
		}
		return repository.NewItemRepository(pool), nil
	case DriverSQLite:
		return sqlitestore.Open(ctx, cfg.SQLitePath)
	case DriverMemory:
		return storage.NewSeededMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
}

// Extractors returns the GPS extractors in the order they are tried. The
// returned func releases the exiftool process if one was started.
func Extractors(cfg *config.Config) ([]geo.Extractor, func()) {
	extractors := []geo.Extractor{geo.EXIFExtractor{}}
	if !cfg.ExiftoolEnabled {
		return extractors, func() {}
	}
	et, err := geo.NewExiftoolExtractor()
	if err != nil {
		logging.Warnf("exiftool disabled: %v", err)
		return extractors, func() {}
	}
	return append(extractors, et), func() { _ = et.Close() }
}

// Gateway builds the classification gateway. When INFERENCE_WORKERS is set the
// backend runs on a worker pool that lives until ctx is cancelled or the
// returned func is called.
func Gateway(ctx context.Context, cfg *config.Config) (*classify.Gateway, func()) {
	backend := classify.NewBackend(cfg.InferenceBackend, cfg)
	opts := []classify.Option{classify.WithTimeout(cfg.InferenceTimeout)}
	if cfg.InferenceWorkers <= 0 {
		return classify.NewGateway(backend, opts...), func() {}
	}
	pool := processing.New(cfg.InferenceWorkers)
	pool.Start(ctx)
	opts = append(opts, classify.WithPool(pool))
	return classify.NewGateway(backend, opts...), pool.Stop
}

// Events connects the configured event sinks. Unreachable sinks are skipped.
func Events(ctx context.Context, cfg *config.Config) events.Sink {
	var sinks events.Fanout
	if cfg.MQTTBroker != "" {
		alerts, err := events.DialMQTT(events.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTAlertTopic,
		})
		if err != nil {
			logging.Warnf("mqtt alerts disabled: %v", err)
		} else {
			sinks = append(sinks, alerts)
		}
	}
	if cfg.ClickHouseAddr != "" {
		audit, err := events.DialClickHouse(ctx, events.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			logging.Warnf("clickhouse audit disabled: %v", err)
		} else {
			sinks = append(sinks, audit)
		}
	}
	if len(sinks) == 0 {
		return events.Discard{}
	}
	return sinks
}

// Archive connects to the object store, or returns nil when none is configured.
func Archive(ctx context.Context, cfg *config.Config) (*s3storage.Storage, error) {
	if !cfg.ArchiveEnabled() {
		return nil, nil
	}
	st, err := s3storage.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureBuckets(ctx); err != nil {
		return nil, fmt.Errorf("ensure buckets: %w", err)
	}
	return st, nil
}

// RedisOpt is the asynq connection for the preview queue.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// App is a fully wired API process.
type App struct {
	Store        store.Store
	Orchestrator *intake.Orchestrator
	Server       *api.Server

	closers []func()
}

// New wires an App from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Store: st}
	app.closers = append(app.closers, func() { _ = st.Close() })

	extractors, closeExtractors := Extractors(cfg)
	app.closers = append(app.closers, closeExtractors)
	gateway, stopGateway := Gateway(ctx, cfg)
	app.closers = append(app.closers, stopGateway)

	sink := Events(ctx, cfg)
	app.closers = append(app.closers, func() { _ = sink.Close() })
	opts := []intake.Option{intake.WithEvents(sink)}

	var archive api.Archive
	objects, err := Archive(ctx, cfg)
	if err != nil {
		logging.Warnf("image archive disabled: %v", err)
	} else if objects != nil {
		archive = objects
		opts = append(opts, intake.WithArchive(objects))
		if cfg.QueueEnabled() {
			scheduler := queue.NewScheduler(asynq.NewClient(RedisOpt(cfg)))
			app.closers = append(app.closers, func() { _ = scheduler.Close() })
			opts = append(opts, intake.WithPreviews(scheduler))
		}
	}

	app.Orchestrator = intake.NewOrchestrator(
		intake.NewValidator(cfg.MaxUploadBytes, cfg.AcceptedTypes),
		geo.NewResolver(extractors...),
		gateway,
		st,
		cfg.MinConfidence,
		opts...,
	)
	app.Server = api.New(cfg, app.Orchestrator, st, archive, signing.NewSigner(cfg.SigningSecret))
	return app, nil
}

// Close releases everything New opened, last opened first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

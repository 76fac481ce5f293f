// guardian - real-time warehouse fraud detection over token scans, physical
// sensors and the inventory ledger.
//
// It verifies signed item state tokens as they are scanned, scores every
// upstream event with a risk classifier and pushes high-risk alerts to the
// outbound Kafka topic and to live tenant dashboards over websocket.
//
// Usage:
//
//	guardian --brokers=localhost:9092 --redis=redis://localhost:6379
//
// Environment variables (alternative to flags and config.yaml):
//
//	GUARDIAN_KAFKA_BROKERS         - Comma-separated list of Kafka brokers
//	GUARDIAN_VERIFIER_SIGNING_KEY  - Facility token signing key (required)
//	GUARDIAN_AUTH_JWT_SECRET       - Tenant JWT secret (required)
//	GUARDIAN_REDIS_URL             - Redis URL (optional)
//	GUARDIAN_DATABASE_URL          - PostgreSQL URL (optional)
//	GUARDIAN_DATABASE_TENANT_FILE  - Path to facility-tenant CSV file (optional)
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/alerting"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/auth"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/broadcast"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/config"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/database"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/events"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/features"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/ingest"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/logging"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/metrics"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/pipeline"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/publish"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/relay"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/scoring"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/server"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/statecache"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/verifier"
)

const connectAttempts = 3

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("guardian failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("guardian starting", zap.Strings("brokers", cfg.Kafka.Brokers))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Core: signing key, classifier, feature extraction, alert policy
	v, err := verifier.New([]byte(cfg.Verifier.SigningKey), verifier.Options{
		MaxAge:          cfg.Verifier.MaxAge,
		ExitCheckpoints: cfg.Verifier.ExitCheckpoints,
	})
	if err != nil {
		return err
	}

	clf, err := buildClassifier(ctx, cfg.Classifier, logger)
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Features.Timezone)
	if err != nil {
		return fmt.Errorf("features.timezone: %w", err)
	}
	correlator := features.NewCorrelator(cfg.Features.CorrelationWindow)
	extractor := features.NewExtractor(features.WithLocation(loc), features.WithCorrelator(correlator))

	minSeverity, err := models.ParseSeverity(cfg.Alerting.MinSeverity)
	if err != nil {
		return fmt.Errorf("alerting.min_severity: %w", err)
	}
	router := alerting.NewRouter(alerting.Config{
		PredictionThreshold: cfg.Alerting.PredictionThreshold,
		MinSeverity:         minSeverity,
	})

	validator, err := auth.NewValidator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	// Connect to Redis (optional)
	redisClient := connectRedis(ctx, cfg.Redis.URL, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	states := statecache.New(redisClient, logger)

	// Connect to PostgreSQL (optional)
	var db *sql.DB
	var alertWriter *database.AlertWriter
	if cfg.Database.URL != "" {
		db, err = connectDatabase(ctx, cfg.Database.URL)
		if err != nil {
			logger.Warn("database connection failed, continuing without audit table", zap.Error(err))
		} else {
			defer db.Close()
			alertWriter = database.NewAlertWriter(db, logger)
			alertWriter.Start()
		}
	}

	// Facility -> tenant resolver. Priority: CSV file > Database > Null
	var tenants database.TenantResolver = database.NewNullResolver()
	if cfg.Database.TenantFile != "" {
		fileResolver, err := database.NewFileResolver(cfg.Database.TenantFile, logger)
		if err != nil {
			logger.Warn("failed to load tenant file", zap.String("file", cfg.Database.TenantFile), zap.Error(err))
		} else {
			tenants = fileResolver
		}
	} else if db != nil {
		tenants = database.NewDatabaseResolver(db, cfg.Database.TenantTable, logger)
	} else {
		logger.Info("no tenant resolver configured, events must carry tenant_id")
	}
	tenants.Start()
	defer tenants.Stop()

	// Live delivery, relayed across instances when Redis is available
	hub := broadcast.NewHub(logger, m)
	defer hub.Close()
	direct := relay.NewDirect(hub, logger)
	var delivery relay.Deliverer = direct
	var redisRelay *relay.Redis
	if redisClient != nil {
		redisRelay = relay.NewRedis(redisClient, cfg.Redis.RelayChannel, direct, logger)
		delivery = redisRelay
	}

	// Outbound alert topic
	sink, err := publish.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, publish.ProducerConfig(cfg.Kafka.ClientID))
	if err != nil {
		return fmt.Errorf("alert producer: %w", err)
	}
	defer sink.Close()

	deps := pipeline.Deps{
		Verifier:  v,
		Extractor: extractor,
		Scorer:    scoring.NewScorer(clf),
		Router:    router,
		Metrics:   m,
		Logger:    logger,
		States:    states,
		Tenants:   tenants,
		Sink:      sink,
		Delivery:  delivery,
	}
	if alertWriter != nil {
		deps.Audit = alertWriter
	}
	pipe, err := pipeline.New(deps)
	if err != nil {
		return err
	}

	// Upstream consumers, one group per source
	sources := []ingest.Source{
		{Topic: cfg.Kafka.ScanTopic, Kind: events.KindTokenScan},
		{Topic: cfg.Kafka.PhysicalTopic, Kind: events.KindSensor},
		{Topic: cfg.Kafka.DigitalTopic, Kind: events.KindLedger},
	}
	consumers := make([]*ingest.Consumer, 0, len(sources))
	for _, src := range sources {
		c, err := ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, ingest.ConsumerConfig(cfg.Kafka.ClientID), src, pipe, m, logger)
		if err != nil {
			return err
		}
		consumers = append(consumers, c)
	}
	ingestion := ingest.NewMultiConsumer(consumers...)
	defer ingestion.Close()

	g, gctx := errgroup.WithContext(ctx)

	live := broadcast.NewHandler(gctx, hub, validator, broadcast.HandlerConfig{
		AllowedOrigins: cfg.Broadcast.AllowedOrigins,
		PingInterval:   cfg.Broadcast.PingInterval,
		WriteTimeout:   cfg.Broadcast.WriteTimeout,
	}, logger)

	stats := func() map[string]any {
		out := map[string]any{
			"ingest":             ingestion.Stats(),
			"pipeline":           pipe.Stats(),
			"connections":        hub.Counts(),
			"connections_total":  hub.Total(),
			"correlator_entries": correlator.Len(),
			"tenant_mappings":    tenants.Count(),
		}
		if alertWriter != nil {
			out["alert_writer"] = alertWriter.Stats()
		}
		return out
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Deps{
		Verifier: v,
		Auth:     validator,
		Live:     live,
		States:   states,
		Tenants:  tenants,
		Stats:    stats,
		Gatherer: reg,
		Logger:   logger,
	})

	g.Go(func() error { return ingestion.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if redisRelay != nil {
		g.Go(func() error { return redisRelay.Run(gctx) })
	}
	g.Go(func() error {
		statsLoop(gctx, cfg.Server.StatsInterval, logger, ingestion, hub, correlator, states)
		return nil
	})

	err = g.Wait()
	logger.Info("shutting down")

	// Stop database writer (flushes remaining alerts)
	if alertWriter != nil {
		alertWriter.Stop()
	}

	final := ingestion.Stats()
	logger.Info("final stats",
		zap.Any("received", final["total_received"]),
		zap.Any("processed", final["total_processed"]),
		zap.Any("alerts", pipe.Stats()["alerts"]))
	return err
}

// buildClassifier loads the configured classifier. Any failure here is fatal:
// the service does not run without a working model.
func buildClassifier(ctx context.Context, cfg config.ClassifierConfig, logger *zap.Logger) (scoring.Classifier, error) {
	switch cfg.Type {
	case "linear":
		model, err := scoring.LoadLinearModel(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		logger.Info("linear model loaded", zap.String("path", cfg.ModelPath), zap.String("version", model.Version()))
		return model, nil
	case "http":
		clf := scoring.NewHTTPClassifier(scoring.HTTPConfig{
			BaseURL:         cfg.BaseURL,
			Model:           cfg.Model,
			Timeout:         cfg.Timeout,
			BreakerFailures: cfg.BreakerFailures,
			BreakerTimeout:  cfg.BreakerTimeout,
		})
		if err := scoring.WaitHealthy(ctx, clf, cfg.HealthAttempts); err != nil {
			return nil, fmt.Errorf("model server %s: %w", cfg.BaseURL, err)
		}
		logger.Info("model server healthy", zap.String("url", cfg.BaseURL), zap.String("model", cfg.Model))
		return clf, nil
	default:
		return nil, fmt.Errorf("unknown classifier type %q", cfg.Type)
	}
}

// connectRedis returns nil when Redis is not configured or unreachable.
func connectRedis(ctx context.Context, url string, logger *zap.Logger) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("invalid Redis URL", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opt)
	err = retry.New(
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.DelayType(retry.BackOffDelay),
	).Do(func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		logger.Warn("Redis connection failed, continuing without it", zap.Error(err))
		client.Close()
		return nil
	}
	logger.Info("connected to Redis", zap.String("addr", opt.Addr))
	return client
}

func connectDatabase(ctx context.Context, url string) (*sql.DB, error) {
	var db *sql.DB
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.DelayType(retry.BackOffDelay),
	).Do(func() error {
		var err error
		db, err = database.Open(ctx, url)
		return err
	})
	return db, err
}

type sweeper interface {
	Sweep() int
}

// statsLoop logs a stats line every interval and evicts stale cache and
// correlation entries.
func statsLoop(ctx context.Context, interval time.Duration, logger *zap.Logger, ingestion *ingest.MultiConsumer, hub *broadcast.Hub, correlator *features.Correlator, states sweeper) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastReceived uint64
	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			correlator.Sweep(now)
			evicted := states.Sweep()

			s := ingestion.Stats()
			received := s["total_received"].(uint64)
			rate := float64(received-lastReceived) / now.Sub(lastTime).Seconds()
			logger.Info("stats",
				zap.Uint64("received", received),
				zap.Float64("per_sec", rate),
				zap.Any("malformed", s["total_malformed"]),
				zap.Any("failed", s["total_failed"]),
				zap.Int("connections", hub.Total()),
				zap.Int("correlator_entries", correlator.Len()),
				zap.Int("state_cache_evicted", evicted))

			lastReceived = received
			lastTime = now
		}
	}
}

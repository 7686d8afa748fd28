package factory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"ingest-service/internal/bucketing"
	"ingest-service/internal/client"
	"ingest-service/internal/config"
	"ingest-service/internal/encryption"
	"ingest-service/internal/enrichment"
	"ingest-service/internal/handler"
	"ingest-service/internal/hashing"
	"ingest-service/internal/metrics"
	"ingest-service/internal/ratelimit"
	"ingest-service/internal/repository/filemarker"
	"ingest-service/internal/repository/postgres"
	redisrepo "ingest-service/internal/repository/redis"
	"ingest-service/internal/repository/scylla"
	"ingest-service/internal/service"
	"ingest-service/internal/sink"
	"ingest-service/internal/tls"
	"ingest-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager
	metrics    *metrics.Metrics

	// Clients
	db               *sql.DB
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Enrichment and identity
	hasher    *hashing.Hasher
	geo       *enrichment.GeoIP
	ua        *enrichment.UAParser
	clientIPs *enrichment.ClientIPResolver

	// Admission control
	markerStore ratelimit.MarkerStore
	controller  *ratelimit.Controller
	sweeper     *ratelimit.Sweeper

	// Event mirrors
	batcher   *sink.PageviewBatcher
	publisher *sink.Fanout

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config:  cfg,
		metrics: metrics.New(),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.IsProduction())
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", f.initializeDatabase},
		{"clients", f.initializeClients},
		{"hasher", f.initializeHasher},
		{"enrichment", f.initializeEnrichment},
		{"rate limiter", f.initializeRateLimiter},
		{"sinks", f.initializeSinks},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	f.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("rate_limit_backend", cfg.RateLimit.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("geoip_available", f.geo.Available()),
	)

	return f, nil
}

func (f *Factory) initializeDatabase() error {
	db, err := postgres.Open(f.config.Postgres)
	if err != nil {
		return err
	}
	f.db = db

	if f.config.Postgres.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgres.MigrateUp(ctx, db); err != nil {
			return err
		}
		util.Info("PostgreSQL schema is up to date")
	}
	return nil
}

// initializeClients opens the clients the configuration asks for. Mirror
// clients are optional outside production: a failure there is logged and
// the mirror is left out.
func (f *Factory) initializeClients() error {
	cfg := f.config

	switch cfg.RateLimit.Backend {
	case "redis":
		rc, err := client.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = rc
	case "scylla":
		sc, err := scylla.NewScyllaClient(cfg)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = sc
	}

	var mirrorErrors []error

	if cfg.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(cfg, util.Get()); err != nil {
			mirrorErrors = append(mirrorErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if cfg.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(cfg); err != nil {
			mirrorErrors = append(mirrorErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
		}
	}

	if cfg.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(cfg); err != nil {
			mirrorErrors = append(mirrorErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
		}
	}

	if len(mirrorErrors) > 0 {
		if cfg.IsProduction() {
			return errors.Join(mirrorErrors...)
		}
		for _, err := range mirrorErrors {
			util.Warn("Event mirror disabled", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeHasher() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var decrypter encryption.Decrypter
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		decrypter = kms.NewFromConfig(awsCfg)
	}

	salt, err := encryption.NewSaltResolver(f.config, decrypter).Resolve(ctx)
	if err != nil {
		return err
	}
	hasher, err := hashing.NewHasher(salt)
	if err != nil {
		return err
	}
	f.hasher = hasher
	return nil
}

func (f *Factory) initializeEnrichment() error {
	f.ua = enrichment.NewUAParser()
	f.clientIPs = enrichment.NewClientIPResolver(f.config.Server.TrustedProxies)

	geo, err := enrichment.OpenGeoIP(f.config.GeoIP.Path)
	if err != nil {
		util.Warn("GeoIP database unavailable, locations will be empty",
			util.String("path", f.config.GeoIP.Path),
			util.ErrorField(err),
		)
		geo = enrichment.DisabledGeoIP(f.config.GeoIP.Path)
	}
	f.geo = geo
	return nil
}

func (f *Factory) initializeRateLimiter() error {
	rl := f.config.RateLimit

	switch rl.Backend {
	case "redis":
		f.markerStore = redisrepo.NewMarkerStore(f.redisClient)
	case "scylla":
		f.markerStore = scylla.NewMarkerStore(f.scyllaClient)
	default:
		store, err := filemarker.NewStore(rl.Dir, bucketing.NewManager(f.config.Bucketing.MarkerBuckets))
		if err != nil {
			return err
		}
		f.markerStore = store
	}

	f.controller = ratelimit.NewController(f.markerStore,
		ratelimit.WithSweep(rl.SweepProbability, rl.SweepMaxAge),
		ratelimit.WithSweepRecorder(f.metrics),
	)

	if rl.SweepCron != "" {
		sweeper, err := ratelimit.NewSweeper(f.controller, rl.SweepCron)
		if err != nil {
			return err
		}
		sweeper.Start()
		f.sweeper = sweeper
	}
	return nil
}

func (f *Factory) initializeSinks() error {
	var sinks []sink.Sink

	if f.kafkaProducer != nil {
		sinks = append(sinks, sink.NewKafkaSink(f.kafkaProducer, f.config.Kafka.TopicPrefix))
	}
	if f.esClient != nil {
		sinks = append(sinks, sink.NewErrorIndexer(f.esClient, f.config.Elasticsearch.ErrorsIndex))
	}
	if f.clickhouseClient != nil {
		cc := f.config.Clickhouse
		f.batcher = sink.NewPageviewBatcher(f.clickhouseClient, cc.BatchSize, cc.FlushInterval, util.Get())
		f.batcher.OnFailure(func() { f.metrics.SinkFailed(f.batcher.Name()) })
		f.batcher.Start()
		sinks = append(sinks, f.batcher)
	}

	f.publisher = sink.NewFanout(util.Get(), sinks, sink.WithFailureRecorder(f.metrics))
	return nil
}

func (f *Factory) initializeServices() {
	f.serviceFactory = service.NewServiceFactory(service.Deps{
		Projects:    postgres.NewProjectRepo(f.db),
		Visitors:    postgres.NewVisitorRepo(f.db),
		Sessions:    postgres.NewSessionRepo(f.db),
		Pageviews:   postgres.NewPageviewRepo(f.db),
		Dimensions:  postgres.NewDimensionRepo(f.db),
		Errors:      postgres.NewErrorRepo(f.db),
		Audits:      postgres.NewAuditRepo(f.db),
		Links:       postgres.NewLinkRepo(f.db),
		Hasher:      f.hasher,
		Geo:         f.geo,
		UA:          f.ua,
		Publisher:   f.publisher,
		Recorder:    f.metrics,
		Logger:      util.Get(),
		SessionTTL:  f.config.Ingest.SessionTTL,
		DedupWindow: f.config.Ingest.DedupWindow,
	})
}

// ==============================
// Health Checks
// ==============================

// HealthChecks lists the dependencies /health reports on. Postgres and the
// admission store are critical; the event mirrors and GeoIP only degrade.
func (f *Factory) HealthChecks() []handler.HealthCheck {
	checks := []handler.HealthCheck{
		{Name: "postgres", Critical: true, Check: f.db.PingContext},
		{Name: "geoip", Check: f.checkGeoIP},
	}

	if f.config.RateLimit.Enabled {
		checks = append(checks, handler.HealthCheck{
			Name:     "ratelimit_" + f.config.RateLimit.Backend,
			Critical: true,
			Check:    f.controller.Ping,
		})
	}
	if f.kafkaProducer != nil {
		checks = append(checks, handler.HealthCheck{Name: "kafka", Check: f.kafkaProducer.HealthCheck})
	}
	if f.esClient != nil {
		checks = append(checks, handler.HealthCheck{Name: "elasticsearch", Check: f.esClient.HealthCheck})
	}
	if f.clickhouseClient != nil {
		checks = append(checks, handler.HealthCheck{Name: "clickhouse", Check: f.clickhouseClient.HealthCheck})
	}
	return checks
}

func (f *Factory) checkGeoIP(context.Context) error {
	if !f.geo.Available() {
		return errors.New("GeoIP database not loaded")
	}
	return nil
}

// ==============================
// Shutdown
// ==============================

// Close releases everything in reverse order of initialization. It is
// safe to call on a partially built factory.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if f.publisher != nil {
			if err := f.publisher.Close(ctx); err != nil {
				util.Error("Event mirror queue not drained", util.ErrorField(err))
			}
		}
		if f.batcher != nil {
			if err := f.batcher.Close(ctx); err != nil {
				util.Error("Failed to flush ClickHouse batch", util.ErrorField(err))
			}
		}
		if f.sweeper != nil {
			f.sweeper.Stop()
		}
		if f.geo != nil {
			if err := f.geo.Close(); err != nil {
				util.Error("Failed to close GeoIP database", util.ErrorField(err))
			}
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.db != nil {
			if err := f.db.Close(); err != nil {
				util.Error("Failed to close PostgreSQL pool", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
	return nil
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config { return f.config }

func (f *Factory) TLSManager() *tls.TLSManager { return f.tlsManager }

func (f *Factory) Metrics() *metrics.Metrics { return f.metrics }

func (f *Factory) ClientIPs() *enrichment.ClientIPResolver { return f.clientIPs }

func (f *Factory) ServiceFactory() *service.ServiceFactory { return f.serviceFactory }

func (f *Factory) RateLimiter() *ratelimit.Controller { return f.controller }

package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/scrub-gateway/internal/api"
	"github.com/ignite/scrub-gateway/internal/auth"
	"github.com/ignite/scrub-gateway/internal/blobs"
	"github.com/ignite/scrub-gateway/internal/cloud"
	"github.com/ignite/scrub-gateway/internal/config"
	"github.com/ignite/scrub-gateway/internal/metrics"
	"github.com/ignite/scrub-gateway/internal/notify"
	"github.com/ignite/scrub-gateway/internal/pkg/distlock"
	"github.com/ignite/scrub-gateway/internal/pkg/logger"
	"github.com/ignite/scrub-gateway/internal/reconcile"
	"github.com/ignite/scrub-gateway/internal/records"
	"github.com/ignite/scrub-gateway/internal/scrub"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(cfg.Project.ID)

	rs, db, err := buildRecords(ctx, cfg, m)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	bs, err := buildBlobs(ctx, cfg, m)
	if err != nil {
		return err
	}

	pub, err := buildPublisher(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer pub.Close()

	keys, err := auth.NewJWKSKeySource(ctx, cfg.Auth.CertsURL)
	if err != nil {
		return err
	}
	allow := auth.NewAllowList(rs, cfg.Auth.CacheTTL(), auth.Policy(cfg.Auth.AllowlistFailurePolicy), m)
	verifier := auth.NewVerifier(keys, allow, m)

	disp := scrub.NewDispatcher(pub, rs, scrub.DispatcherOptions{
		Bucket:     bs.Bucket(),
		Collection: cfg.Records.Collection,
		Project:    cfg.Project.ID,
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		Timeout:    cfg.Timeouts.Queue(),
		Metrics:    m,
	})
	disp.Start()

	var rdb *redis.Client
	if cfg.Reconcile.RedisURL != "" {
		rdb, err = distlock.OpenRedis(ctx, cfg.Reconcile.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	health := api.NewHealthChecker().
		Add("records", rs, true).
		Add("blobs", bs, true)
	if rdb != nil {
		health.Add("redis", api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }), false)
	}

	server := api.NewServer(cfg.Server, cfg.Auth.ScrubFilesAuth, api.Deps{
		Service:  scrub.NewService(rs, bs, disp, scrub.Options{UploadPrefix: cfg.Blobs.UploadPrefix, Metrics: m}),
		Raw:      scrub.NewRaw(rs, bs, pub, cfg.Project.ID),
		Verifier: verifier,
		Health:   health,
		Metrics:  m,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := cfg.Server.Addr()
		logger.Info("starting server", "addr", addr, "records", cfg.Records.Backend, "blobs", cfg.Blobs.Backend,
			"queue", cfg.Queue.Backend, "scrub_auth", cfg.Auth.ScrubFilesAuth, "allowlist_policy", cfg.Auth.AllowlistFailurePolicy)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Reconcile.Enabled {
		lock := distlock.New(rdb, db, "reconcile", 2*cfg.Reconcile.Interval())
		sweeper := reconcile.NewSweeper(rs, disp, lock, reconcile.Options{
			Interval:    cfg.Reconcile.Interval(),
			Grace:       cfg.Reconcile.Grace(),
			MaxAttempts: cfg.Reconcile.MaxAttempts,
		})
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelDrain()
		return disp.Stop(drainCtx)
	})

	return g.Wait()
}

func buildRecords(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (records.Backend, *sql.DB, error) {
	opts := records.Options{Timeout: cfg.Timeouts.Records(), Metrics: m}
	rc := cfg.Records

	switch rc.Backend {
	case config.RecordsPostgres:
		db, err := records.OpenPostgres(ctx, rc.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := records.NewPostgresStore(db, rc.Collection, rc.AllowlistCollection, opts)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db, nil
	case config.RecordsMemory:
		logger.Warn("using in-memory record store; records are lost on restart", "audiences", len(rc.AllowedAudiences))
		return records.NewMemoryStore(rc.AllowedAudiences...), nil, nil
	default:
		awsCfg, err := cloud.LoadAWSConfig(ctx, rc.Region, rc.AWSProfile, rc.Endpoint != "")
		if err != nil {
			return nil, nil, err
		}
		client := records.NewDynamoClient(awsCfg, rc.Endpoint)
		return records.NewDynamoStore(client, rc.Collection, rc.AllowlistCollection, opts), nil, nil
	}
}

func buildBlobs(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (blobs.Store, error) {
	bc := cfg.Blobs
	if bc.Backend == config.BlobsMemory {
		logger.Warn("using in-memory blob store; blobs are lost on restart")
		return blobs.NewMemoryStore(bc.Bucket), nil
	}
	awsCfg, err := cloud.LoadAWSConfig(ctx, bc.Region, bc.AWSProfile, bc.Endpoint != "")
	if err != nil {
		return nil, err
	}
	return blobs.NewS3Store(blobs.NewS3Client(awsCfg, bc.Endpoint), bc.Bucket, cfg.Timeouts.Blobs(), m), nil
}

func buildPublisher(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (notify.Publisher, error) {
	qc := cfg.Queue
	opts := notify.Options{Timeout: cfg.Timeouts.Queue(), Metrics: m}

	switch qc.Backend {
	case config.QueueAMQP:
		return notify.DialAMQP(qc.URL, qc.Exchange, qc.Topic, opts)
	case config.QueueMemory:
		logger.Warn("using in-memory queue; notifications are not delivered")
		return notify.NewMemoryPublisher(), nil
	default:
		awsCfg, err := cloud.LoadAWSConfig(ctx, qc.Region, qc.AWSProfile, false)
		if err != nil {
			return nil, err
		}
		return notify.NewSQSPublisher(sqs.NewFromConfig(awsCfg), qc.Topic, opts), nil
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/updown/round-engine/internal/api"
	"github.com/updown/round-engine/internal/archive"
	"github.com/updown/round-engine/internal/config"
	"github.com/updown/round-engine/internal/crank"
	"github.com/updown/round-engine/internal/engine"
	"github.com/updown/round-engine/internal/events"
	"github.com/updown/round-engine/internal/metrics"
	"github.com/updown/round-engine/internal/migration"
	"github.com/updown/round-engine/internal/oracle"
	"github.com/updown/round-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("round-engine failed", "err", err)
		os.Exit(1)
	}
	slog.Info("round-engine stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache and/or price feed) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var base store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		base = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			base = store.NewCachedStore(base, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		base = store.NewMemoryStore()
	}
	rounds := migration.NewRouter(base, store.NewMemoryStore())

	// --- Oracle ---
	var orc oracle.Oracle
	switch cfg.OracleSource {
	case config.OracleRedis:
		orc = oracle.NewRedisFeed(rdb)
		slog.Info("reading prices from Redis", "feed_id", cfg.FeedID)
	default:
		orc = oracle.NewHermesClient(cfg.HermesURL, nil)
		slog.Info("reading prices from Hermes", "url", cfg.HermesURL, "feed_id", cfg.FeedID)
	}

	// --- Event publishers ---
	hub := api.NewWSHub(func(id uint64) string { return rounds.Environment(id).String() })
	publishers := events.Fanout{hub}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("round-engine"))
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() { nc.Drain() })
		js, err := jetstream.New(nc)
		if err != nil {
			return err
		}
		if err := events.EnsureStream(ctx, js); err != nil {
			return err
		}
		publishers = append(publishers, events.NewNATSPublisher(js))
		slog.Info("publishing events to NATS", "stream", events.StreamName)
	}

	if cfg.S3Bucket != "" {
		client, err := archive.NewS3Client(ctx, archive.ClientConfig{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return err
		}
		publishers = append(publishers, archive.NewS3Archiver(client, cfg.S3Bucket, cfg.S3Prefix))
		slog.Info("archiving settled rounds", "bucket", cfg.S3Bucket)
	}

	svc := engine.New(rounds, orc,
		engine.WithEvents(publishers),
		engine.WithFeedID(cfg.FeedID),
		engine.WithLogger(logger),
	)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"round-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(svc)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket upgrades must not run under the request timeout.
		r.Get("/ws", hub.HandleWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			handler.Routes(r, nil)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		slog.Info("round-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down round-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Crank.Enabled {
		c := crank.New(svc, cfg.OperatorID, cfg.FeeBps, cfg.Crank, crank.WithLogger(logger))
		g.Go(func() error { return c.Run(gctx) })
	}

	return g.Wait()
}

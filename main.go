package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"golang.org/x/sync/errgroup"

	"ms-restaurant/internal/analytics"
	analytics_api "ms-restaurant/internal/analytics/api"
	"ms-restaurant/internal/auth"
	"ms-restaurant/internal/config"
	"ms-restaurant/internal/database/migrations"
	"ms-restaurant/internal/events"
	"ms-restaurant/internal/kafka"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/order"
	"ms-restaurant/internal/order/db"
	orderkafka "ms-restaurant/internal/order/kafka"
	"ms-restaurant/internal/order/order_api"
	"ms-restaurant/internal/order/receipt"
	rediswrap "ms-restaurant/internal/order/redis"
	"ms-restaurant/internal/router"
	"ms-restaurant/internal/users"
	"ms-restaurant/internal/utils"
)

const maxConnectRetries = 5

func openPostgres(cfg config.DatabaseConfig, log *logger.Logger) *sql.DB {
	var sqldb *sql.DB
	var err error

	for i := 0; i < maxConnectRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxConnectRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < maxConnectRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxConnectRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	return sqldb
}

// runMigrations uses its own connection; the runner closes it when done.
func runMigrations(cfg config.DatabaseConfig, log *logger.Logger) {
	if !cfg.MigrationsRun {
		log.Info("MIGRATION", "Auto migration disabled")
		return
	}
	runner := migrations.NewRunner(openPostgres(cfg, log), migrations.MigrateOptions{
		AutoMigrate: true,
		SeedData:    cfg.SeedData,
	}, log)
	defer runner.Close()

	if err := runner.Initialize(); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.Verifier {
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.RoleClaim)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("OIDC discovery for %s failed: %v", cfg.OIDCIssuer, err))
		}
		log.Info("AUTH", "Verifying tokens against "+cfg.OIDCIssuer)
		return v
	}
	if cfg.JWTSecret == "" {
		log.Fatal("CONFIG", "either OIDC_ISSUER or JWT_SECRET must be set")
	}
	log.Info("AUTH", "Verifying HS256 tokens with the shared secret")
	return auth.NewHMACVerifier(cfg.JWTSecret)
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, fmt.Sprint(ww.Status()), time.Since(start).String())
		})
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()

	log, err := logger.New(logger.Options{
		Service:  "order-service",
		Dir:      cfg.Log.Dir,
		MinLevel: logger.ParseLevel(cfg.Log.Level),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("APP", "Starting Order Service initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runMigrations(cfg.Database, log)

	bunDB := bun.NewDB(openPostgres(cfg.Database, log), pgdialect.New())
	defer bunDB.Close()
	log.LogDatabase("CONNECT", "postgres", "✅ PostgreSQL connection successful")

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	var locker order.OrderLocker = order.NewLocalLocker()
	if cfg.Redis.LocksEnabled {
		locker = rediswrap.NewLocker(redisClient, cfg.Redis.LockTTL, log)
		log.Info("REDIS", "Order locks are shared through Redis")
	}

	directory := users.NewCachedDirectory(users.NewStore(bunDB), redisClient, cfg.Redis.UserCacheTTL, log)
	verifier := buildVerifier(ctx, cfg.Auth, log)
	hub := router.NewHub(directory, verifier, cfg.Router, log)

	g, gctx := errgroup.WithContext(ctx)

	// Without Kafka the service talks to the local hub. With it, every event
	// goes through the topic and each instance's consumer feeds its own hub.
	var sink events.Sink = hub
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.EventsTopic}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, log)
		defer producer.Close()
		sink = orderkafka.NewEventPublisher(producer)

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Run(gctx, orderkafka.EventHandler(hub, log))
		})
		log.Info("KAFKA", fmt.Sprintf("Events flow through %s as group %s", cfg.Kafka.EventsTopic, cfg.Kafka.GroupID))
	}

	orderDB := db.New(bunDB)
	orderService := order.NewOrderService(orderDB, locker, sink, log)
	orderHandler := order_api.NewHandler(orderService, receipt.NewGenerator(cfg.Auth.ReceiptSecret), log)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(orderDB), log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", hub.ServeWS)
	log.Info("ROUTER", "Websocket endpoint registered at /ws")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))

		orderHandler.RegisterRoutes(r)
		analyticsHandler.RegisterRoutes(r)
		r.Get("/api/events/stream", hub.ServeSSE)
		r.Get("/api/router/stats", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondSuccess(w, http.StatusOK, "router stats", hub.Stats())
		})
		log.Info("ROUTER", "Order, analytics and event stream routes registered")
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// no WriteTimeout: event streams and websockets stay open
	}

	g.Go(func() error {
		log.Info("HTTP", "🚀 Order Service running on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctxShutdown)
	})

	if err := g.Wait(); err != nil {
		log.Error("APP", fmt.Sprintf("Service stopped with error: %v", err))
		return
	}
	log.Info("HTTP", "✅ Order Service shutdown complete")
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	appanalysis "finanalyzer/internal/application/analysis"
	appjobs "finanalyzer/internal/application/jobs"
	"finanalyzer/internal/config"
	domainjobs "finanalyzer/internal/domain/jobs"
	"finanalyzer/internal/infra/ai/delegate"
	"finanalyzer/internal/infra/ai/openai"
	"finanalyzer/internal/infra/db/memory"
	"finanalyzer/internal/infra/db/mysql"
	"finanalyzer/internal/infra/db/postgres"
	"finanalyzer/internal/infra/extract"
	"finanalyzer/internal/infra/httpserver"
	"finanalyzer/internal/infra/queue"
	"finanalyzer/internal/infra/storage"
	"finanalyzer/internal/middleware"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Error("config load error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store init error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	var docs domainjobs.DocumentStore
	if cfg.Minio.Endpoint != "" {
		docs, err = storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Error("minio init error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		log.Warn("no object storage configured, documents held in memory")
		docs = storage.NewMemory()
	}

	checkers := map[string]middleware.HealthChecker{}
	if db != nil {
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	var q domainjobs.Queue
	var rdb *redis.Client
	if cfg.SyncDebug {
		// Development shortcut: run the pipeline inline in the API process.
		engine := buildEngine(cfg, log)
		orc := appjobs.NewOrchestrator(store, docs, extract.NewExtractor(log), engine, log)
		q = queue.NewInline(orc)
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		checkers["redis"] = &middleware.RedisHealthChecker{Client: rdb}
		q = queue.NewProducer(rdb, log, cfg.Redis.Stream)
	}

	intake := appjobs.NewIntake(store, docs, q, log)

	handler := httpserver.NewRouter(intake, log, httpserver.Options{
		Checkers: checkers,
		Flags: map[string]bool{
			"mock_model":    cfg.Analysis.Mock,
			"mock_fallback": cfg.Analysis.MockFallback,
			"delegation":    cfg.Analysis.Delegation,
			"sync_debug":    cfg.SyncDebug,
		},
		Info: map[string]string{
			"model":        cfg.Analysis.Model,
			"store_driver": cfg.Store.Driver,
			"broker":       cfg.Redis.Addr,
		},
		APIKeys:      cfg.Server.APIKeys,
		RateCapacity: cfg.Server.RateCapacity,
		RateRefill:   cfg.Server.RateRefill,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (domainjobs.Store, *sql.DB, error) {
	switch cfg.Store.Driver {
	case "mysql":
		db, err := mysql.Connect(ctx, cfg.MySQLDSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		st := mysql.NewStore(db)
		if err := st.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, db, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.NewStore(db)
		if err := st.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, db, nil
	case "memory":
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildEngine(cfg *config.Config, log *slog.Logger) *appanalysis.Service {
	model := openai.NewClient(cfg.Analysis.APIKey, cfg.Analysis.Model)
	return appanalysis.NewService(appanalysis.Config{
		MockMode:          cfg.Analysis.Mock,
		MockFallback:      cfg.Analysis.MockFallback,
		DelegationEnabled: cfg.Analysis.Delegation,
		Model:             cfg.Analysis.Model,
		MaxInputChars:     cfg.Analysis.MaxInputChars,
	}, model, delegate.NewTracer(log), log)
}

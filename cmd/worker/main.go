package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	appanalysis "finanalyzer/internal/application/analysis"
	appjobs "finanalyzer/internal/application/jobs"
	"finanalyzer/internal/config"
	domainjobs "finanalyzer/internal/domain/jobs"
	"finanalyzer/internal/infra/ai/delegate"
	"finanalyzer/internal/infra/ai/openai"
	"finanalyzer/internal/infra/db/mysql"
	"finanalyzer/internal/infra/db/postgres"
	"finanalyzer/internal/infra/extract"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store init error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	docs, err := storage.New(ctx,
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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	hostname, _ := os.Hostname()
	consumer, err := queue.NewConsumer(rdb, log, cfg.Redis.Stream, cfg.Redis.Group, hostname)
	if err != nil {
		log.Error("consumer init error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	model := openai.NewClient(cfg.Analysis.APIKey, cfg.Analysis.Model)
	engine := appanalysis.NewService(appanalysis.Config{
		MockMode:          cfg.Analysis.Mock,
		MockFallback:      cfg.Analysis.MockFallback,
		DelegationEnabled: cfg.Analysis.Delegation,
		Model:             cfg.Analysis.Model,
		MaxInputChars:     cfg.Analysis.MaxInputChars,
	}, model, delegate.NewTracer(log), log)

	orc := appjobs.NewOrchestrator(store, docs, extract.NewExtractor(log), engine, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("shutting down worker")
		cancel()
	}()

	log.Info("worker started",
		slog.String("stream", cfg.Redis.Stream),
		slog.String("group", cfg.Redis.Group),
		slog.String("consumer", hostname))
	run(ctx, log, consumer, orc)
}

// run is the consume loop. Process converts job-level failures into terminal
// job state itself, so a returned error means the outcome could not be
// persisted and the delivery goes back on the stream.
func run(ctx context.Context, log *slog.Logger, consumer *queue.Consumer, orc *appjobs.Orchestrator) {
	for {
		if ctx.Err() != nil {
			return
		}
		deliveries, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("read failed", slog.String("error", err.Error()))
			continue
		}
		for _, d := range deliveries {
			if err := orc.Process(ctx, d.Task); err != nil {
				log.Error("task processing failed, requeueing",
					slog.String("job_id", d.Task.JobID),
					slog.String("error", err.Error()))
				if rerr := consumer.Requeue(ctx, d, err); rerr != nil {
					log.Error("requeue failed",
						slog.String("msg_id", d.ID),
						slog.String("error", rerr.Error()))
				}
				middleware.IncrementJobsFailed()
				continue
			}
			if err := consumer.Ack(ctx, d.ID); err != nil {
				log.Error("ack failed",
					slog.String("msg_id", d.ID),
					slog.String("error", err.Error()))
			}
			middleware.IncrementJobsDone()
		}
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
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q for worker", cfg.Store.Driver)
	}
}

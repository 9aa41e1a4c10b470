package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/hraudit/promotiond/internal/audit"
	"github.com/hraudit/promotiond/internal/config"
	"github.com/hraudit/promotiond/internal/httpserver"
	"github.com/hraudit/promotiond/internal/notify"
	"github.com/hraudit/promotiond/internal/promotion"
	"github.com/hraudit/promotiond/internal/scheduler"
	"github.com/hraudit/promotiond/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("time zone: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	st := store.NewPGStore(db)
	notifier, resolver := buildNotifier(cfg)
	emitter := buildAudit(cfg)

	svc := promotion.New(st, notifier, promotion.Options{
		Location: loc,
		Audit:    emitter,
	})
	sched := scheduler.New(svc, st, resolver, scheduler.Config{})
	server := httpserver.New(svc, sched, st)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.RunScheduler {
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("scheduler start: %v", err)
		}
		defer sched.Stop()
	}

	go func() {
		log.Printf("promotiond listening on %s (zone %s)", cfg.Addr, loc)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func buildNotifier(cfg config.Config) (notify.Notifier, notify.Resolver) {
	if cfg.NotifierURL == "" {
		log.Printf("no notifier configured, using in-memory notifier")
		return notify.NewMemoryNotifier(), notify.StaticResolver{}
	}
	client, err := notify.NewHTTPClient(notify.HTTPClientConfig{
		BaseURL: cfg.NotifierURL,
		Token:   cfg.NotifierToken,
		Timeout: 5 * time.Second,
		Retries: 2,
	})
	if err != nil {
		log.Fatalf("notifier init: %v", err)
	}
	return client, client
}

func buildAudit(cfg config.Config) audit.Emitter {
	emitters := audit.MultiEmitter{audit.NewLogEmitter(nil)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaEmitter, err := audit.NewKafkaEmitter(audit.KafkaEmitterConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.AuditTopic,
		})
		if err != nil {
			log.Fatalf("kafka emitter init: %v", err)
		}
		emitters = append(emitters, kafkaEmitter)
	}
	if cfg.AuditBucket != "" {
		archiver, err := audit.NewS3Archiver(context.Background(), cfg.AuditBucket, cfg.AuditPrefix)
		if err != nil {
			log.Fatalf("s3 archiver init: %v", err)
		}
		emitters = append(emitters, archiver)
	}
	return emitters
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lcrostarosa/ploscope/server/credits"
	"github.com/lcrostarosa/ploscope/server/dispatch"
	"github.com/lcrostarosa/ploscope/server/jobs"
	"github.com/lcrostarosa/ploscope/server/queue"
	"github.com/lcrostarosa/ploscope/server/store"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	var (
		jobStore jobs.Store
		broker   queue.Broker
		ledger   credits.Ledger
	)
	if cfg.DatabaseURL != "" {
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := store.Migrate(ctx, db); err != nil {
			cancel()
			log.WithError(err).Fatal("migrate")
		}
		cancel()
		defer db.Close(context.Background())

		consumer, _ := os.Hostname()
		jobStore = store.NewJobStore(db)
		broker = store.NewPGBroker(db, consumer)
		ledger = store.NewPGLedger(db)
		log.Info("using postgres store")
	} else {
		jobStore = jobs.NewMemoryStore()
		broker = queue.NewMemory()
		ledger = credits.NewMemory()
		log.Warn("DATABASE_URL unset; using in-memory store (nothing survives restart)")
	}

	svc := jobs.NewService(jobStore, ledger, broker)
	d := dispatch.New(jobStore, broker, dispatch.Config{
		SimulationWorkers: cfg.SimulationWorkers,
		SolverWorkers:     cfg.SolverWorkers,
		MaxAttempts:       cfg.MaxAttempts,
		JobTimeout:        cfg.JobTimeout,
		ShutdownGrace:     cfg.ShutdownGrace,
	}, dispatch.SimulationHandler{}, dispatch.SolverHandler{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drained := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(drained)
	}()

	srv := &http.Server{Addr: cfg.Addr, Handler: Router(svc)}
	go func() {
		log.WithField("addr", cfg.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn("dispatcher drain timed out")
	}
}

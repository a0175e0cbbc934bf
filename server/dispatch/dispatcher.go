// Package dispatch runs the worker pools that pull jobs off the
// broker, invoke the right compute handler, persist outcomes, and
// drive the retry/dead-letter transitions.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lcrostarosa/ploscope/server/jobs"
	"github.com/lcrostarosa/ploscope/server/queue"
)

// Config bounds the pools and the per-job budget. Pools are sized
// independently per kind.
type Config struct {
	SimulationWorkers int
	SolverWorkers     int
	MaxAttempts       int
	JobTimeout        time.Duration
	ShutdownGrace     time.Duration

	// Backoff maps a failed-attempt count to its retry delay.
	// Defaults to the broker's fixed bucket schedule.
	Backoff func(attempt int) time.Duration
}

func (c *Config) defaults() {
	if c.SimulationWorkers <= 0 {
		c.SimulationWorkers = 4
	}
	if c.SolverWorkers <= 0 {
		c.SolverWorkers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = queue.Backoff
	}
}

// persistTimeout bounds state writes that happen after the handler
// returns, including during shutdown when the run context is gone.
const persistTimeout = 10 * time.Second

type Dispatcher struct {
	store    jobs.Store
	broker   queue.Broker
	handlers map[jobs.Kind]Handler
	cfg      Config
}

func New(store jobs.Store, broker queue.Broker, cfg Config, handlers ...Handler) *Dispatcher {
	cfg.defaults()
	hs := make(map[jobs.Kind]Handler, len(handlers))
	for _, h := range handlers {
		hs[h.Kind()] = h
	}
	return &Dispatcher{store: store, broker: broker, handlers: hs, cfg: cfg}
}

// Run blocks until ctx is cancelled, then drains: workers stop
// receiving, in-flight jobs get the grace period, and anything still
// running is cancelled and requeued. Returns when all workers exit.
func (d *Dispatcher) Run(ctx context.Context) {
	// Handlers run on their own context so cancelling the receive
	// loop doesn't instantly kill in-flight work.
	handlerCtx, cancelHandlers := context.WithCancel(context.Background())
	defer cancelHandlers()

	var wg sync.WaitGroup
	for kind, h := range d.handlers {
		n := d.cfg.SimulationWorkers
		if kind == jobs.KindSolver {
			n = d.cfg.SolverWorkers
		}
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(kind jobs.Kind, h Handler, worker int) {
				defer wg.Done()
				d.work(ctx, handlerCtx, kind, h, worker)
			}(kind, h, i)
		}
		log.WithFields(log.Fields{"kind": kind, "workers": n}).Info("dispatcher pool started")
	}

	<-ctx.Done()
	log.WithField("grace", d.cfg.ShutdownGrace).Info("dispatcher draining")
	timer := time.AfterFunc(d.cfg.ShutdownGrace, cancelHandlers)
	wg.Wait()
	timer.Stop()
}

func (d *Dispatcher) work(ctx, handlerCtx context.Context, kind jobs.Kind, h Handler, worker int) {
	logger := log.WithFields(log.Fields{"kind": kind, "worker": worker})
	for {
		del, err := d.broker.Receive(ctx, string(kind))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("receive failed")
			time.Sleep(time.Second)
			continue
		}
		d.process(handlerCtx, logger, h, del)
	}
}

// process executes one delivery end to end. The job record is updated
// before the delivery is acked so a crash in between redelivers (at
// least once) rather than loses the message; every result write is an
// upsert keyed by job id so redelivery is harmless.
func (d *Dispatcher) process(handlerCtx context.Context, logger *log.Entry, h Handler, del *queue.Delivery) {
	opCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	logger = logger.WithField("job_id", del.JobID)

	job, err := d.store.GetJob(opCtx, del.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// Message without a row: the row is the source of truth.
			logger.Warn("dropping message for unknown job")
			d.ack(opCtx, logger, del)
			return
		}
		logger.WithError(err).Error("load job failed; requeueing")
		d.requeue(opCtx, logger, del)
		return
	}

	// Cancelled or already-finished jobs consume the delivery with no
	// computation.
	if job.Status.Terminal() {
		logger.WithField("status", job.Status).Debug("skipping terminal job delivery")
		d.ack(opCtx, logger, del)
		return
	}

	claimed, err := d.store.MarkProcessing(opCtx, job.ID)
	if err != nil {
		logger.WithError(err).Error("claim failed; requeueing")
		d.requeue(opCtx, logger, del)
		return
	}
	if !claimed {
		// Lost the race to another worker or a cancellation.
		d.ack(opCtx, logger, del)
		return
	}

	jobCtx, cancelJob := context.WithTimeout(handlerCtx, d.cfg.JobTimeout)
	started := time.Now()
	result, err := h.Handle(jobCtx, job)
	cancelJob()

	// The preamble context may have expired while the job ran; state
	// writes after the handler get a fresh budget.
	cancel()
	opCtx, cancel = context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err == nil {
		if _, err := d.store.MarkSucceeded(opCtx, job.ID, result); err != nil {
			logger.WithError(err).Error("persist result failed; requeueing")
			d.requeue(opCtx, logger, del)
			return
		}
		logger.WithField("took", time.Since(started)).Info("job succeeded")
		d.ack(opCtx, logger, del)
		return
	}

	// Shutdown stole the context: not the job's fault, so put the row
	// back to queued without burning an attempt and requeue the
	// message as-is.
	if handlerCtx.Err() != nil {
		logger.Warn("job cancelled by shutdown; requeueing")
		if _, err := d.store.MarkInterrupted(opCtx, job.ID); err != nil {
			logger.WithError(err).Error("shutdown requeue transition failed")
		}
		d.requeue(opCtx, logger, del)
		return
	}

	// Failed attempt: timeout and computation errors take the same
	// path. Both count against MaxAttempts and can dead-letter.
	attempts, ferr := d.store.MarkFailed(opCtx, job.ID, err.Error())
	if ferr != nil {
		logger.WithError(ferr).Error("record failure failed; requeueing")
		d.requeue(opCtx, logger, del)
		return
	}
	logger = logger.WithFields(log.Fields{"attempt": attempts, "max": d.cfg.MaxAttempts})
	logger.WithError(err).Warn("job attempt failed")

	msg := del.Message
	msg.Attempt = attempts

	if attempts < d.cfg.MaxAttempts {
		if _, err := d.store.MarkQueued(opCtx, job.ID); err != nil {
			logger.WithError(err).Error("requeue transition failed")
		}
		if err := d.broker.PublishDelayed(opCtx, msg, d.cfg.Backoff(attempts)); err != nil {
			logger.WithError(err).Error("publish retry failed; requeueing original")
			d.requeue(opCtx, logger, del)
			return
		}
		d.ack(opCtx, logger, del)
		return
	}

	if _, err := d.store.MarkDeadLettered(opCtx, job.ID); err != nil {
		logger.WithError(err).Error("dead-letter transition failed")
	}
	if err := d.broker.PublishDead(opCtx, msg); err != nil {
		logger.WithError(err).Error("publish to dead-letter failed")
	}
	logger.Error("job dead-lettered")
	d.ack(opCtx, logger, del)
}

func (d *Dispatcher) ack(ctx context.Context, logger *log.Entry, del *queue.Delivery) {
	if err := d.broker.Ack(ctx, del); err != nil {
		logger.WithError(err).Error("ack failed")
	}
}

func (d *Dispatcher) requeue(ctx context.Context, logger *log.Entry, del *queue.Delivery) {
	if err := d.broker.Requeue(ctx, del); err != nil {
		logger.WithError(err).Error("requeue failed")
	}
}

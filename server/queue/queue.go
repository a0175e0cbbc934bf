// Package queue defines the broker contract the job pipeline runs on:
// a main queue per job kind, delay queues for backoff retries, and a
// dead-letter queue for exhausted messages. Delivery is at-least-once;
// the job row in the store is the source of truth and messages are
// only vehicles.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned once a broker has shut down.
var ErrClosed = errors.New("broker closed")

// Message references a job by id; the payload itself stays in the
// store.
type Message struct {
	JobID      uuid.UUID `json:"job_id"`
	Kind       string    `json:"job_kind"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is one received message plus the broker's receipt tag.
type Delivery struct {
	Message
	Tag string
}

// Broker is the durable queue contract. Ack must only be called after
// the corresponding job record reflects the outcome.
type Broker interface {
	// Publish places a message on the main queue for its kind.
	Publish(ctx context.Context, msg Message) error

	// PublishDelayed parks a message on a delay queue; after the
	// delay elapses it is forwarded back to the main queue.
	PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error

	// PublishDead routes a message to the dead-letter queue, where it
	// is terminal and never redelivered.
	PublishDead(ctx context.Context, msg Message) error

	// Receive blocks until a message for kind is available or ctx is
	// done.
	Receive(ctx context.Context, kind string) (*Delivery, error)

	// Ack removes a delivered message permanently.
	Ack(ctx context.Context, d *Delivery) error

	// Requeue returns an unprocessed delivery to the main queue with
	// its attempt count unchanged (shutdown and crash recovery path).
	Requeue(ctx context.Context, d *Delivery) error
}

// backoffBuckets are the fixed delay-queue intervals, indexed by how
// many attempts have already failed. Retries past the last bucket
// reuse it.
var backoffBuckets = []time.Duration{
	10 * time.Second,
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Backoff maps a failed-attempt count (1-based) to its retry delay.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoffBuckets) {
		attempt = len(backoffBuckets)
	}
	return backoffBuckets[attempt-1]
}

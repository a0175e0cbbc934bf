package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lcrostarosa/ploscope/server/queue"
)

// PGBroker implements queue.Broker on the queue_messages table, which
// survives restarts of both broker and workers. Main-queue rows are
// leased with FOR UPDATE SKIP LOCKED and a visibility timeout, so a
// worker crash redelivers the message after the lease expires
// (at-least-once). Delay rows carry a future available_at and are
// promoted on the next receive poll; dead rows stay for triage.
type PGBroker struct {
	db         *DB
	consumer   string
	visibility time.Duration
	poll       time.Duration
}

const (
	queueMain  = "main"
	queueDelay = "delay"
	queueDead  = "dead"
)

func NewPGBroker(db *DB, consumer string) *PGBroker {
	return &PGBroker{
		db:         db,
		consumer:   consumer,
		visibility: 5 * time.Minute,
		poll:       250 * time.Millisecond,
	}
}

// WithVisibility overrides the lease window (tests shrink it).
func (b *PGBroker) WithVisibility(d time.Duration) *PGBroker {
	b.visibility = d
	return b
}

func (b *PGBroker) insert(ctx context.Context, msg queue.Message, q string, availableAt time.Time) error {
	_, err := b.db.Exec(ctx, `
        INSERT INTO queue_messages(job_id, kind, queue, attempt, available_at, enqueued_at)
        VALUES ($1,$2,$3,$4,$5,now())
    `, msg.JobID, msg.Kind, q, msg.Attempt, availableAt)
	return err
}

func (b *PGBroker) Publish(ctx context.Context, msg queue.Message) error {
	return b.insert(ctx, msg, queueMain, time.Now().UTC())
}

func (b *PGBroker) PublishDelayed(ctx context.Context, msg queue.Message, delay time.Duration) error {
	return b.insert(ctx, msg, queueDelay, time.Now().UTC().Add(delay))
}

func (b *PGBroker) PublishDead(ctx context.Context, msg queue.Message) error {
	return b.insert(ctx, msg, queueDead, time.Now().UTC())
}

// Receive polls until a message is leased or ctx is done.
func (b *PGBroker) Receive(ctx context.Context, kind string) (*queue.Delivery, error) {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		d, err := b.tryReceive(ctx, kind)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *PGBroker) tryReceive(ctx context.Context, kind string) (*queue.Delivery, error) {
	// Forward due delay-queue rows first so backoff expiry feeds the
	// main queue without a separate mover process.
	if _, err := b.db.Exec(ctx, `
        UPDATE queue_messages SET queue = $1
         WHERE queue = $2 AND kind = $3 AND available_at <= now()
    `, queueMain, queueDelay, kind); err != nil {
		return nil, err
	}

	var d queue.Delivery
	var rowID int64
	err := b.db.QueryRow(ctx, `
        WITH next AS (
            SELECT id FROM queue_messages
             WHERE queue = $1 AND kind = $2
               AND (locked_at IS NULL OR locked_at < now() - make_interval(secs => $3))
             ORDER BY id
             FOR UPDATE SKIP LOCKED
             LIMIT 1
        )
        UPDATE queue_messages m
           SET locked_by = $4, locked_at = now()
          FROM next
         WHERE m.id = next.id
        RETURNING m.id, m.job_id, m.kind, m.attempt, m.enqueued_at
    `, queueMain, kind, b.visibility.Seconds(), b.consumer).Scan(
		&rowID, &d.JobID, &d.Kind, &d.Attempt, &d.EnqueuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.Tag = strconv.FormatInt(rowID, 10)
	return &d, nil
}

func (b *PGBroker) Ack(ctx context.Context, d *queue.Delivery) error {
	id, err := strconv.ParseInt(d.Tag, 10, 64)
	if err != nil {
		return fmt.Errorf("bad delivery tag %q: %w", d.Tag, err)
	}
	_, err = b.db.Exec(ctx, `DELETE FROM queue_messages WHERE id = $1`, id)
	return err
}

func (b *PGBroker) Requeue(ctx context.Context, d *queue.Delivery) error {
	id, err := strconv.ParseInt(d.Tag, 10, 64)
	if err != nil {
		return fmt.Errorf("bad delivery tag %q: %w", d.Tag, err)
	}
	_, err = b.db.Exec(ctx, `
        UPDATE queue_messages SET locked_by = NULL, locked_at = NULL
         WHERE id = $1
    `, id)
	return err
}

// DeadLetters lists dead-queue messages for triage tooling.
func (b *PGBroker) DeadLetters(ctx context.Context, kind string) ([]queue.Message, error) {
	rows, err := b.db.Query(ctx, `
        SELECT job_id, kind, attempt, enqueued_at
          FROM queue_messages
         WHERE queue = $1 AND kind = $2
         ORDER BY id
    `, queueDead, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []queue.Message
	for rows.Next() {
		var m queue.Message
		if err := rows.Scan(&m.JobID, &m.Kind, &m.Attempt, &m.EnqueuedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

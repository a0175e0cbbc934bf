package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is the in-process Broker used in dev mode and tests. Delay
// forwarding runs on timers; the dead-letter queue is a plain slice
// readable through DeadLetters. Durability across restarts is the
// Postgres broker's job; this one only promises the same interface
// semantics within a process.
type Memory struct {
	mu     sync.Mutex
	mains  map[string]chan Message
	dead   []Message
	closed bool
	nextID int64
}

const memoryQueueDepth = 4096

func NewMemory() *Memory {
	return &Memory{mains: make(map[string]chan Message)}
}

func (m *Memory) main(kind string) chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.mains[kind]
	if !ok {
		ch = make(chan Message, memoryQueueDepth)
		m.mains[kind] = ch
	}
	return ch
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()
	select {
	case m.main(msg.Kind) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		select {
		case m.main(msg.Kind) <- msg:
		default:
			// Queue full; drop back onto another timer.
			m.PublishDelayed(context.Background(), msg, time.Second)
		}
	})
	return nil
}

func (m *Memory) PublishDead(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dead = append(m.dead, msg)
	return nil
}

func (m *Memory) Receive(ctx context.Context, kind string) (*Delivery, error) {
	select {
	case msg := <-m.main(kind):
		m.mu.Lock()
		m.nextID++
		tag := m.nextID
		m.mu.Unlock()
		return &Delivery{Message: msg, Tag: strconv.FormatInt(tag, 10)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op: receiving already removed the message from the
// channel. Redelivery after a crash is out of scope for the memory
// broker.
func (m *Memory) Ack(ctx context.Context, d *Delivery) error { return nil }

func (m *Memory) Requeue(ctx context.Context, d *Delivery) error {
	return m.Publish(ctx, d.Message)
}

// DeadLetters snapshots the dead-letter queue.
func (m *Memory) DeadLetters() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.dead))
	copy(out, m.dead)
	return out
}

// Close stops delay timers from republishing.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

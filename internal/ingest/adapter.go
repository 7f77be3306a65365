// Package ingest bridges push channels to the aggregation store. It owns the
// channel lifecycle (join, leave, rejoin with backoff) and forwards every
// received transaction to the store in arrival order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/metrics"
)

var (
	// ErrJoin wraps failures to subscribe to the channel topic.
	ErrJoin = errors.New("ingest: join failed")
	// ErrDisconnected is returned by Subscription.Next when the channel drops.
	ErrDisconnected = errors.New("ingest: channel disconnected")
)

// Sink receives transactions one at a time. *store.Store implements it.
type Sink interface {
	Ingest(domain.Transaction)
}

// Transport opens subscriptions on a push channel.
type Transport interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is a joined topic. Close leaves it.
type Subscription interface {
	// Next blocks until the next batch arrives, ctx is done, or the channel fails.
	Next(ctx context.Context) (domain.Batch, error)
	Close() error
}

// ─── Dispatcher ───────────────────────────────────────────────────────────────

// HistorySize is how many delivered batches Recent remembers.
const HistorySize = 20

// BatchSummary describes one delivered batch.
type BatchSummary struct {
	ID         string    `json:"batch_id"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
	Size       int       `json:"size"`
	FraudCount int       `json:"fraud_count"`
}

// Dispatcher feeds batches to a Sink. It is shared by every ingress path.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	history []BatchSummary // newest first, at most HistorySize
}

// NewDispatcher creates a dispatcher writing to sink.
func NewDispatcher(sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sink: sink, logger: logger}
}

// Deliver ingests every transaction of b in batch order and returns the count.
func (d *Dispatcher) Deliver(b domain.Batch) int {
	sum := BatchSummary{ID: b.ID, Source: b.Source, ReceivedAt: b.ReceivedAt, Size: len(b.Frauds)}
	for _, tx := range b.Frauds {
		d.sink.Ingest(tx)
		if tx.IsFraud() && len(domain.Inspect(tx)) == 0 {
			sum.FraudCount++
		}
	}
	if sum.ReceivedAt.IsZero() {
		sum.ReceivedAt = time.Now().UTC()
	}
	d.record(sum)

	metrics.BatchesReceived.WithLabelValues(b.Source).Inc()
	d.logger.Debug("batch delivered", "batch_id", b.ID, "source", b.Source, "count", len(b.Frauds))
	return len(b.Frauds)
}

func (d *Dispatcher) record(sum BatchSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.history) + 1
	if n > HistorySize {
		n = HistorySize
	}
	next := make([]BatchSummary, n)
	next[0] = sum
	copy(next[1:], d.history)
	d.history = next
}

// Recent returns the summaries of the last delivered batches, newest first.
func (d *Dispatcher) Recent() []BatchSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]BatchSummary, len(d.history))
	copy(out, d.history)
	return out
}

// ─── Backoff ──────────────────────────────────────────────────────────────────

// Backoff is an exponential reconnect delay.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff is 500ms doubling up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}
}

func (b Backoff) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * b.Multiplier)
	if d > b.Max {
		d = b.Max
	}
	return d
}

// ─── Adapter ──────────────────────────────────────────────────────────────────

// Adapter keeps one topic joined and forwards its batches to a Dispatcher.
type Adapter struct {
	transport Transport
	topic     string
	dispatch  *Dispatcher
	backoff   Backoff
	logger    *slog.Logger
	connected atomic.Bool
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithBackoff overrides DefaultBackoff.
func WithBackoff(b Backoff) AdapterOption {
	return func(a *Adapter) { a.backoff = b }
}

// WithAdapterLogger sets the adapter's logger.
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter creates an adapter for topic on transport.
func NewAdapter(t Transport, topic string, d *Dispatcher, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		transport: t,
		topic:     topic,
		dispatch:  d,
		backoff:   DefaultBackoff(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connected reports whether the topic is currently joined.
func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// Run joins the topic and forwards batches until ctx is cancelled. Transport
// failures are retried forever with exponential backoff; the delay resets
// after every successful join.
func (a *Adapter) Run(ctx context.Context) {
	delay := a.backoff.Initial
	for {
		err := a.session(ctx, &delay)
		if ctx.Err() != nil {
			a.logger.Info("ingest adapter stopped", "topic", a.topic)
			return
		}
		metrics.TransportReconnects.Inc()
		a.logger.Warn("ingest channel lost, rejoining",
			"topic", a.topic,
			"err", err,
			"delay", delay,
		)
		select {
		case <-ctx.Done():
			a.logger.Info("ingest adapter stopped", "topic", a.topic)
			return
		case <-time.After(delay):
		}
		delay = a.backoff.next(delay)
	}
}

// session runs one join/receive/leave cycle.
func (a *Adapter) session(ctx context.Context, delay *time.Duration) error {
	sub, err := a.transport.Subscribe(ctx, a.topic)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrJoin, err)
	}
	a.setConnected(true)
	*delay = a.backoff.Initial
	a.logger.Info("joined ingest channel", "topic", a.topic)

	defer func() {
		a.setConnected(false)
		if err := sub.Close(); err != nil {
			a.logger.Warn("leave ingest channel", "topic", a.topic, "err", err)
		}
	}()

	for {
		b, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		a.dispatch.Deliver(b)
	}
}

func (a *Adapter) setConnected(v bool) {
	a.connected.Store(v)
	if v {
		metrics.TransportConnected.Set(1)
	} else {
		metrics.TransportConnected.Set(0)
	}
}

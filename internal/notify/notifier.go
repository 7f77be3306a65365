// Package notify posts new fraud alerts to configured webhook targets.
//
// The notifier is a store listener. It never blocks the ingest path: each
// delivery is handed to a bounded worker pool and dropped (and counted) when
// the queue is full. Failed deliveries are logged, not retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/metrics"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/store"
)

// EventFraudAlert is sent in the payload and the X-Fraudwatch-Event header.
const EventFraudAlert = "fraud_alert"

// Target is one webhook endpoint. Alerts with a fraud score below MinScore
// are not sent to it.
type Target struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	MinScore float64 `json:"min_score"`
}

// Payload is the JSON body posted to targets.
type Payload struct {
	Event       string             `json:"event"`
	WebhookID   string             `json:"webhook_id"`
	TriggeredAt time.Time          `json:"triggered_at"`
	Transaction domain.Transaction `json:"transaction"`
	Stats       store.Stats        `json:"stats"`
}

type delivery struct {
	target  Target
	payload Payload
}

// Options tunes the delivery pool.
type Options struct {
	Workers    int
	QueueDepth int
	Timeout    time.Duration
}

// Notifier watches store snapshots for new alerts.
type Notifier struct {
	client *http.Client
	pool   *workerPool[delivery]
	logger *slog.Logger

	mu      sync.RWMutex
	targets []Target

	// fraudSeen is the store fraud count already handled.
	fraudSeen atomic.Int64
}

// New starts the delivery workers. They stop when ctx is cancelled or Close
// is called.
func New(ctx context.Context, opts Options, targets []Target, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	n := &Notifier{
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
	n.SetTargets(targets)
	n.pool = newWorkerPool(ctx, opts.Workers, opts.QueueDepth, n.send, func(d delivery, err error) {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		n.logger.Warn("webhook: delivery failed",
			"webhook_id", d.target.ID,
			"url", d.target.URL,
			"transaction_id", d.payload.Transaction.Key(),
			"err", err,
		)
	})
	return n
}

// SetTargets replaces the webhook list. Safe to call while running.
func (n *Notifier) SetTargets(targets []Target) {
	cp := make([]Target, len(targets))
	copy(cp, targets)
	n.mu.Lock()
	n.targets = cp
	n.mu.Unlock()
}

// Targets returns a copy of the current webhook list.
func (n *Notifier) Targets() []Target {
	n.mu.RLock()
	defer n.mu.RUnlock()
	cp := make([]Target, len(n.targets))
	copy(cp, n.targets)
	return cp
}

// Attach subscribes the notifier to s. Alerts already in s are not sent,
// even when ingestion is running concurrently.
func (n *Notifier) Attach(s *store.Store) (detach func()) {
	return s.Follow(func(st *store.State) {
		n.fraudSeen.Store(st.Stats.FraudCount)
	}, n.observe)
}

// observe runs on the ingesting goroutine and must not block.
func (n *Notifier) observe(st *store.State) {
	seen := n.fraudSeen.Load()
	fresh := st.Stats.FraudCount - seen
	if fresh <= 0 || !n.fraudSeen.CompareAndSwap(seen, st.Stats.FraudCount) {
		return
	}
	if int(fresh) > len(st.Alerts) {
		fresh = int64(len(st.Alerts))
	}

	targets := n.Targets()
	if len(targets) == 0 {
		return
	}
	now := time.Now().UTC()
	// Oldest first so targets see alerts in ingest order.
	for i := int(fresh) - 1; i >= 0; i-- {
		tx := st.Alerts[i]
		for _, t := range targets {
			if tx.FraudScore < t.MinScore {
				continue
			}
			d := delivery{
				target: t,
				payload: Payload{
					Event:       EventFraudAlert,
					WebhookID:   t.ID,
					TriggeredAt: now,
					Transaction: tx,
					Stats:       st.Stats,
				},
			}
			if !n.pool.Submit(d) {
				metrics.WebhookDropped.Inc()
				n.logger.Warn("webhook: queue full, alert dropped", "webhook_id", t.ID, "transaction_id", tx.Key())
			}
		}
	}
}

// send delivers a single webhook call.
func (n *Notifier) send(ctx context.Context, d delivery) error {
	body, err := json.Marshal(d.payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fraudwatch-Event", EventFraudAlert)

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	metrics.WebhookDuration.Observe(float64(time.Since(start).Milliseconds()))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	n.logger.Info("webhook: delivered",
		"webhook_id", d.target.ID,
		"status", resp.StatusCode,
		"transaction_id", d.payload.Transaction.Key(),
		"fraud_score", d.payload.Transaction.FraudScore,
	)
	return nil
}

// Pending returns the number of queued deliveries.
func (n *Notifier) Pending() int {
	return n.pool.QueueLen()
}

// Utilization is the fraction of the delivery queue in use.
func (n *Notifier) Utilization() float64 {
	return float64(n.pool.QueueLen()) / float64(n.pool.QueueCap())
}

// Close stops accepting alerts and waits for queued deliveries to finish.
func (n *Notifier) Close() {
	n.pool.Drain()
}

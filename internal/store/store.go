// Package store keeps the in-memory fraud monitoring view: a bounded window of
// recent transactions, a bounded window of recent fraud alerts and the
// all-time statistics derived from every ingested record.
//
// All mutation goes through Ingest. Each ingest publishes a fresh immutable
// State and then notifies subscribers synchronously, in registration order.
package store

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/metrics"
)

// Listener receives the snapshot produced by each ingest.
type Listener func(*State)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for anomalies and listener failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAnomalyHandler registers fn to receive every data-quality anomaly.
// fn runs on the ingesting goroutine.
func WithAnomalyHandler(fn func(domain.Anomaly)) Option {
	return func(s *Store) { s.onAnomaly = fn }
}

type subscription struct {
	id string
	fn Listener
}

// Store is the aggregation store. Safe for concurrent use.
type Store struct {
	state atomic.Pointer[State]

	// mu guards the mailbox and everything that affects how it is applied.
	mu       sync.Mutex
	pending  []domain.Transaction
	draining bool
	caps     Capacities
	closed   bool

	lmu       sync.RWMutex
	listeners []subscription

	logger    *slog.Logger
	onAnomaly func(domain.Anomaly)
}

// New creates an empty store with the given window capacities.
func New(caps Capacities, opts ...Option) (*Store, error) {
	caps, err := caps.normalize()
	if err != nil {
		return nil, err
	}
	s := &Store{caps: caps, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(emptyState())
	return s, nil
}

// State returns the current snapshot.
func (s *Store) State() *State {
	return s.state.Load()
}

// Capacities returns the window sizes applied to the next ingest.
func (s *Store) Capacities() Capacities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Ingest applies tx. When another ingest is already in progress, including
// one further up the current call stack via a listener, tx is queued and
// applied by that in-progress call once its notification round completes.
func (s *Store) Ingest(tx domain.Transaction) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("ingest after close dropped", "transaction_id", tx.Key())
		return
	}
	s.pending = append(s.pending, tx)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.drain()
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.closed {
			s.pending = nil
			s.draining = false
			s.mu.Unlock()
			return
		}
		tx := s.pending[0]
		s.pending[0] = domain.Transaction{}
		s.pending = s.pending[1:]
		caps := s.caps
		s.mu.Unlock()

		next, anomalies := s.apply(s.state.Load(), tx, caps)
		s.state.Store(next)
		s.report(anomalies)
		s.notify(next)
	}
}

// apply computes the snapshot that follows prev once tx is ingested.
func (s *Store) apply(prev *State, tx domain.Transaction, caps Capacities) (*State, []domain.Anomaly) {
	anomalies := domain.Inspect(tx)
	fraud := tx.IsFraud() && len(anomalies) == 0

	next := &State{
		Transactions: prepend(prev.Transactions, tx, caps.Transactions),
		Alerts:       prev.Alerts,
		Stats:        prev.Stats,
	}
	next.Stats.TotalTransactions++
	if fraud {
		next.Alerts = prepend(prev.Alerts, tx, caps.Alerts)
		next.Stats.FraudCount++
		next.Stats.BlockedAmount = prev.Stats.BlockedAmount.Add(tx.AmountBRL)
	}
	next.Stats.FraudRate = fraudRate(next.Stats.FraudCount, next.Stats.TotalTransactions)

	metrics.TransactionsIngested.Inc()
	if fraud {
		metrics.FraudTransactions.Inc()
		metrics.BlockedAmount.Set(next.Stats.BlockedAmount.InexactFloat64())
	}
	metrics.FraudRate.Set(next.Stats.FraudRate)
	return next, anomalies
}

func (s *Store) report(anomalies []domain.Anomaly) {
	for _, a := range anomalies {
		metrics.Anomalies.WithLabelValues(string(a.Kind)).Inc()
		s.logger.Warn("data quality anomaly",
			"kind", a.Kind,
			"transaction_id", a.TransactionID,
			"detail", a.Detail,
		)
		if s.onAnomaly != nil {
			s.call(subscription{id: "anomaly-handler", fn: func(*State) { s.onAnomaly(a) }}, nil)
		}
	}
}

// Subscribe registers fn for every future snapshot. The returned function
// removes it and may be called more than once.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	id := uuid.NewString()
	s.lmu.Lock()
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

// Follow calls start with the current snapshot and then registers fn, as one
// step with respect to notifications: fn sees every snapshot published after
// the one given to start, and possibly that same snapshot again. start must
// not call back into the store.
func (s *Store) Follow(start func(*State), fn Listener) (unsubscribe func()) {
	id := uuid.NewString()
	s.lmu.Lock()
	start(s.state.Load())
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Store) remove(id string) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for i, sub := range s.listeners {
		if sub.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (s *Store) ListenerCount() int {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return len(s.listeners)
}

func (s *Store) notify(st *State) {
	s.lmu.RLock()
	subs := s.listeners
	s.lmu.RUnlock()

	for _, sub := range subs {
		s.call(sub, st)
	}
}

// call runs one listener, containing any panic to that listener.
func (s *Store) call(sub subscription, st *State) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerFailures.Inc()
			s.logger.Error("store listener panicked", "listener_id", sub.id, "panic", r)
		}
	}()
	sub.fn(st)
}

// Resize changes the window capacities. Nothing is evicted retroactively: a
// window is cut down to its new size the next time something is prepended
// to it, so the alert window only shrinks on the next fraud.
func (s *Store) Resize(caps Capacities) error {
	caps, err := caps.normalize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
	return nil
}

// Close drops all listeners. Later ingests are discarded.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.lmu.Lock()
	s.listeners = nil
	s.lmu.Unlock()
}

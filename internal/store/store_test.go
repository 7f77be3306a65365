package store_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/store"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

func newStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.New(store.DefaultCapacities(), opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func tx(id string, status domain.FraudStatus, amount int64) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		UserID:      "user-" + id,
		AmountBRL:   decimal.NewFromInt(amount),
		FraudScore:  0.5,
		FraudStatus: status,
	}
}

func keys(txs []domain.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.Key()
	}
	return out
}

// ─── Tests ────────────────────────────────────────────────────────────────────

func TestNew_EmptyState(t *testing.T) {
	s := newStore(t)
	st := s.State()

	assert.NotNil(t, st.Transactions)
	assert.Empty(t, st.Transactions)
	assert.NotNil(t, st.Alerts)
	assert.Empty(t, st.Alerts)
	assert.Zero(t, st.Stats.TotalTransactions)
	assert.Zero(t, st.Stats.FraudCount)
	assert.Zero(t, st.Stats.FraudRate)
	assert.True(t, st.Stats.BlockedAmount.IsZero())
}

func TestNew_InvalidCapacity(t *testing.T) {
	_, err := store.New(store.Capacities{Transactions: -1, Alerts: 5})
	require.ErrorIs(t, err, store.ErrInvalidCapacity)
}

func TestIngest_ThreeTransactionScenario(t *testing.T) {
	s := newStore(t)
	s.Ingest(tx("1", domain.StatusClean, 10))
	s.Ingest(tx("2", domain.StatusFraud, 200))
	s.Ingest(tx("3", domain.StatusReview, 5))

	st := s.State()
	assert.Equal(t, []string{"3", "2", "1"}, keys(st.Transactions))
	assert.Equal(t, []string{"2"}, keys(st.Alerts))
	assert.Equal(t, int64(3), st.Stats.TotalTransactions)
	assert.Equal(t, int64(1), st.Stats.FraudCount)
	assert.InDelta(t, 33.333, st.Stats.FraudRate, 0.001)
	assert.True(t, st.Stats.BlockedAmount.Equal(decimal.NewFromInt(200)))
}

func TestIngest_WindowCap(t *testing.T) {
	s := newStore(t)
	for i := 1; i <= 150; i++ {
		s.Ingest(tx(fmt.Sprint(i), domain.StatusClean, 1))
	}

	st := s.State()
	require.Len(t, st.Transactions, 100)
	assert.Equal(t, "150", st.Transactions[0].Key())
	assert.Equal(t, "51", st.Transactions[99].Key())
	assert.Equal(t, int64(150), st.Stats.TotalTransactions)
}

func TestIngest_AlertWindowIndependentOfTransactions(t *testing.T) {
	s := newStore(t)
	for i := 1; i <= 60; i++ {
		s.Ingest(tx(fmt.Sprintf("f%d", i), domain.StatusFraud, 10))
	}
	for i := 1; i <= 60; i++ {
		s.Ingest(tx(fmt.Sprintf("c%d", i), domain.StatusClean, 10))
	}

	st := s.State()
	require.Len(t, st.Transactions, 100)
	for i := 0; i < 60; i++ {
		assert.Equal(t, fmt.Sprintf("c%d", 60-i), st.Transactions[i].Key())
	}
	for i := 60; i < 100; i++ {
		assert.Equal(t, fmt.Sprintf("f%d", 120-i), st.Transactions[i].Key())
	}
	require.Len(t, st.Alerts, 50)
	assert.Equal(t, "f60", st.Alerts[0].Key())
	assert.Equal(t, "f11", st.Alerts[49].Key())
	assert.Equal(t, int64(60), st.Stats.FraudCount)
	assert.True(t, st.Stats.BlockedAmount.Equal(decimal.NewFromInt(600)))
}

func TestIngest_StatsMonotonic(t *testing.T) {
	s := newStore(t)
	statuses := []domain.FraudStatus{domain.StatusFraud, domain.StatusClean, domain.StatusReview, domain.StatusFraud, "bogus"}

	prev := s.State().Stats
	for i := 0; i < 300; i++ {
		s.Ingest(tx(fmt.Sprint(i), statuses[i%len(statuses)], int64(i)))
		cur := s.State().Stats
		require.Equal(t, prev.TotalTransactions+1, cur.TotalTransactions)
		require.GreaterOrEqual(t, cur.FraudCount, prev.FraudCount)
		require.LessOrEqual(t, cur.FraudCount, cur.TotalTransactions)
		require.True(t, cur.BlockedAmount.GreaterThanOrEqual(prev.BlockedAmount))
		require.InDelta(t, float64(cur.FraudCount)/float64(cur.TotalTransactions)*100, cur.FraudRate, 1e-9)
		prev = cur
	}
}

func TestIngest_AnomalyIsWindowedButNotCounted(t *testing.T) {
	var got []domain.Anomaly
	s := newStore(t, store.WithAnomalyHandler(func(a domain.Anomaly) { got = append(got, a) }))

	s.Ingest(tx("x", "suspicious", 99))
	s.Ingest(tx("neg", domain.StatusFraud, -5))

	st := s.State()
	assert.Equal(t, []string{"neg", "x"}, keys(st.Transactions))
	assert.Empty(t, st.Alerts)
	assert.Equal(t, int64(2), st.Stats.TotalTransactions)
	assert.Zero(t, st.Stats.FraudCount)
	assert.True(t, st.Stats.BlockedAmount.IsZero())

	require.Len(t, got, 2)
	assert.Equal(t, domain.AnomalyUnknownStatus, got[0].Kind)
	assert.Equal(t, domain.AnomalyNegativeAmount, got[1].Kind)
}

func TestIngest_DuplicatesAreCountedTwice(t *testing.T) {
	s := newStore(t)
	s.Ingest(tx("dup", domain.StatusFraud, 10))
	s.Ingest(tx("dup", domain.StatusFraud, 10))

	st := s.State()
	assert.Len(t, st.Transactions, 2)
	assert.Equal(t, int64(2), st.Stats.FraudCount)
	assert.True(t, st.Stats.BlockedAmount.Equal(decimal.NewFromInt(20)))
}

func TestSnapshotsAreImmutable(t *testing.T) {
	s := newStore(t)
	s.Ingest(tx("1", domain.StatusFraud, 1))
	before := s.State()

	s.Ingest(tx("2", domain.StatusFraud, 1))

	assert.Equal(t, []string{"1"}, keys(before.Transactions))
	assert.Equal(t, int64(1), before.Stats.TotalTransactions)
	assert.Equal(t, []string{"2", "1"}, keys(s.State().Transactions))
}

func TestSubscribe_ListenerIsolation(t *testing.T) {
	s := newStore(t)
	var calls []string
	s.Subscribe(func(st *store.State) {
		calls = append(calls, fmt.Sprintf("a:%d", st.Stats.TotalTransactions))
		panic("listener a failed")
	})
	s.Subscribe(func(st *store.State) {
		calls = append(calls, fmt.Sprintf("b:%d", st.Stats.TotalTransactions))
	})

	s.Ingest(tx("1", domain.StatusClean, 10))
	s.Ingest(tx("2", domain.StatusFraud, 200))
	s.Ingest(tx("3", domain.StatusReview, 5))

	assert.Equal(t, []string{"a:1", "b:1", "a:2", "b:2", "a:3", "b:3"}, calls)

	st := s.State()
	assert.Equal(t, []string{"3", "2", "1"}, keys(st.Transactions))
	assert.Equal(t, []string{"2"}, keys(st.Alerts))
	assert.Equal(t, int64(3), st.Stats.TotalTransactions)
	assert.Equal(t, int64(1), st.Stats.FraudCount)
	assert.InDelta(t, 33.333, st.Stats.FraudRate, 0.001)
	assert.True(t, st.Stats.BlockedAmount.Equal(decimal.NewFromInt(200)))
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := newStore(t)
	n := 0
	unsubscribe := s.Subscribe(func(*store.State) { n++ })

	s.Ingest(tx("1", domain.StatusClean, 1))
	unsubscribe()
	unsubscribe()
	s.Ingest(tx("2", domain.StatusClean, 1))

	assert.Equal(t, 1, n)
	assert.Zero(t, s.ListenerCount())
}

func TestFollow_NoSnapshotIsMissed(t *testing.T) {
	s := newStore(t)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.Ingest(tx(fmt.Sprint(i), domain.StatusClean, 1))
		}
	}()
	require.Eventually(t, func() bool { return s.State().Stats.TotalTransactions >= 10 }, time.Second, time.Millisecond)

	var start int64
	var seen []int64
	unsubscribe := s.Follow(
		func(st *store.State) { start = st.Stats.TotalTransactions },
		func(st *store.State) { seen = append(seen, st.Stats.TotalTransactions) },
	)
	defer unsubscribe()
	require.Eventually(t, func() bool { return s.State().Stats.TotalTransactions >= start+100 }, time.Second, time.Millisecond)
	close(stop)
	<-done

	require.NotEmpty(t, seen)
	if seen[0] == start {
		seen = seen[1:]
	}
	for i, n := range seen {
		require.Equal(t, start+int64(i)+1, n)
	}
	assert.Equal(t, s.State().Stats.TotalTransactions, start+int64(len(seen)))
}

func TestIngest_ReentrantIsQueued(t *testing.T) {
	s := newStore(t)
	var seen [][]string
	var once sync.Once
	s.Subscribe(func(st *store.State) {
		seen = append(seen, keys(st.Transactions))
		once.Do(func() {
			s.Ingest(tx("nested", domain.StatusClean, 1))
			// Not applied yet: the outer round still owns the store.
			assert.Equal(t, int64(1), s.State().Stats.TotalTransactions)
		})
	})

	s.Ingest(tx("outer", domain.StatusClean, 1))

	require.Len(t, seen, 2)
	assert.Equal(t, []string{"outer"}, seen[0])
	assert.Equal(t, []string{"nested", "outer"}, seen[1])
}

func TestIngest_Concurrent(t *testing.T) {
	s := newStore(t)
	notified := 0
	s.Subscribe(func(*store.State) { notified++ })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				status := domain.StatusClean
				if i%5 == 0 {
					status = domain.StatusFraud
				}
				s.Ingest(tx(fmt.Sprintf("%d-%d", g, i), status, 2))
			}
		}(g)
	}
	wg.Wait()

	st := s.State()
	assert.Equal(t, int64(400), st.Stats.TotalTransactions)
	assert.Equal(t, int64(80), st.Stats.FraudCount)
	assert.True(t, st.Stats.BlockedAmount.Equal(decimal.NewFromInt(160)))
	assert.Len(t, st.Transactions, 100)
	assert.Len(t, st.Alerts, 50)
	assert.Equal(t, 400, notified)
}

func TestResize_AppliesOnNextIngest(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 20; i++ {
		s.Ingest(tx(fmt.Sprint(i), domain.StatusFraud, 1))
	}
	require.NoError(t, s.Resize(store.Capacities{Transactions: 5, Alerts: 3}))
	assert.Equal(t, store.Capacities{Transactions: 5, Alerts: 3}, s.Capacities())

	assert.Len(t, s.State().Transactions, 20)
	assert.Len(t, s.State().Alerts, 20)

	// Clean and anomalous records never touch the alert window.
	s.Ingest(tx("clean", domain.StatusClean, 1))
	s.Ingest(tx("odd", "bogus", 1))
	st := s.State()
	assert.Equal(t, []string{"odd", "clean", "19", "18", "17"}, keys(st.Transactions))
	assert.Len(t, st.Alerts, 20)

	s.Ingest(tx("fraud", domain.StatusFraud, 1))
	st = s.State()
	assert.Len(t, st.Transactions, 5)
	assert.Equal(t, []string{"fraud", "19", "18"}, keys(st.Alerts))

	require.ErrorIs(t, s.Resize(store.Capacities{Transactions: 1, Alerts: -2}), store.ErrInvalidCapacity)
}

func TestClose_DropsLaterIngests(t *testing.T) {
	s, err := store.New(store.DefaultCapacities())
	require.NoError(t, err)
	n := 0
	s.Subscribe(func(*store.State) { n++ })

	s.Close()
	s.Ingest(tx("late", domain.StatusFraud, 1))

	assert.Zero(t, n)
	assert.Zero(t, s.State().Stats.TotalTransactions)
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
)

// Default window sizes.
const (
	DefaultRecentTransactions = 100
	DefaultRecentAlerts       = 50
)

var ErrInvalidCapacity = errors.New("store: window capacity must be positive")

// Capacities bounds the two retained windows. A zero field means the default.
type Capacities struct {
	Transactions int `json:"recent_transactions"`
	Alerts       int `json:"recent_alerts"`
}

// DefaultCapacities returns the 100/50 window sizes.
func DefaultCapacities() Capacities {
	return Capacities{Transactions: DefaultRecentTransactions, Alerts: DefaultRecentAlerts}
}

func (c Capacities) normalize() (Capacities, error) {
	if c.Transactions < 0 || c.Alerts < 0 {
		return c, fmt.Errorf("%w: transactions=%d alerts=%d", ErrInvalidCapacity, c.Transactions, c.Alerts)
	}
	if c.Transactions == 0 {
		c.Transactions = DefaultRecentTransactions
	}
	if c.Alerts == 0 {
		c.Alerts = DefaultRecentAlerts
	}
	return c, nil
}

// Stats are the all-time aggregates. Counters never decrease.
type Stats struct {
	TotalTransactions int64           `json:"totalTransactions"`
	FraudCount        int64           `json:"fraudCount"`
	FraudRate         float64         `json:"fraudRate"`
	BlockedAmount     decimal.Decimal `json:"blockedAmount"`
}

func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	return json.Marshal(struct {
		plain
		BlockedAmount json.Number `json:"blockedAmount"`
	}{plain(s), json.Number(s.BlockedAmount.String())})
}

// fraudRate is the percentage of fraud over all ingested transactions.
func fraudRate(fraud, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(fraud) / float64(total) * 100
}

// State is an immutable snapshot of the aggregation. Both windows are
// newest first. Callers must not modify the slices.
type State struct {
	Transactions []domain.Transaction `json:"transactions"`
	Alerts       []domain.Transaction `json:"alerts"`
	Stats        Stats                `json:"stats"`
}

func emptyState() *State {
	return &State{
		Transactions: []domain.Transaction{},
		Alerts:       []domain.Transaction{},
		Stats:        Stats{BlockedAmount: decimal.Zero},
	}
}

// prepend returns a new window with tx at the front, truncated to limit.
// The input slice is never written to.
func prepend(window []domain.Transaction, tx domain.Transaction, limit int) []domain.Transaction {
	n := len(window) + 1
	if n > limit {
		n = limit
	}
	out := make([]domain.Transaction, n)
	out[0] = tx
	copy(out[1:], window)
	return out
}

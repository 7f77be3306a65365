package domain

import (
	"fmt"
	"math"
)

// AnomalyKind names a data-quality problem found on an incoming record.
type AnomalyKind string

const (
	AnomalyUnknownStatus   AnomalyKind = "unknown_status"
	AnomalyNegativeAmount  AnomalyKind = "negative_amount"
	AnomalyScoreOutOfRange AnomalyKind = "score_out_of_range"
)

// Anomaly describes a record that violates field constraints. Anomalous
// records are still accepted, they just never count as fraud.
type Anomaly struct {
	Kind          AnomalyKind `json:"kind"`
	TransactionID string      `json:"transaction_id"`
	Detail        string      `json:"detail"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s (%s): %s", a.Kind, a.TransactionID, a.Detail)
}

// Inspect returns every anomaly found on tx, or nil for a well-formed record.
func Inspect(tx Transaction) []Anomaly {
	var out []Anomaly
	key := tx.Key()
	if !tx.FraudStatus.Valid() {
		out = append(out, Anomaly{
			Kind:          AnomalyUnknownStatus,
			TransactionID: key,
			Detail:        fmt.Sprintf("fraud_status %q", tx.FraudStatus),
		})
	}
	if tx.AmountBRL.IsNegative() {
		out = append(out, Anomaly{
			Kind:          AnomalyNegativeAmount,
			TransactionID: key,
			Detail:        fmt.Sprintf("amount_brl %s", tx.AmountBRL),
		})
	}
	if math.IsNaN(tx.FraudScore) || tx.FraudScore < 0 || tx.FraudScore > 1 {
		out = append(out, Anomaly{
			Kind:          AnomalyScoreOutOfRange,
			TransactionID: key,
			Detail:        fmt.Sprintf("fraud_score %v", tx.FraudScore),
		})
	}
	return out
}

// Package domain holds the scored-transaction model shared by the store, the
// ingestion adapters and the HTTP surface.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FraudStatus is the classification assigned upstream by the scoring service.
// It is trusted verbatim and never re-derived from the score.
type FraudStatus string

const (
	StatusClean  FraudStatus = "clean"
	StatusReview FraudStatus = "review"
	StatusFraud  FraudStatus = "fraud"
)

// Valid reports whether s is one of the known statuses.
func (s FraudStatus) Valid() bool {
	switch s {
	case StatusClean, StatusReview, StatusFraud:
		return true
	}
	return false
}

// Transaction is one scored payment as emitted by the scoring pipeline.
// Fields the pipeline adds beyond the known set are kept in Extra and
// re-emitted on encode.
type Transaction struct {
	ID            string          `json:"id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	UserID        string          `json:"user_id"`
	AmountBRL     decimal.Decimal `json:"amount_brl"`
	FraudScore    float64         `json:"fraud_score"`
	FraudStatus   FraudStatus     `json:"fraud_status"`
	FraudReason   string          `json:"fraud_reason,omitempty"`
	ProcessedAt   string          `json:"processed_at,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownFields = []string{
	"id", "transaction_id", "user_id", "amount_brl",
	"fraud_score", "fraud_status", "fraud_reason", "processed_at",
}

// Key returns the identifier used for display and deduplication.
func (t Transaction) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.TransactionID
}

// IsFraud reports whether the upstream status marks t as fraud.
func (t Transaction) IsFraud() bool {
	return t.FraudStatus == StatusFraud
}

// Layouts accepted by ProcessedTime. Python scorers often omit the zone.
var processedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ProcessedTime parses ProcessedAt. Zone-less values are read as UTC.
func (t Transaction) ProcessedTime() (time.Time, error) {
	for _, layout := range processedLayouts {
		if ts, err := time.Parse(layout, t.ProcessedAt); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("processed_at %q: unrecognised timestamp", t.ProcessedAt)
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	var w struct {
		plain
		ID            flexString `json:"id"`
		TransactionID flexString `json:"transaction_id"`
		UserID        flexString `json:"user_id"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(all, k)
	}

	*t = Transaction(w.plain)
	t.ID = string(w.ID)
	t.TransactionID = string(w.TransactionID)
	t.UserID = string(w.UserID)
	t.Extra = nil
	if len(all) > 0 {
		t.Extra = all
	}
	return nil
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	// amount_brl goes out as a JSON number rather than decimal's quoted default.
	base, err := json.Marshal(struct {
		plain
		AmountBRL json.Number `json:"amount_brl"`
	}{plain(t), json.Number(t.AmountBRL.String())})
	if err != nil || len(t.Extra) == 0 {
		return base, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

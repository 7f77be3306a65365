package domain_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
)

func TestTransactionUnmarshal(t *testing.T) {
	raw := `{
		"id": 42,
		"transaction_id": "tx-42",
		"user_id": "u-7",
		"amount_brl": "150.25",
		"fraud_score": 0.91,
		"fraud_status": "fraud",
		"fraud_reason": "velocity",
		"processed_at": "2024-05-01T12:00:00.123456",
		"merchant": {"mcc": "5411"},
		"device_id": "d-1"
	}`

	var tx domain.Transaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))

	assert.Equal(t, "42", tx.ID)
	assert.Equal(t, "tx-42", tx.TransactionID)
	assert.Equal(t, "u-7", tx.UserID)
	assert.True(t, tx.AmountBRL.Equal(decimal.RequireFromString("150.25")))
	assert.Equal(t, 0.91, tx.FraudScore)
	assert.Equal(t, domain.StatusFraud, tx.FraudStatus)
	assert.True(t, tx.IsFraud())
	require.Len(t, tx.Extra, 2)
	assert.JSONEq(t, `{"mcc":"5411"}`, string(tx.Extra["merchant"]))

	ts, err := tx.ProcessedTime()
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())
}

func TestTransactionMarshalKeepsExtraFields(t *testing.T) {
	var tx domain.Transaction
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","amount_brl":10.5,"fraud_score":0.2,"fraud_status":"clean","channel":"pix"}`), &tx))

	out, err := json.Marshal(tx)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "pix", got["channel"])
	assert.Equal(t, 10.5, got["amount_brl"])
	assert.Equal(t, "clean", got["fraud_status"])
}

func TestKey(t *testing.T) {
	assert.Equal(t, "a", domain.Transaction{ID: "a", TransactionID: "b"}.Key())
	assert.Equal(t, "b", domain.Transaction{TransactionID: "b"}.Key())
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name  string
		tx    domain.Transaction
		kinds []domain.AnomalyKind
	}{
		{
			name: "well formed",
			tx:   domain.Transaction{ID: "1", AmountBRL: decimal.NewFromInt(5), FraudScore: 0.5, FraudStatus: domain.StatusReview},
		},
		{
			name:  "unknown status",
			tx:    domain.Transaction{ID: "2", FraudStatus: "suspicious"},
			kinds: []domain.AnomalyKind{domain.AnomalyUnknownStatus},
		},
		{
			name:  "negative amount",
			tx:    domain.Transaction{ID: "3", AmountBRL: decimal.NewFromInt(-1), FraudStatus: domain.StatusFraud},
			kinds: []domain.AnomalyKind{domain.AnomalyNegativeAmount},
		},
		{
			name:  "score above one",
			tx:    domain.Transaction{ID: "4", FraudScore: 1.2, FraudStatus: domain.StatusClean},
			kinds: []domain.AnomalyKind{domain.AnomalyScoreOutOfRange},
		},
		{
			name:  "nan score and bad status",
			tx:    domain.Transaction{ID: "5", FraudScore: math.NaN(), FraudStatus: ""},
			kinds: []domain.AnomalyKind{domain.AnomalyUnknownStatus, domain.AnomalyScoreOutOfRange},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.Inspect(tc.tx)
			require.Len(t, got, len(tc.kinds))
			for i, a := range got {
				assert.Equal(t, tc.kinds[i], a.Kind)
				assert.Equal(t, tc.tx.Key(), a.TransactionID)
			}
		})
	}
}

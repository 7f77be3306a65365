package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/metrics"
)

// EventNewBatch is the only channel event that carries transactions.
const EventNewBatch = "new_batch"

var ErrNoFrauds = errors.New(`payload has no "frauds" array`)

// message covers both a full channel envelope and a bare batch payload.
type message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Frauds  json.RawMessage `json:"frauds"`
}

type payload struct {
	Frauds []json.RawMessage `json:"frauds"`
}

// Decoder turns channel messages into batches. Records that fail to decode
// are logged, counted and skipped; the rest of the batch is kept.
type Decoder struct {
	source string
	logger *slog.Logger
}

// NewDecoder creates a decoder that tags batches with source.
func NewDecoder(source string, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{source: source, logger: logger}
}

// Message decodes either {"event":"new_batch","payload":{"frauds":[...]}} or a
// bare {"frauds":[...]}. ok is false for envelopes with any other event name.
func (d *Decoder) Message(data []byte) (b domain.Batch, ok bool, err error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Batch{}, false, fmt.Errorf("decode message: %w", err)
	}
	switch {
	case m.Event != "":
		if m.Event != EventNewBatch {
			d.logger.Debug("ignoring channel event", "event", m.Event, "source", d.source)
			return domain.Batch{}, false, nil
		}
		b, _, err = d.Payload(m.Payload)
	case m.Frauds != nil:
		b, _, err = d.Payload(data)
	default:
		return domain.Batch{}, false, ErrNoFrauds
	}
	if err != nil {
		return domain.Batch{}, false, err
	}
	return b, true, nil
}

// Payload decodes a {"frauds":[...]} object and reports how many records
// were skipped.
func (d *Decoder) Payload(data []byte) (domain.Batch, int, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Batch{}, 0, fmt.Errorf("decode payload: %w", err)
	}
	if p.Frauds == nil {
		return domain.Batch{}, 0, ErrNoFrauds
	}

	b := domain.Batch{
		ID:         uuid.NewString(),
		Source:     d.source,
		Frauds:     make([]domain.Transaction, 0, len(p.Frauds)),
		ReceivedAt: time.Now(),
	}
	rejected := 0
	for i, raw := range p.Frauds {
		var tx domain.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			rejected++
			metrics.RecordsRejected.WithLabelValues(d.source).Inc()
			d.logger.Warn("skipping undecodable record",
				"batch_id", b.ID,
				"index", i,
				"source", d.source,
				"err", err,
			)
			continue
		}
		b.Frauds = append(b.Frauds, tx)
	}
	return b, rejected, nil
}

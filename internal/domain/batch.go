package domain

import "time"

// Batch is a group of scored transactions delivered by one push event.
type Batch struct {
	ID         string        `json:"id"`
	Source     string        `json:"source"` // "redis", "http", "replay"
	Frauds     []Transaction `json:"frauds"`
	ReceivedAt time.Time     `json:"received_at"`
}

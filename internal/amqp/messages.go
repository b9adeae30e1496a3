package amqp

import (
	"encoding/json"
	"time"
)

// Event actions for the transaction lifecycle.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// TransactionEvent announces a completed mutation. Created and updated events
// carry a snapshot so consumers can build audit rows without a read; deleted
// events only carry the id since the row is already gone.
type TransactionEvent struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	Title       string    `json:"title,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Type        string    `json:"type,omitempty"`
	Category    string    `json:"category,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var ev TransactionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

package importevents

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ImportCompleted is published by billing after a batch import commits.
type ImportCompleted struct {
	EventID     uuid.UUID `json:"event_id"`
	BatchID     string    `json:"batch_id"`
	Rows        int       `json:"rows"`
	CompletedAt time.Time `json:"completed_at"`
}

var errMissingEventID = errors.New("importevents: event_id missing")

// NewImportCompleted stamps a new event.
func NewImportCompleted(batchID string, rows int) *ImportCompleted {
	return &ImportCompleted{
		EventID:     uuid.New(),
		BatchID:     batchID,
		Rows:        rows,
		CompletedAt: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *ImportCompleted) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ImportCompletedFromJSON decodes a message and requires an event id.
func ImportCompletedFromJSON(data []byte) (*ImportCompleted, error) {
	var msg ImportCompleted
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.EventID == uuid.Nil {
		return nil, errMissingEventID
	}
	return &msg, nil
}

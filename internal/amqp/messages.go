package amqp

import (
	"encoding/json"
	"time"

	"ricorrenze/internal/core"
)

// InstanceCreatedMessage announces one materialized ledger instance. It is
// intentionally light: the ledger worker fetches the full row from storage
// by kind and id.
type InstanceCreatedMessage struct {
	InstanceID int64     `json:"instance_id"`
	SeriesID   int64     `json:"series_id"`
	Kind       core.Kind `json:"kind"`
	DueDate    string    `json:"due_date"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewInstanceCreatedMessage builds a message for a freshly materialized
// instance.
func NewInstanceCreatedMessage(instanceID, seriesID int64, kind core.Kind, dueDate core.Date) *InstanceCreatedMessage {
	return &InstanceCreatedMessage{
		InstanceID: instanceID,
		SeriesID:   seriesID,
		Kind:       kind,
		DueDate:    dueDate.String(),
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *InstanceCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InstanceCreatedMessageFromJSON parses a message from JSON bytes.
func InstanceCreatedMessageFromJSON(data []byte) (*InstanceCreatedMessage, error) {
	var msg InstanceCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

package amqp

import (
	"encoding/json"
	"time"
)

// MutationEventMessage announces a committed mutation to downstream consumers.
// It carries the outbox payload verbatim; consumers needing the full record
// fetch it from the API.
type MutationEventMessage struct {
	EventID   string          `json:"event_id"`
	UserID    string          `json:"user_id"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (m *MutationEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MutationEventMessageFromJSON(data []byte) (*MutationEventMessage, error) {
	var msg MutationEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ProcessMonthMessage asks the recurring worker to materialize one user's
// templates for one month.
type ProcessMonthMessage struct {
	UserID    string    `json:"user_id"`
	Month     string    `json:"month"`
	Timestamp time.Time `json:"timestamp"`
}

func NewProcessMonthMessage(userID, month string) *ProcessMonthMessage {
	return &ProcessMonthMessage{
		UserID:    userID,
		Month:     month,
		Timestamp: time.Now(),
	}
}

func (m *ProcessMonthMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ProcessMonthMessageFromJSON(data []byte) (*ProcessMonthMessage, error) {
	var msg ProcessMonthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reasons carried by MonthChangedMessage.
const (
	ReasonCreate    = "create"
	ReasonUpdate    = "update"
	ReasonDelete    = "delete"
	ReasonReconcile = "reconcile"
	ReasonResync    = "resync"
)

// MonthChangedMessage tells consumers that the expenses of one calendar
// month changed. It carries no rows; consumers read the month back from the
// store.
type MonthChangedMessage struct {
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMonthChangedMessage creates a message stamped with the current time
func NewMonthChangedMessage(year, month int, reason string) *MonthChangedMessage {
	return &MonthChangedMessage{
		Year:      year,
		Month:     month,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the period carried by the message
func (m *MonthChangedMessage) Validate() error {
	if m.Year < 1 {
		return fmt.Errorf("invalid year %d", m.Year)
	}
	if m.Month < 1 || m.Month > 12 {
		return fmt.Errorf("invalid month %d", m.Month)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *MonthChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MonthChangedMessageFromJSON decodes and validates a message
func MonthChangedMessageFromJSON(data []byte) (*MonthChangedMessage, error) {
	var msg MonthChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

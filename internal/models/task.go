package models

import (
	"encoding/json"
	"fmt"
)

// Task is the on-wire copy of a DatasourceConfig published to the broker.
// TaskID replaces the document-store _id (stringified, never binary) and
// Timestamp records the publish time in epoch seconds.
type Task struct {
	DatasourceConfig `bson:",inline"`

	TaskID    string  `json:"_id" bson:"_id,omitempty"`
	Timestamp float64 `json:"timestamp" bson:"timestamp"`
}

// TaskFromJSON deserializes a broker message body into a Task.
func TaskFromJSON(body []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

// ToJSON serializes the task for publishing. Messages are UTF-8 JSON.
func (t *Task) ToJSON() ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return body, nil
}

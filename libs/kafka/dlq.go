package kafka

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetter is what DLQPublisher writes for a message that could not be
// published to its original topic.
type DeadLetter struct {
	OriginalTopic string    `json:"original_topic"`
	Key           string    `json:"key,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason,omitempty"`
	Payload       string    `json:"payload_base64"`
	Timestamp     time.Time `json:"timestamp"`
}

func BuildDeadLetter(topic, key string, value any, err error, reason string) DeadLetter {
	payload := ""
	if value != nil {
		if raw, marshalErr := json.Marshal(value); marshalErr == nil {
			payload = base64.StdEncoding.EncodeToString(raw)
		} else {
			payload = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%v", value)))
		}
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return DeadLetter{
		OriginalTopic: topic,
		Key:           key,
		Error:         errMsg,
		Reason:        reason,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}

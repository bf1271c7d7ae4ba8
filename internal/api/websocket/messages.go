package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeSample       MessageType = "sample"
	MessageTypeQueryError   MessageType = "query_error"
	MessageTypeSessionState MessageType = "session_state"

	// client -> server
	MessageTypeSubscribe MessageType = "subscribe"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	PID       string      `json:"pid,omitempty"`
	Data      interface{} `json:"data"`
}

type SampleData struct {
	Name      string  `json:"name"`
	Value     uint32  `json:"value"`
	Scaled    float64 `json:"scaled"`
	Unit      string  `json:"unit,omitempty"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

type QueryErrorData struct {
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	ElapsedMs  int64  `json:"elapsed_ms"`
	IntervalMs int64  `json:"interval_ms"`
}

type SessionStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

// SubscribeRequest limits a client to the listed PIDs (hex ids). An empty
// list subscribes to everything.
type SubscribeRequest struct {
	Type MessageType `json:"type"`
	PIDs []string    `json:"pids"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewSampleMessage(pid string, data SampleData) Message {
	msg := NewMessage(MessageTypeSample, data)
	msg.PID = pid
	return msg
}

func NewQueryErrorMessage(pid string, data QueryErrorData) Message {
	msg := NewMessage(MessageTypeQueryError, data)
	msg.PID = pid
	return msg
}

func NewSessionStateMessage(newState, previousState string) Message {
	return NewMessage(MessageTypeSessionState, SessionStateData{
		State:    newState,
		Previous: previousState,
	})
}

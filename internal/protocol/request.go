package protocol

import (
	"encoding/json"
	"fmt"
)

// Reserved action names handled by the worker host itself.
const (
	// ActionStreamOpen asks the host to start a native subscription.
	ActionStreamOpen = "stream.open"
	// ActionEndStream asks the host to release a subscription.
	ActionEndStream = "endStream"
	// ActionCancel asks the host to cancel an in-flight action.
	ActionCancel = "action.cancel"
)

// Stream envelope types.
const (
	// EnvelopeData carries one stream value.
	EnvelopeData = "stream.data"
	// EnvelopeFail reports that the host-side subscription died.
	EnvelopeFail = "stream.fail"
	// EnvelopeEnd reports that the host-side subscription completed.
	EnvelopeEnd = "stream.end"
)

// ActionMessage is an outbound request.
//
// Wire format:
//
//	{"action": "preferences.sync", "id": "01JB8X...", "data": {...}}
type ActionMessage struct {
	Action string          `json:"action"`
	ID     string          `json:"id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ResultMessage is the answer to an ActionMessage.
//
// Wire format for success:
//
//	{"action": "preferences.sync", "id": "01JB8X...", "result": {...}}
//
// Wire format for error:
//
//	{"action": "preferences.sync", "id": "01JB8X...", "error": "message",
//	 "errorKind": "action", "errorCode": "unknown_action"}
//
// errorKind and errorCode are optional.
type ResultMessage struct {
	Action    string          `json:"action"`
	ID        string          `json:"id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
}

// IsError checks if the result reports a failure.
func (r *ResultMessage) IsError() bool {
	return r.Error != ""
}

// StreamEnvelope carries one stream event from the host.
//
// Wire format:
//
//	{"type": "stream.data", "streamId": "7f0c...", "result": {...}}
//	{"type": "stream.fail", "streamId": "7f0c...", "error": "subscription closed"}
type StreamEnvelope struct {
	Type     string          `json:"type"`
	StreamID string          `json:"streamId"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// OpenStreamRequest is the data of a stream.open action.
type OpenStreamRequest struct {
	StreamID string          `json:"streamId"`
	Stream   string          `json:"stream"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// OpenStreamResult is the host's answer to a stream.open action.
type OpenStreamResult struct {
	StreamID string `json:"streamId"`
}

// EndStreamRequest is the data of an endStream action.
type EndStreamRequest struct {
	StreamID string `json:"streamId"`
}

// EndStreamResult is the host's answer to an endStream action.
type EndStreamResult struct {
	StreamID string `json:"streamId"`
	Released bool   `json:"released"`
}

// CancelRequest is the data of an action.cancel action.
type CancelRequest struct {
	ID string `json:"id"`
}

// CancelResult is the host's answer to an action.cancel action.
type CancelResult struct {
	Found            bool `json:"found"`
	AlreadyCompleted bool `json:"alreadyCompleted"`
}

// Frame is any message that can cross the boundary. Exactly which fields are
// set decides what it is; see Envelope, Result and Action.
type Frame struct {
	Action    string          `json:"action,omitempty"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Type      string          `json:"type,omitempty"`
	StreamID  string          `json:"streamId,omitempty"`
}

// DecodeFrame parses a single JSON frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	return &f, nil
}

// IsEnvelope reports whether the frame is a stream envelope.
func (f *Frame) IsEnvelope() bool {
	return f.StreamID != ""
}

// Envelope returns the frame as a stream envelope.
func (f *Frame) Envelope() *StreamEnvelope {
	return &StreamEnvelope{
		Type:     f.Type,
		StreamID: f.StreamID,
		Result:   f.Result,
		Error:    f.Error,
	}
}

// ResultMessage returns the frame as a result message.
func (f *Frame) ResultMessage() *ResultMessage {
	return &ResultMessage{
		Action:    f.Action,
		ID:        f.ID,
		Result:    f.Result,
		Error:     f.Error,
		ErrorKind: f.ErrorKind,
		ErrorCode: f.ErrorCode,
	}
}

// ActionMessage returns the frame as an action message.
func (f *Frame) ActionMessage() *ActionMessage {
	return &ActionMessage{
		Action: f.Action,
		ID:     f.ID,
		Data:   f.Data,
	}
}

// SalvageID extracts the correlation ID from a frame that failed to decode,
// so the single request it belongs to can be rejected.
func SalvageID(data []byte) string {
	var probe struct {
		ID any `json:"id"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}

	id, _ := probe.ID.(string)

	return id
}

// EncodeData marshals an action payload. Nil becomes an absent field and
// json.RawMessage values are passed through.
func EncodeData(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return raw, nil
}

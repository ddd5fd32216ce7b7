// Package bus connects the request-acceptance layer to the orchestrator with
// at-least-once delivery of job lifecycle events.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names carried on the wire.
const (
	EventGenerateRequest      = "generate.request"
	EventGenerateCompleted    = "generate.completed"
	EventVoiceUploadRequest   = "voice.upload.request"
	EventVoiceUploadCompleted = "voice.upload.completed"
)

// ErrUnknownEvent is returned when an envelope names an event nobody defined.
var ErrUnknownEvent = errors.New("bus: unknown event")

// Event is one member of the tagged union of payloads. Payloads are validated
// at the bus boundary, before dispatch to handlers.
type Event interface {
	EventName() string
	Validate() error
}

// GenerateRequested asks the orchestrator to run one generation job.
type GenerateRequested struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
}

func (e GenerateRequested) EventName() string { return EventGenerateRequest }

func (e GenerateRequested) Validate() error {
	if e.JobID == "" {
		return errors.New("bus: generate.request: job_id is required")
	}
	if e.UserID == "" {
		return errors.New("bus: generate.request: user_id is required")
	}
	return nil
}

// GenerateCompleted notifies listeners that a job finished.
type GenerateCompleted struct {
	JobID     string `json:"job_id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	ResultKey string `json:"result_key"`
}

func (e GenerateCompleted) EventName() string { return EventGenerateCompleted }

func (e GenerateCompleted) Validate() error {
	if e.JobID == "" {
		return errors.New("bus: generate.completed: job_id is required")
	}
	return nil
}

// VoiceUploadRequested carries a raw voice file, base64-encoded for
// transport, toward the orchestrator's upload pipeline.
type VoiceUploadRequested struct {
	FileBufferB64 string `json:"file_buffer_b64"`
	FileName      string `json:"file_name"`
	ContentType   string `json:"content_type"`
	VoiceName     string `json:"voice_name,omitempty"`
	Service       string `json:"service,omitempty"`
	UserID        string `json:"user_id"`
}

func (e VoiceUploadRequested) EventName() string { return EventVoiceUploadRequest }

func (e VoiceUploadRequested) Validate() error {
	if e.FileBufferB64 == "" {
		return errors.New("bus: voice.upload.request: file_buffer_b64 is required")
	}
	if e.FileName == "" {
		return errors.New("bus: voice.upload.request: file_name is required")
	}
	if e.UserID == "" {
		return errors.New("bus: voice.upload.request: user_id is required")
	}
	return nil
}

// VoiceUploadCompleted notifies listeners that an uploaded voice is usable.
type VoiceUploadCompleted struct {
	UserID    string `json:"user_id"`
	VoiceKey  string `json:"voice_key"`
	VoiceName string `json:"voice_name"`
	Service   string `json:"service"`
}

func (e VoiceUploadCompleted) EventName() string { return EventVoiceUploadCompleted }

func (e VoiceUploadCompleted) Validate() error {
	if e.VoiceKey == "" {
		return errors.New("bus: voice.upload.completed: voice_key is required")
	}
	return nil
}

// Publisher delivers events. Callers must treat a publish failure as a
// first-class error and compensate for any state they created beforehand.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Envelope is the wire format: the event name plus its JSON payload.
type Envelope struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Wrap encodes an event into an envelope, validating it first.
func Wrap(event Event) (*Envelope, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("bus: encode payload: %w", err)
	}
	return &Envelope{Name: event.EventName(), Payload: payload}, nil
}

// Unwrap decodes and validates the typed payload of an envelope.
func Unwrap(env *Envelope) (Event, error) {
	var event Event
	switch env.Name {
	case EventGenerateRequest:
		event = &GenerateRequested{}
	case EventGenerateCompleted:
		event = &GenerateCompleted{}
	case EventVoiceUploadRequest:
		event = &VoiceUploadRequested{}
	case EventVoiceUploadCompleted:
		event = &VoiceUploadCompleted{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Name)
	}
	if err := json.Unmarshal(env.Payload, event); err != nil {
		return nil, fmt.Errorf("bus: decode %s payload: %w", env.Name, err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

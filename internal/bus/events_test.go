package bus

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	env, err := Wrap(GenerateRequested{JobID: "job-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}
	if env.Name != EventGenerateRequest {
		t.Fatalf("envelope name = %q", env.Name)
	}

	event, err := Unwrap(env)
	if err != nil {
		t.Fatalf("Unwrap error: %v", err)
	}
	req, ok := event.(*GenerateRequested)
	if !ok {
		t.Fatalf("unexpected event type %T", event)
	}
	if req.JobID != "job-1" || req.UserID != "user-1" {
		t.Fatalf("payload mismatch: %+v", req)
	}
}

func TestWrapRejectsInvalidEvent(t *testing.T) {
	if _, err := Wrap(GenerateRequested{UserID: "user-1"}); err == nil {
		t.Fatal("expected validation error for missing job_id")
	}
	if _, err := Wrap(VoiceUploadRequested{FileName: "a.mp3", UserID: "u"}); err == nil {
		t.Fatal("expected validation error for missing file buffer")
	}
}

func TestUnwrapRejectsInvalidPayload(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	_, err := Unwrap(&Envelope{Name: EventGenerateRequest, Payload: payload})
	if err == nil {
		t.Fatal("expected validation error for missing job_id")
	}
}

func TestUnwrapUnknownEvent(t *testing.T) {
	_, err := Unwrap(&Envelope{Name: "generate.unknown", Payload: []byte(`{}`)})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestUnwrapAllEventNames(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{"generate request", GenerateRequested{JobID: "j", UserID: "u"}},
		{"generate completed", GenerateCompleted{JobID: "j", UserID: "u", Kind: "tts", ResultKey: "r"}},
		{"voice upload request", VoiceUploadRequested{FileBufferB64: "YQ==", FileName: "a.mp3", UserID: "u"}},
		{"voice upload completed", VoiceUploadCompleted{UserID: "u", VoiceKey: "vk", VoiceName: "n", Service: "default"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Wrap(tc.event)
			if err != nil {
				t.Fatalf("Wrap error: %v", err)
			}
			got, err := Unwrap(env)
			if err != nil {
				t.Fatalf("Unwrap error: %v", err)
			}
			if got.EventName() != tc.event.EventName() {
				t.Fatalf("event name = %q, want %q", got.EventName(), tc.event.EventName())
			}
		})
	}
}

package domain

import "time"

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindTTS            JobKind = "tts"
	JobKindSpeechToSpeech JobKind = "speech_to_speech"
	JobKindSoundEffect    JobKind = "sound_effect"
	JobKindImage          JobKind = "image"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

// Credit fees charged per successfully completed job.
const (
	CostAudio = 15
	CostImage = 40
)

// CostForKind returns the credit fee for a job kind.
func CostForKind(kind JobKind) int {
	if kind == JobKindImage {
		return CostImage
	}
	return CostAudio
}

// JobPayload carries the generation inputs for a job. Which fields are set
// depends on the kind: TTS uses Text and VoiceKey, speech-to-speech uses
// SourceKey and VoiceKey, sound effects and images use Prompt.
type JobPayload struct {
	Text      string `json:"text,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	VoiceKey  string `json:"voice_key,omitempty"`
	SourceKey string `json:"source_key,omitempty"`
	Service   string `json:"service,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Job encapsulates the lifecycle of one generation request.
//
// Status moves PENDING -> IN_PROGRESS -> COMPLETED and is never mutated once
// completed. Failed is a separate flag set by the orchestrator's failure hook
// and never cleared. ResultKey is non-empty if and only if the job completed.
type Job struct {
	ID        string
	UserID    string
	Kind      JobKind
	Payload   JobPayload
	Status    JobStatus
	ResultKey string
	Failed    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the job reached a final state.
func (j Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Failed
}

// IsAudio reports whether the job produces audio output.
func (j Job) IsAudio() bool {
	return j.Kind != JobKindImage
}

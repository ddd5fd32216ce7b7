package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/middleware"
)

type generateRequest struct {
	Text      string `json:"text"`
	Prompt    string `json:"prompt"`
	VoiceKey  string `json:"voice_key"`
	SourceKey string `json:"source_key"`
	Service   string `json:"service"`
	Model     string `json:"model"`
}

type jobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Cost      int    `json:"cost"`
	Throttled bool   `json:"throttled"`
}

// TTSGenerate accepts a text-to-speech request.
func (a *App) TTSGenerate(w http.ResponseWriter, r *http.Request) {
	a.acceptGeneration(w, r, domain.JobKindTTS)
}

// VoiceConvert accepts a speech-to-speech request.
func (a *App) VoiceConvert(w http.ResponseWriter, r *http.Request) {
	a.acceptGeneration(w, r, domain.JobKindSpeechToSpeech)
}

// SoundEffectGenerate accepts a sound-effect request.
func (a *App) SoundEffectGenerate(w http.ResponseWriter, r *http.Request) {
	a.acceptGeneration(w, r, domain.JobKindSoundEffect)
}

// ImagesGenerate accepts an image generation request.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	a.acceptGeneration(w, r, domain.JobKindImage)
}

// acceptGeneration validates the request, gates it on credits, records the
// job, and hands it to the orchestrator through the bus. A failed publish
// marks the freshly created job failed so it never sits pending forever.
func (a *App) acceptGeneration(w http.ResponseWriter, r *http.Request, kind domain.JobKind) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	payload, err := payloadForKind(kind, req)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	cost := domain.CostForKind(kind)
	enough, err := a.Credits.HasSufficient(r.Context(), userID, cost)
	if err != nil {
		a.Log.Error().Err(err).Str("user_id", userID).Msg("credit check failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}
	if !enough {
		a.error(w, http.StatusPaymentRequired, "not_enough_credits", "Not enough credits")
		return
	}

	job := &domain.Job{
		ID:      uuid.NewString(),
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
		Status:  domain.JobStatusPending,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Log.Error().Err(err).Str("user_id", userID).Msg("create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}

	event := bus.GenerateRequested{JobID: job.ID, UserID: userID}
	if err := a.Bus.Publish(r.Context(), event); err != nil {
		// Compensate: without its trigger event the job would stay pending
		// forever, so fail it now where the operator can see it.
		a.Log.Error().Err(err).Str("job_id", job.ID).Msg("publish generate.request failed, failing job")
		if markErr := a.Jobs.MarkFailed(r.Context(), job.ID); markErr != nil {
			a.Log.Error().Err(markErr).Str("job_id", job.ID).Msg("compensating mark-failed failed")
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}

	a.json(w, http.StatusAccepted, jobResponse{
		JobID:     job.ID,
		Status:    string(domain.JobStatusPending),
		Cost:      cost,
		Throttled: a.throttled(r, userID),
	})
}

// throttled reports whether the user crossed the advisory trailing-window
// limit. It only drives a client-facing warning; admission control lives in
// the worker.
func (a *App) throttled(r *http.Request, userID string) bool {
	since := time.Now().Add(-a.Cfg.ThrottleWindow)
	count, err := a.Jobs.CountCreatedSince(r.Context(), userID, since)
	if err != nil {
		a.Log.Warn().Err(err).Str("user_id", userID).Msg("throttle window count failed")
		return false
	}
	return count > a.Cfg.ThrottleLimit
}

func payloadForKind(kind domain.JobKind, req generateRequest) (domain.JobPayload, error) {
	payload := domain.JobPayload{
		Text:      strings.TrimSpace(req.Text),
		Prompt:    strings.TrimSpace(req.Prompt),
		VoiceKey:  strings.TrimSpace(req.VoiceKey),
		SourceKey: strings.TrimSpace(req.SourceKey),
		Service:   strings.TrimSpace(req.Service),
		Model:     strings.TrimSpace(req.Model),
	}
	switch kind {
	case domain.JobKindTTS:
		if payload.Text == "" {
			return payload, errText
		}
		if payload.VoiceKey == "" {
			return payload, errVoiceKey
		}
	case domain.JobKindSpeechToSpeech:
		if payload.SourceKey == "" {
			return payload, errSourceKey
		}
		if payload.VoiceKey == "" {
			return payload, errVoiceKey
		}
	case domain.JobKindSoundEffect, domain.JobKindImage:
		if payload.Prompt == "" {
			return payload, errPrompt
		}
	}
	return payload, nil
}

var (
	errText      = fieldError("text is required")
	errPrompt    = fieldError("prompt is required")
	errVoiceKey  = fieldError("voice_key is required")
	errSourceKey = fieldError("source_key is required")
)

type fieldError string

func (e fieldError) Error() string { return string(e) }

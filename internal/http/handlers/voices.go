package handlers

import (
	"encoding/base64"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/bus"
	"server/internal/middleware"
)

// maxVoiceUpload bounds the multipart body. Provider samples are short
// clips, anything bigger is a client mistake.
const maxVoiceUpload = 25 << 20

type voiceResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	VoiceKey string `json:"voice_key"`
	Service  string `json:"service"`
	System   bool   `json:"system"`
}

// VoiceUpload accepts a voice sample and queues it for registration with the
// provider. The file travels through the bus base64-encoded; the worker
// stages it and performs the actual upload.
func (a *App) VoiceUpload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceUpload)
	if err := r.ParseMultipartForm(maxVoiceUpload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "file is required")
		return
	}
	defer file.Close()

	buf, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read file")
		return
	}
	if len(buf) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "file is empty")
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = defaultVoiceName(header.Filename)
	}

	event := bus.VoiceUploadRequested{
		FileBufferB64: base64.StdEncoding.EncodeToString(buf),
		FileName:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		VoiceName:     name,
		Service:       strings.TrimSpace(r.FormValue("service")),
		UserID:        userID,
	}
	if err := a.Bus.Publish(r.Context(), event); err != nil {
		a.Log.Error().Err(err).Str("user_id", userID).Msg("publish voice.upload.request failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue upload")
		return
	}

	a.json(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"name":   name,
	})
}

// VoiceList returns system voices plus the caller's own uploads.
func (a *App) VoiceList(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	voices, err := a.Voices.ListAvailable(r.Context(), userID)
	if err != nil {
		a.Log.Error().Err(err).Str("user_id", userID).Msg("list voices failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}

	out := make([]voiceResponse, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceResponse{
			ID:       v.ID,
			Name:     v.Name,
			VoiceKey: v.VoiceKey,
			Service:  v.Service,
			System:   v.IsSystem(),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"voices": out})
}

// defaultVoiceName derives a display name from the uploaded filename:
// extension stripped, separators spaced, title-cased.
func defaultVoiceName(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" {
		return "My Voice"
	}
	return cases.Title(language.English).String(base)
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
)

// downloadTTL is how long a presigned result link stays valid.
const downloadTTL = 15 * time.Minute

type jobDetail struct {
	JobID     string `json:"job_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Failed    bool   `json:"failed"`
	ResultKey string `json:"result_key,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// JobStatus returns one job. Ownership is enforced in the query: another
// user's job id reads as not found.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "jobID")

	job, err := a.Jobs.GetForUser(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}
	a.json(w, http.StatusOK, toJobDetail(job))
}

// JobList returns the caller's recent jobs, newest first.
func (a *App) JobList(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	jobs, err := a.Jobs.ListForUser(r.Context(), userID, limit)
	if err != nil {
		a.Log.Error().Err(err).Str("user_id", userID).Msg("list jobs failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}

	out := make([]jobDetail, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobDetail(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": out})
}

// JobDownload hands out a short-lived signed URL for a completed job's
// result.
func (a *App) JobDownload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "jobID")

	job, err := a.Jobs.GetForUser(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}
	if job.Status != domain.JobStatusCompleted || job.ResultKey == "" {
		a.error(w, http.StatusConflict, "not_ready", "job has no result yet")
		return
	}

	url, err := a.Store.Presign(job.ResultKey, downloadTTL)
	if err != nil {
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("presign result failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"url": url})
}

func toJobDetail(job *domain.Job) jobDetail {
	return jobDetail{
		JobID:     job.ID,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		Failed:    job.Failed,
		ResultKey: job.ResultKey,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
}

package handlers

import (
	"net/http"
	"time"

	"server/internal/middleware"
)

type creditEntryResponse struct {
	JobID     string `json:"job_id,omitempty"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

// CreditBalance returns the caller's current balance.
func (a *App) CreditBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Credits.Balance(r.Context(), userID)
	if err != nil {
		a.Log.Error().Err(err).Str("user_id", userID).Msg("load balance failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}
	a.json(w, http.StatusOK, map[string]int{"credits": balance})
}

// CreditHistory returns the caller's recent ledger entries, newest first.
func (a *App) CreditHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	entries, err := a.Credits.EntriesForUser(r.Context(), userID, 100)
	if err != nil {
		a.Log.Error().Err(err).Str("user_id", userID).Msg("load credit history failed")
		a.error(w, http.StatusInternalServerError, "internal", "something went wrong")
		return
	}
	out := make([]creditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, creditEntryResponse{
			JobID:     e.JobID,
			Delta:     e.Delta,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"entries": out})
}

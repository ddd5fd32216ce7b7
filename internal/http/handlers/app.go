package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/infra"
)

// ObjectStore is the slice of the storage layer the handlers use to build
// and validate download URLs.
type ObjectStore interface {
	Presign(key string, ttl time.Duration) (string, error)
	Verify(key string, query url.Values) error
	BasePath() string
}

// App bundles the dependencies of the HTTP acceptance layer. All clients are
// constructed by the process entry point and injected here.
type App struct {
	Cfg     *infra.Config
	Log     infra.Logger
	Jobs    domain.JobRepository
	Credits domain.CreditRepository
	Voices  domain.VoiceRepository
	Bus     bus.Publisher
	Store   ObjectStore
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"server/internal/storage"
)

// StaticFile serves a stored object addressed by a presigned URL issued by
// JobDownload. The signature covers the key and the expiry, so the path
// cannot be swapped after signing.
func (a *App) StaticFile(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, "..") {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid path")
		return
	}

	if err := a.Store.Verify(key, r.URL.Query()); err != nil {
		if errors.Is(err, storage.ErrExpired) {
			a.error(w, http.StatusForbidden, "link_expired", "download link expired")
			return
		}
		a.error(w, http.StatusForbidden, "forbidden", "invalid download link")
		return
	}

	http.ServeFile(w, r, filepath.Join(a.Store.BasePath(), filepath.FromSlash(key)))
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, origins []string, method, origin, requestMethod string) *httptest.ResponseRecorder {
	t.Helper()
	handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/v1/jobs", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if requestMethod != "" {
		req.Header.Set("Access-Control-Request-Method", requestMethod)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	rec := corsRequest(t, []string{"http://localhost:3000"}, http.MethodGet, "http://localhost:3000", "")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("Allow-Credentials = %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("Vary = %q", got)
	}
}

func TestCORSIgnoresUnlistedOrigin(t *testing.T) {
	rec := corsRequest(t, []string{"http://localhost:3000"}, http.MethodGet, "http://evil.test", "")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Allow-Origin = %q, want empty", got)
	}
	// Caches still key on Origin even for a denied one.
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("Vary = %q", got)
	}
}

func TestCORSWildcardEchoesOriginWithoutCredentials(t *testing.T) {
	rec := corsRequest(t, []string{"*"}, http.MethodGet, "http://anywhere.test", "")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://anywhere.test" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("Allow-Credentials = %q, want empty", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec := corsRequest(t, []string{"http://localhost:3000"}, http.MethodOptions, "http://localhost:3000", "POST")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	// A plain OPTIONS request without a preflight header reaches the handler.
	rec = corsRequest(t, []string{"http://localhost:3000"}, http.MethodOptions, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("plain OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestGateway(t *testing.T, baseURL string) *Gateway {
	t.Helper()
	g, err := NewGateway(Options{BaseURL: baseURL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewGateway error: %v", err)
	}
	return g
}

func TestGenerateSpeech(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		if r.URL.Path != "/generate" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Text != "hello" || req.VoiceKey != "voice-1" {
			t.Fatalf("request mismatch: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(GenerateResult{AudioURL: "https://cdn.example.com/a.mp3", S3Key: "results/a.mp3"})
	}))
	defer ts.Close()

	g := newTestGateway(t, ts.URL)
	result, err := g.GenerateSpeech(context.Background(), GenerateRequest{Text: "hello", VoiceKey: "voice-1"})
	if err != nil {
		t.Fatalf("GenerateSpeech error: %v", err)
	}
	if result.S3Key != "results/a.mp3" {
		t.Fatalf("unexpected result key: %s", result.S3Key)
	}
}

func TestGenerateMissingResultKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GenerateResult{AudioURL: "https://cdn.example.com/a.mp3"})
	}))
	defer ts.Close()

	g := newTestGateway(t, ts.URL)
	if _, err := g.GenerateImage(context.Background(), GenerateRequest{Prompt: "a cat"}); err == nil {
		t.Fatal("expected error for response without result key")
	}
}

func TestGenerateErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"code":"upstream_down","message":"backend unavailable"}`))
	}))
	defer ts.Close()

	g := newTestGateway(t, ts.URL)
	_, err := g.GenerateSoundEffect(context.Background(), GenerateRequest{Prompt: "rain"})
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if perr.Status != http.StatusBadGateway || perr.Code != "upstream_down" {
		t.Fatalf("unexpected error: %+v", perr)
	}
}

func TestServiceOverrideRouting(t *testing.T) {
	var defaultHits, overrideHits int
	def := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defaultHits++
		_ = json.NewEncoder(w).Encode(GenerateResult{S3Key: "results/default.mp3"})
	}))
	defer def.Close()
	alt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		overrideHits++
		_ = json.NewEncoder(w).Encode(GenerateResult{S3Key: "results/alt.mp3"})
	}))
	defer alt.Close()

	g, err := NewGateway(Options{
		BaseURL:   def.URL,
		APIKey:    "test-key",
		Overrides: map[string]string{"special": alt.URL},
	})
	if err != nil {
		t.Fatalf("NewGateway error: %v", err)
	}

	if _, err := g.GenerateSpeech(context.Background(), GenerateRequest{Text: "a"}); err != nil {
		t.Fatalf("default call error: %v", err)
	}
	if _, err := g.GenerateSpeech(context.Background(), GenerateRequest{Service: "Special", Text: "b"}); err != nil {
		t.Fatalf("override call error: %v", err)
	}
	if defaultHits != 1 || overrideHits != 1 {
		t.Fatalf("routing mismatch: default=%d override=%d", defaultHits, overrideHits)
	}
}

func TestUploadVoiceCollisionRetry(t *testing.T) {
	var names []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-voice" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		name := r.FormValue("name")
		names = append(names, name)
		if len(names) == 1 {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"name_exists","message":"voice name taken"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(UploadResult{VoiceKey: "vk-2", S3Key: "voices/vk-2.mp3"})
	}))
	defer ts.Close()

	g := newTestGateway(t, ts.URL)
	g.now = func() time.Time { return time.UnixMilli(1700000000000) }

	result, err := g.UploadVoice(context.Background(), UploadRequest{
		Name:     "My Voice",
		FileName: "sample.mp3",
		Data:     []byte("audio-bytes"),
	})
	if err != nil {
		t.Fatalf("UploadVoice error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(names))
	}
	if names[0] != "My Voice" {
		t.Fatalf("first attempt name = %q", names[0])
	}
	if want := "My Voice_1700000000000"; names[1] != want {
		t.Fatalf("retry name = %q, want %q", names[1], want)
	}
	if result.Name != "My Voice_1700000000000" {
		t.Fatalf("result name = %q", result.Name)
	}
	if result.VoiceKey != "vk-2" {
		t.Fatalf("voice key = %q", result.VoiceKey)
	}
}

func TestUploadVoiceCollisionSubstringFallback(t *testing.T) {
	var attempts int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`a voice with this name already exists`))
			return
		}
		_ = json.NewEncoder(w).Encode(UploadResult{VoiceKey: "vk-9"})
	}))
	defer ts.Close()

	g := newTestGateway(t, ts.URL)
	if _, err := g.UploadVoice(context.Background(), UploadRequest{
		Name:     "narrator",
		FileName: "n.mp3",
		Data:     []byte("x"),
	}); err != nil {
		t.Fatalf("UploadVoice error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected retry on substring match, got %d attempts", attempts)
	}
}

func TestUploadVoiceCollisionRetriesOnce(t *testing.T) {
	var attempts int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"name_exists","message":"voice name taken"}`))
	}))
	defer ts.Close()

	g := newTestGateway(t, ts.URL)
	_, err := g.UploadVoice(context.Background(), UploadRequest{
		Name:     "narrator",
		FileName: "n.mp3",
		Data:     []byte("x"),
	})
	if err == nil {
		t.Fatal("expected error after second collision")
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
	if !IsNameCollision(err) {
		t.Fatalf("expected collision error, got %v", err)
	}
}

func TestUploadVoiceNonCollisionNotRetried(t *testing.T) {
	var attempts int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal","message":"boom"}`))
	}))
	defer ts.Close()

	g := newTestGateway(t, ts.URL)
	if _, err := g.UploadVoice(context.Background(), UploadRequest{
		Name:     "narrator",
		FileName: "n.mp3",
		Data:     []byte("x"),
	}); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
}

func TestNewGatewayRequiresKey(t *testing.T) {
	if _, err := NewGateway(Options{BaseURL: "http://localhost"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

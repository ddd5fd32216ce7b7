// Package provider implements the HTTP gateway to the external generation
// backends: text-to-speech, voice conversion, sound effects, image
// generation, and voice uploads.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// ErrMissingAPIKey indicates that the gateway was configured without credentials.
var ErrMissingAPIKey = errors.New("provider: api key is required")

// Options configures the gateway.
type Options struct {
	// BaseURL is the default backend. Overrides maps a service namespace to
	// a dedicated base URL.
	BaseURL        string
	Overrides      map[string]string
	APIKey         string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Gateway performs HTTP calls to the generation backends. All calls carry a
// shared-secret bearer credential; there are no per-user credentials.
type Gateway struct {
	baseURL    string
	overrides  map[string]string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time
}

// NewGateway validates the options and constructs a Gateway.
func NewGateway(opts Options) (*Gateway, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("provider: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	overrides := make(map[string]string, len(opts.Overrides))
	for service, base := range opts.Overrides {
		overrides[strings.ToLower(service)] = strings.TrimRight(base, "/")
	}
	return &Gateway{
		baseURL:    baseURL,
		overrides:  overrides,
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (g *Gateway) base(service string) string {
	if base, ok := g.overrides[strings.ToLower(service)]; ok && base != "" {
		return base
	}
	return g.baseURL
}

// GenerateRequest captures the inputs for a speech, sound-effect or image
// generation call.
type GenerateRequest struct {
	Service   string `json:"-"`
	Model     string `json:"model,omitempty"`
	Text      string `json:"text,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	VoiceKey  string `json:"voice_key,omitempty"`
	SourceKey string `json:"source_key,omitempty"`
}

// GenerateResult is the normalized success payload of a generation call.
type GenerateResult struct {
	AudioURL string `json:"audio_url"`
	S3Key    string `json:"s3_key"`
}

// GenerateSpeech performs one text-to-speech call.
func (g *Gateway) GenerateSpeech(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return g.generate(ctx, req, "/generate")
}

// ConvertVoice performs one speech-to-speech call.
func (g *Gateway) ConvertVoice(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return g.generate(ctx, req, "/convert")
}

// GenerateSoundEffect performs one sound-effect call.
func (g *Gateway) GenerateSoundEffect(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return g.generate(ctx, req, "/sound-effect")
}

// GenerateImage performs one image generation call.
func (g *Gateway) GenerateImage(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return g.generate(ctx, req, "/image")
}

func (g *Gateway) generate(ctx context.Context, req GenerateRequest, path string) (*GenerateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("provider: encode request: %w", err)
	}
	raw, err := g.post(ctx, g.base(req.Service)+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var result GenerateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("provider: decode response: %w", err)
	}
	if result.S3Key == "" {
		return nil, errors.New("provider: response missing result key")
	}
	g.logger.Debug().Str("path", path).Str("s3_key", result.S3Key).Msg("provider: generation succeeded")
	return &result, nil
}

// UploadRequest carries a raw voice file destined for a backend.
type UploadRequest struct {
	Service     string
	Name        string
	FileName    string
	ContentType string
	Data        []byte
}

// UploadResult is the normalized success payload of a voice upload.
type UploadResult struct {
	Message  string   `json:"message"`
	VoiceKey string   `json:"voice_key"`
	S3Key    string   `json:"s3_key"`
	Voices   []string `json:"voices"`
	// Name is the name the backend finally accepted, which differs from the
	// requested one when a collision was resolved.
	Name string `json:"-"`
}

// UploadVoice uploads a voice reference file. When the backend rejects the
// requested name as taken, the upload is retried exactly once with the name
// suffixed by the current unix-millisecond timestamp; any further failure is
// surfaced as-is.
func (g *Gateway) UploadVoice(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	result, err := g.uploadOnce(ctx, req)
	if err == nil {
		result.Name = req.Name
		return result, nil
	}
	if !IsNameCollision(err) {
		return nil, err
	}

	retried := req
	retried.Name = fmt.Sprintf("%s_%d", req.Name, g.now().UnixMilli())
	g.logger.Warn().
		Str("service", req.Service).
		Str("name", req.Name).
		Str("retry_name", retried.Name).
		Msg("provider: voice name taken, retrying with suffixed name")

	result, err = g.uploadOnce(ctx, retried)
	if err != nil {
		return nil, err
	}
	result.Name = retried.Name
	return result, nil
}

func (g *Gateway) uploadOnce(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("provider: voice name is required")
	}
	if len(req.Data) == 0 {
		return nil, errors.New("provider: file data is required")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("name", req.Name); err != nil {
		return nil, fmt.Errorf("provider: encode form: %w", err)
	}
	part, err := writer.CreateFormFile("file", req.FileName)
	if err != nil {
		return nil, fmt.Errorf("provider: encode form: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, fmt.Errorf("provider: encode form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("provider: encode form: %w", err)
	}

	raw, err := g.post(ctx, g.base(req.Service)+"/upload-voice", writer.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	var result UploadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("provider: decode response: %w", err)
	}
	if result.VoiceKey == "" {
		return nil, errors.New("provider: response missing voice key")
	}
	return &result, nil
}

func (g *Gateway) post(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, newError(resp.StatusCode, raw)
	}
	return raw, nil
}

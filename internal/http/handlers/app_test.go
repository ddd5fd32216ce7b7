package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/middleware"
)

type stubJobs struct {
	jobs      map[string]*domain.Job
	created   []*domain.Job
	failed    []string
	createErr error
	count     int
	countErr  error
}

func (s *stubJobs) Create(ctx context.Context, job *domain.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	if s.jobs == nil {
		s.jobs = make(map[string]*domain.Job)
	}
	s.jobs[job.ID] = job
	s.created = append(s.created, job)
	return nil
}

func (s *stubJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *stubJobs) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	job, err := s.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *stubJobs) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	var out []domain.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *stubJobs) MarkInProgress(ctx context.Context, jobID string) error { return nil }

func (s *stubJobs) MarkCompleted(ctx context.Context, jobID, resultKey string) error { return nil }

func (s *stubJobs) MarkFailed(ctx context.Context, jobID string) error {
	s.failed = append(s.failed, jobID)
	return nil
}

func (s *stubJobs) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return s.count, s.countErr
}

type stubCredits struct {
	balance    int
	sufficient bool
	entries    []domain.CreditEntry
}

func (s *stubCredits) Balance(ctx context.Context, userID string) (int, error) {
	return s.balance, nil
}

func (s *stubCredits) HasSufficient(ctx context.Context, userID string, cost int) (bool, error) {
	return s.sufficient, nil
}

func (s *stubCredits) DebitForJob(ctx context.Context, userID, jobID string, cost int) error {
	return nil
}

func (s *stubCredits) Grant(ctx context.Context, userID string, amount int, reason string) error {
	return nil
}

func (s *stubCredits) EntriesForUser(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	return s.entries, nil
}

type stubVoices struct {
	voices []domain.VoiceAsset
}

func (s *stubVoices) Create(ctx context.Context, voice *domain.VoiceAsset) error { return nil }

func (s *stubVoices) ListAvailable(ctx context.Context, userID string) ([]domain.VoiceAsset, error) {
	return s.voices, nil
}

type stubPublisher struct {
	events []bus.Event
	err    error
}

func (s *stubPublisher) Publish(ctx context.Context, event bus.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type stubStore struct {
	signed    string
	verifyErr error
}

func (s *stubStore) Presign(key string, ttl time.Duration) (string, error) {
	if s.signed != "" {
		return s.signed, nil
	}
	return "http://localhost:8080/static/" + key + "?exp=1&sig=s", nil
}

func (s *stubStore) Verify(key string, query url.Values) error { return s.verifyErr }

func (s *stubStore) BasePath() string { return "/tmp" }

type testApp struct {
	app     *App
	jobs    *stubJobs
	credits *stubCredits
	voices  *stubVoices
	pub     *stubPublisher
	store   *stubStore
}

func newTestApp() *testApp {
	t := &testApp{
		jobs:    &stubJobs{},
		credits: &stubCredits{sufficient: true, balance: 100},
		voices:  &stubVoices{},
		pub:     &stubPublisher{},
		store:   &stubStore{},
	}
	t.app = &App{
		Cfg: &infra.Config{
			ThrottleLimit:  3,
			ThrottleWindow: time.Minute,
		},
		Log:     zerolog.Nop(),
		Jobs:    t.jobs,
		Credits: t.credits,
		Voices:  t.voices,
		Bus:     t.pub,
		Store:   t.store,
	}
	return t
}

func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

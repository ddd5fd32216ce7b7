package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/provider"
)

// Retry bounds per run. Voice uploads get a single attempt because the
// provider-side upload is not idempotent beyond the name-collision handling
// the gateway already performs.
const (
	generationAttempts = 3
	uploadAttempts     = 1

	retryDelay = 2 * time.Second
)

// Gateway is the slice of the provider gateway the orchestrator calls.
type Gateway interface {
	GenerateSpeech(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResult, error)
	ConvertVoice(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResult, error)
	GenerateSoundEffect(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResult, error)
	GenerateImage(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResult, error)
	UploadVoice(ctx context.Context, req provider.UploadRequest) (*provider.UploadResult, error)
}

// Limiter queues a run until its owner has a free slot.
type Limiter interface {
	Acquire(ctx context.Context, key string) error
}

// ObjectStore stages uploaded voice files.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Orchestrator consumes job lifecycle events and executes runs.
type Orchestrator struct {
	jobs    domain.JobRepository
	credits domain.CreditRepository
	voices  domain.VoiceRepository
	runs    domain.RunRepository
	gateway Gateway
	bus     bus.Publisher
	limiter Limiter
	store   ObjectStore
	logger  infra.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New wires an orchestrator from its collaborators. All dependencies are
// injected; the orchestrator owns no client lifecycles.
func New(
	jobs domain.JobRepository,
	credits domain.CreditRepository,
	voices domain.VoiceRepository,
	runs domain.RunRepository,
	gateway Gateway,
	publisher bus.Publisher,
	limiter Limiter,
	store ObjectStore,
	logger infra.Logger,
) *Orchestrator {
	return &Orchestrator{
		jobs:    jobs,
		credits: credits,
		voices:  voices,
		runs:    runs,
		gateway: gateway,
		bus:     publisher,
		limiter: limiter,
		store:   store,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Register subscribes the orchestrator's pipelines on the consumer.
func (o *Orchestrator) Register(consumer interface {
	Subscribe(eventName string, handler bus.Handler)
}) {
	consumer.Subscribe(bus.EventGenerateRequest, o.HandleGenerate)
	consumer.Subscribe(bus.EventVoiceUploadRequest, o.HandleVoiceUpload)
}

// HandleGenerate runs the generation pipeline for one generate.request event.
// The run is retried up to its attempt budget; exhausted retries fire the
// failure hook exactly once.
func (o *Orchestrator) HandleGenerate(ctx context.Context, event bus.Event) error {
	req, ok := event.(*bus.GenerateRequested)
	if !ok {
		return fmt.Errorf("orchestrator: unexpected event %T", event)
	}
	log := o.logger.With().Str("job_id", req.JobID).Str("user_id", req.UserID).Logger()

	if err := o.limiter.Acquire(ctx, req.UserID); err != nil {
		return fmt.Errorf("orchestrator: acquire run slot: %w", err)
	}

	state, err := o.loadState(ctx, req.JobID)
	if err != nil {
		return fmt.Errorf("orchestrator: load run state: %w", err)
	}

	for {
		state.Attempts++
		if err := o.runs.Save(ctx, state); err != nil {
			log.Error().Err(err).Msg("orchestrator: persist attempt count failed")
		}

		runErr := o.runGeneration(ctx, req, state, log)
		if runErr == nil {
			log.Info().Int("attempts", state.Attempts).Str("result_key", state.ResultKey).Msg("orchestrator: job completed")
			return nil
		}

		if IsFatal(runErr) || state.Attempts >= generationAttempts {
			o.failJob(ctx, req.JobID, log, runErr)
			return fmt.Errorf("orchestrator: run failed: %w", runErr)
		}

		log.Warn().Err(runErr).Int("attempt", state.Attempts).Msg("orchestrator: transient failure, retrying run")
		if err := o.sleep(ctx, retryDelay*time.Duration(state.Attempts)); err != nil {
			o.failJob(ctx, req.JobID, log, err)
			return fmt.Errorf("orchestrator: retry wait: %w", err)
		}
	}
}

func (o *Orchestrator) loadState(ctx context.Context, jobID string) (*domain.RunState, error) {
	state, err := o.runs.Get(ctx, jobID)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.RunState{JobID: jobID}, nil
	}
	return nil, err
}

// runGeneration executes one attempt of the generation step sequence.
func (o *Orchestrator) runGeneration(ctx context.Context, req *bus.GenerateRequested, state *domain.RunState, log infra.Logger) error {
	var job *domain.Job

	steps := []step{
		{
			name: "fetch-job",
			// Re-executed on re-entry: later steps need the record and the
			// lookup has no side effects beyond the pending->in-progress move,
			// which is guarded in the store.
			rerun: true,
			run: func(ctx context.Context) error {
				fetched, err := o.jobs.GetByID(ctx, req.JobID)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						// The event references a job that no longer exists.
						return Fatal(err)
					}
					return err
				}
				job = fetched
				if job.Status == domain.JobStatusPending {
					if err := o.jobs.MarkInProgress(ctx, job.ID); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: "check-credits",
			run: func(ctx context.Context) error {
				enough, err := o.credits.HasSufficient(ctx, job.UserID, domain.CostForKind(job.Kind))
				if err != nil {
					return err
				}
				if !enough {
					// Retrying cannot change this without external action.
					return Fatal(domain.ErrInsufficientCredits)
				}
				return nil
			},
		},
		{
			name: "call-provider",
			run: func(ctx context.Context) error {
				result, err := o.callProvider(ctx, job)
				if err != nil {
					// Flag the job before propagating so dashboards can see
					// the partial failure while the retry budget still runs.
					if markErr := o.jobs.MarkFailed(ctx, job.ID); markErr != nil {
						log.Error().Err(markErr).Msg("orchestrator: flag job after provider failure")
					}
					return err
				}
				state.ResultKey = result.S3Key
				return nil
			},
		},
		{
			name: "persist-result",
			run: func(ctx context.Context) error {
				err := o.jobs.MarkCompleted(ctx, job.ID, state.ResultKey)
				if errors.Is(err, domain.ErrJobTerminal) {
					// A previous run got here already; nothing to redo.
					return nil
				}
				return err
			},
		},
		{
			name: "debit-credits",
			run: func(ctx context.Context) error {
				err := o.credits.DebitForJob(ctx, job.UserID, job.ID, domain.CostForKind(job.Kind))
				if errors.Is(err, domain.ErrInsufficientCredits) {
					// The conditional debit lost the race after provider
					// success; flag the job rather than overdrawing.
					return Fatal(err)
				}
				return err
			},
		},
	}

	if err := runSteps(ctx, steps, state, o.runs, o.logger); err != nil {
		return err
	}

	completed := bus.GenerateCompleted{
		JobID:     job.ID,
		UserID:    job.UserID,
		Kind:      string(job.Kind),
		ResultKey: state.ResultKey,
	}
	if err := o.bus.Publish(ctx, completed); err != nil {
		// The job is durable at this point; notification loss is tolerable.
		log.Error().Err(err).Msg("orchestrator: publish completion event failed")
	}
	return nil
}

func (o *Orchestrator) callProvider(ctx context.Context, job *domain.Job) (*provider.GenerateResult, error) {
	req := provider.GenerateRequest{
		Service:   job.Payload.Service,
		Model:     job.Payload.Model,
		Text:      job.Payload.Text,
		Prompt:    job.Payload.Prompt,
		VoiceKey:  job.Payload.VoiceKey,
		SourceKey: job.Payload.SourceKey,
	}
	switch job.Kind {
	case domain.JobKindTTS:
		return o.gateway.GenerateSpeech(ctx, req)
	case domain.JobKindSpeechToSpeech:
		return o.gateway.ConvertVoice(ctx, req)
	case domain.JobKindSoundEffect:
		return o.gateway.GenerateSoundEffect(ctx, req)
	case domain.JobKindImage:
		return o.gateway.GenerateImage(ctx, req)
	default:
		return nil, Fatal(fmt.Errorf("unsupported job kind %q", job.Kind))
	}
}

// failJob is the terminal failure hook. It must tolerate the job store being
// unreachable: the failure is logged, never raised.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, log infra.Logger, cause error) {
	log.Error().Err(cause).Msg("orchestrator: run exhausted, marking job failed")
	if err := o.jobs.MarkFailed(ctx, jobID); err != nil {
		log.Error().Err(err).Msg("orchestrator: failure hook could not reach job store")
	}
}

// HandleVoiceUpload runs the upload pipeline for one voice.upload.request
// event. Uploads have a single attempt: any failure past the gateway's
// built-in collision retry is final.
func (o *Orchestrator) HandleVoiceUpload(ctx context.Context, event bus.Event) error {
	req, ok := event.(*bus.VoiceUploadRequested)
	if !ok {
		return fmt.Errorf("orchestrator: unexpected event %T", event)
	}
	log := o.logger.With().Str("user_id", req.UserID).Str("voice_name", req.VoiceName).Logger()

	if err := o.limiter.Acquire(ctx, req.UserID); err != nil {
		return fmt.Errorf("orchestrator: acquire run slot: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err := o.runVoiceUpload(ctx, req, log)
		if err == nil {
			return nil
		}
		if IsFatal(err) || attempt >= uploadAttempts {
			log.Error().Err(err).Msg("orchestrator: voice upload failed")
			return fmt.Errorf("orchestrator: voice upload: %w", err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("orchestrator: transient upload failure, retrying")
		if err := o.sleep(ctx, retryDelay*time.Duration(attempt)); err != nil {
			return fmt.Errorf("orchestrator: retry wait: %w", err)
		}
	}
}

func (o *Orchestrator) runVoiceUpload(ctx context.Context, req *bus.VoiceUploadRequested, log infra.Logger) error {
	data, err := base64.StdEncoding.DecodeString(req.FileBufferB64)
	if err != nil {
		return Fatal(fmt.Errorf("decode file buffer: %w", err))
	}
	name := strings.TrimSpace(req.VoiceName)
	if name == "" {
		name = strings.TrimSuffix(req.FileName, filepath.Ext(req.FileName))
	}
	if name == "" {
		return Fatal(errors.New("voice name is required"))
	}
	service := req.Service
	if service == "" {
		service = "default"
	}

	storageKey := fmt.Sprintf("voices/%s/%s", req.UserID, req.FileName)
	stagedKey, err := o.store.Put(ctx, storageKey, data)
	if err != nil {
		return fmt.Errorf("stage voice file: %w", err)
	}

	result, err := o.gateway.UploadVoice(ctx, provider.UploadRequest{
		Service:     service,
		Name:        name,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Data:        data,
	})
	if err != nil {
		return err
	}

	voice := &domain.VoiceAsset{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Service:    service,
		VoiceKey:   result.VoiceKey,
		Name:       result.Name,
		StorageKey: stagedKey,
	}
	if err := o.voices.Create(ctx, voice); err != nil {
		return fmt.Errorf("record voice asset: %w", err)
	}

	completed := bus.VoiceUploadCompleted{
		UserID:    req.UserID,
		VoiceKey:  result.VoiceKey,
		VoiceName: result.Name,
		Service:   service,
	}
	if err := o.bus.Publish(ctx, completed); err != nil {
		log.Error().Err(err).Msg("orchestrator: publish upload completion failed")
	}
	log.Info().Str("voice_key", result.VoiceKey).Msg("orchestrator: voice upload completed")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

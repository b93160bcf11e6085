package generation

import (
	"context"
	"errors"
	"time"

	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/metrics"
)

const (
	ProviderGoogleVeo = "google-veo"
	DefaultVeoModel   = "veo-2.0-generate-001"
)

type VeoConfig struct {
	APIKey    string
	ProjectID string
	Model     string
	Poll      PollConfig
}

// VeoProvider generates videos through the Generative Language long-running API.
type VeoProvider struct {
	cfg     VeoConfig
	builder *Builder
	poller  *Poller
}

func NewVeoProvider(api OperationsAPI, images ImageMeasurer, cfg VeoConfig) *VeoProvider {
	if cfg.Model == "" {
		cfg.Model = DefaultVeoModel
	}
	return &VeoProvider{
		cfg:     cfg,
		builder: NewBuilder(images),
		poller:  NewPoller(api, cfg.Poll),
	}
}

func (p *VeoProvider) ID() string   { return ProviderGoogleVeo }
func (p *VeoProvider) Name() string { return "Google Veo (Vertex AI)" }

func (p *VeoProvider) Validate() error {
	if p.cfg.APIKey == "" || p.cfg.ProjectID == "" {
		return newError(KindConfig, "GOOGLE_CLOUD_API_KEY and GOOGLE_CLOUD_PROJECT_ID are required", nil)
	}
	return nil
}

func (p *VeoProvider) Generate(ctx context.Context, req Request, progress ProgressFunc) Result {
	start := time.Now()
	progress = monotonic(progress)
	polls := 0

	result := p.generate(ctx, req, progress, &polls)

	outcome := "success"
	if !result.Success {
		outcome = string(result.Kind)
		logger.FromContext(ctx).Warn().
			Str("provider", ProviderGoogleVeo).
			Str("kind", string(result.Kind)).
			Int("attempts", polls).
			Msg(result.Error)
	}
	metrics.RecordGeneration(ProviderGoogleVeo, outcome, time.Since(start), polls)
	return result
}

func (p *VeoProvider) generate(ctx context.Context, req Request, progress ProgressFunc, polls *int) Result {
	if err := p.Validate(); err != nil {
		return failedResult(asGenerationError(err))
	}

	progress(5)

	payload, err := p.builder.Build(ctx, req)
	if err != nil {
		return failedResult(asGenerationError(err))
	}

	progress(10)

	outcome, err := p.poller.Run(ctx, p.cfg.Model, payload.Body, progress)
	*polls = outcome.Attempts
	if err != nil {
		return failedResult(asGenerationError(err))
	}

	locator, kind, err := ParseResult(outcome.Response, p.cfg.APIKey)
	if err != nil {
		return failedResult(asGenerationError(err))
	}

	progress(100)

	logger.FromContext(ctx).Debug().
		Str("operation", outcome.Handle).
		Str("payload_kind", kind.String()).
		Msg("result parsed")

	return Result{
		Success:  true,
		VideoURL: locator,
		Metadata: &Metadata{
			DurationSeconds: float64(payload.Body.Parameters.DurationSeconds),
			AspectRatio:     payload.AspectRatio,
			ProviderID:      ProviderGoogleVeo,
			Handle:          outcome.Handle,
			PollAttempts:    outcome.Attempts,
			RawResponse:     outcome.Response,
		},
	}
}

func asGenerationError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return newError(KindSubmission, "", err)
}

package generation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"

	"github.com/clipcraft/clipcraft-api/internal/pkg/errorhandler"
	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/veo"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 300
)

// OperationsAPI is the remote long-running operation surface.
type OperationsAPI interface {
	Submit(ctx context.Context, model string, body veo.PredictRequest) (string, error)
	GetOperation(ctx context.Context, name string) (*veo.Operation, error)
}

type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// Poller submits a payload and polls its operation to a terminal state:
// Submitting -> Polling -> Completed | Failed | TimedOut.
type Poller struct {
	api  OperationsAPI
	cfg  PollConfig
	wait func(ctx context.Context, d time.Duration) error
}

func NewPoller(api OperationsAPI, cfg PollConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxPollAttempts
	}
	return &Poller{api: api, cfg: cfg, wait: sleepContext}
}

// PollOutcome describes a finished poll loop. Attempts is set on failure too.
type PollOutcome struct {
	Handle   string
	Attempts int
	Response json.RawMessage
}

// Run submits body and polls until done. Errors are always *Error.
func (p *Poller) Run(ctx context.Context, model string, body veo.PredictRequest, progress ProgressFunc) (PollOutcome, error) {
	log := logger.FromContext(ctx)
	var out PollOutcome

	handle, err := p.api.Submit(ctx, model, body)
	if err != nil {
		var statusErr *veo.StatusError
		if errors.As(err, &statusErr) {
			errorhandler.LogExternalServiceError(ctx, ProviderGoogleVeo, model+":predictLongRunning", statusErr.StatusCode, err, statusErr.Body)
		}
		return out, classifySubmitError(ctx, err)
	}
	out.Handle = handle
	progress(20)

	log.Info().Str("operation", handle).Msg("generation submitted")

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.wait(ctx, p.cfg.Interval); err != nil {
			return out, newError(KindTimeout, "polling abandoned", err)
		}
		out.Attempts = attempt
		progress(pollProgress(attempt))

		op, err := p.api.GetOperation(ctx, handle)
		if err != nil {
			if veo.IsNotFound(err) {
				return out, newError(KindOperationNotFound, handle, err)
			}
			if ctx.Err() != nil {
				return out, newError(KindTimeout, "polling abandoned", ctx.Err())
			}
			log.Debug().Err(err).Str("operation", handle).Int("attempt", attempt).Msg("transient poll failure")
			continue
		}

		if !op.Done {
			continue
		}
		if op.Failed() {
			return out, &Error{
				Kind:    KindRemoteFailed,
				Message: remoteErrorMessage(op.Error),
				Detail:  op.Error,
			}
		}

		out.Response = op.Response
		log.Info().Str("operation", handle).Int("attempts", attempt).Msg("generation finished")
		return out, nil
	}

	return out, newError(KindTimeout, "operation did not finish within the poll limit", nil)
}

func classifySubmitError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return newError(KindTimeout, "submission abandoned", err)
	}

	var statusErr *veo.StatusError
	if errors.As(err, &statusErr) {
		return &Error{
			Kind:       KindHTTP,
			Message:    "submit request failed",
			StatusCode: statusErr.StatusCode,
			Body:       statusErr.Body,
			Err:        err,
		}
	}

	var reqErr *veo.RequestError
	if errors.As(err, &reqErr) {
		return newError(KindNetwork, "could not reach the provider", err)
	}

	return newError(KindSubmission, "no operation handle returned", err)
}

// pollProgress interpolates 20..90 over the attempt count.
func pollProgress(attempt int) float64 {
	p := 20 + float64(attempt)/3
	if p > 90 {
		return 90
	}
	return p
}

func remoteErrorMessage(detail json.RawMessage) string {
	if msg := gjson.GetBytes(detail, "message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	return string(detail)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

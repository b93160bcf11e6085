package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipcraft/clipcraft-api/internal/domain/credit"
	"github.com/clipcraft/clipcraft-api/internal/pkg/inflight"
	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/validator"
)

const DefaultCost = 50

// Ledger is the part of credit.Ledger the orchestrator needs.
type Ledger interface {
	Charge(ctx context.Context, accountID uuid.UUID, amount int, meta credit.ChargeMeta) (*credit.Transaction, error)
	Grant(ctx context.Context, accountID uuid.UUID, amount int, category credit.Category, description string) (*credit.Transaction, error)
}

type Config struct {
	Cost            int
	SingleFlight    bool
	RefundOnFailure bool
}

// Service charges, generates and records one video per call.
type Service struct {
	factory  *Factory
	ledger   Ledger
	guard    inflight.Guard
	videos   VideoStore
	assets   *Assets
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

type Deps struct {
	Factory  *Factory
	Ledger   Ledger
	Guard    inflight.Guard
	Videos   VideoStore
	Assets   *Assets
	Notifier Notifier
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.Cost <= 0 {
		cfg.Cost = DefaultCost
	}
	guard := deps.Guard
	if guard == nil || !cfg.SingleFlight {
		guard = inflight.Noop{}
	}
	return &Service{
		factory:  deps.Factory,
		ledger:   deps.Ledger,
		guard:    guard,
		videos:   deps.Videos,
		assets:   deps.Assets,
		notifier: deps.Notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Cost is the number of credits charged per attempt.
func (s *Service) Cost() int { return s.cfg.Cost }

// Generate runs one attempt. The charge happens before any network call and
// is not reversed on failure unless RefundOnFailure is set.
func (s *Service) Generate(ctx context.Context, accountID uuid.UUID, req Request, reference string, progress ProgressFunc) Result {
	log := logger.FromContext(ctx).With().
		Str("account_id", accountID.String()).
		Str("reference", reference).
		Logger()
	ctx = logger.WithContext(ctx, &log)

	if errs := validator.Validate(req); errs != nil {
		return failedResult(newError(KindInvalidRequest, describeFieldErrors(errs), nil))
	}

	provider, err := s.factory.Active()
	if err != nil {
		return failedResult(asGenerationError(err))
	}
	if err := provider.Validate(); err != nil {
		return failedResult(asGenerationError(err))
	}

	release, err := s.guard.Acquire(ctx, "generation:"+accountID.String())
	if err != nil {
		if errors.Is(err, inflight.ErrBusy) {
			return failedResult(newError(KindInProgress, "a generation is already running for this account", err))
		}
		// lock backend unreachable: run without deduplication
		log.Warn().Err(err).Msg("single-flight guard unavailable")
		release = func() {}
	}
	defer release()

	if _, err := s.ledger.Charge(ctx, accountID, s.cfg.Cost, credit.ChargeMeta{
		Description: "Video generation",
		ReferenceID: reference,
	}); err != nil {
		switch {
		case errors.Is(err, credit.ErrInsufficientCredits):
			return failedResult(newError(KindInsufficientCredits, "", err))
		case errors.Is(err, credit.ErrPersistence):
			return failedResult(newError(KindPersistence, "charge was not recorded", err))
		default:
			return failedResult(newError(KindPersistence, "", err))
		}
	}

	result := provider.Generate(ctx, req, progress)
	if !result.Success {
		s.maybeRefund(ctx, accountID, result)
		return result
	}

	if result.Metadata == nil {
		result.Metadata = &Metadata{ProviderID: provider.ID()}
	}
	result.Metadata.CreditsCharged = s.cfg.Cost
	if video := s.record(ctx, accountID, req, result); video != nil {
		result.VideoID = &video.ID
	}
	return result
}

func (s *Service) maybeRefund(ctx context.Context, accountID uuid.UUID, result Result) {
	if !s.cfg.RefundOnFailure {
		return
	}
	_, err := s.ledger.Grant(ctx, accountID, s.cfg.Cost, credit.CategoryRefund, "Refund: "+string(result.Kind))
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("refund failed")
	}
}

// record stores the gallery entry. Failures are logged; the result stays successful.
func (s *Service) record(ctx context.Context, accountID uuid.UUID, req Request, result Result) *Video {
	if s.videos == nil {
		return nil
	}
	log := logger.FromContext(ctx)

	now := s.now()
	video := &Video{
		ID:             uuid.New(),
		AccountID:      accountID,
		Prompt:         req.Prompt,
		VideoURL:       result.VideoURL,
		AspectRatio:    result.Metadata.AspectRatio,
		ProviderID:     result.Metadata.ProviderID,
		CreditsCharged: result.Metadata.CreditsCharged,
		OffloadStatus:  OffloadNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if IsInlineLocator(result.VideoURL) && s.assets != nil {
		video.OffloadStatus = OffloadPending
	}

	if req.Image != nil && s.assets != nil {
		coverURL, err := s.assets.UploadCover(ctx, accountID, video.ID, req.Image.Data)
		if err != nil {
			log.Warn().Err(err).Str("video_id", video.ID.String()).Msg("cover upload failed")
		} else {
			video.CoverURL = &coverURL
		}
	}

	if err := s.videos.Create(ctx, video); err != nil {
		log.Error().Err(err).Str("video_id", video.ID.String()).Msg("failed to save generated video")
		if video.CoverURL != nil {
			if err := s.assets.RemoveCover(ctx, accountID, video.ID); err != nil {
				log.Warn().Err(err).Str("video_id", video.ID.String()).Msg("orphaned cover cleanup failed")
			}
		}
		return nil
	}

	if video.OffloadStatus == OffloadPending && s.notifier != nil {
		s.notifier.Notify(ctx)
	}
	return video
}

// Providers lists the registered providers.
func (s *Service) Providers() []ProviderInfo {
	return s.factory.Providers()
}

// ListVideos returns the account's gallery, newest first.
func (s *Service) ListVideos(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Video, error) {
	if s.videos == nil {
		return []Video{}, nil
	}
	return s.videos.ListByAccount(ctx, accountID, limit, offset)
}

func describeFieldErrors(errs map[string]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, errs[k])
	}
	return strings.Join(parts, "; ")
}

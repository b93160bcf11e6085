package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
)

const (
	DefaultOffloadAttempts = 3
	// DefaultOffloadLease is how long a claimed row may stay processing
	// before another worker takes it over.
	DefaultOffloadLease = 10 * time.Minute
)

// Offloader rewrites inline video locators to object storage URLs.
type Offloader struct {
	store       OffloadStore
	assets      *Assets
	maxAttempts int
	lease       time.Duration
	now         func() time.Time
}

func NewOffloader(store OffloadStore, assets *Assets, maxAttempts int, lease time.Duration) *Offloader {
	if maxAttempts <= 0 {
		maxAttempts = DefaultOffloadAttempts
	}
	if lease <= 0 {
		lease = DefaultOffloadLease
	}
	return &Offloader{store: store, assets: assets, maxAttempts: maxAttempts, lease: lease, now: time.Now}
}

// ProcessNext handles one claimable video. processed is false when the queue is empty.
func (o *Offloader) ProcessNext(ctx context.Context) (processed bool, err error) {
	if o.assets == nil {
		return false, fmt.Errorf("offload requires a storage backend")
	}

	v, err := o.store.ClaimPendingOffload(ctx, o.maxAttempts, o.now().Add(-o.lease))
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}

	log := logger.FromContext(ctx).With().
		Str("video_id", v.ID.String()).
		Int("attempt", v.OffloadAttempts).
		Logger()

	url, err := o.assets.UploadVideo(ctx, v.AccountID, v.ID, v.VideoURL)
	if err != nil {
		if markErr := o.store.MarkOffloadFailed(ctx, v.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record offload failure")
		}
		return true, fmt.Errorf("offload %s: %w", v.ID, err)
	}

	if err := o.store.MarkOffloaded(ctx, v.ID, url); err != nil {
		return true, err
	}

	log.Info().Str("url", url).Msg("video offloaded")
	return true, nil
}

package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clipcraft/clipcraft-api/internal/pkg/imaging"
	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/storage"
)

// OffloadChannel wakes the asset worker when an inline video is stored.
const OffloadChannel = "videos:offload"

var ErrNotInline = errors.New("locator is not an inline data URI")

// Assets uploads covers and offloaded videos to object storage.
type Assets struct {
	images *imaging.Processor
	store  storage.Storage
}

// NewAssets returns nil when no storage backend is configured.
func NewAssets(images *imaging.Processor, store storage.Storage) *Assets {
	if store == nil {
		return nil
	}
	return &Assets{images: images, store: store}
}

// UploadCover stores the source image as the video cover and returns its URL.
func (a *Assets) UploadCover(ctx context.Context, accountID, videoID uuid.UUID, data []byte) (string, error) {
	processed, err := a.images.Cover(data)
	if err != nil {
		return "", fmt.Errorf("process cover: %w", err)
	}

	coverKey, thumbKey := imaging.GeneratePaths(accountID.String(), videoID.String())
	if err := a.store.Put(ctx, coverKey, bytes.NewReader(processed.Original), processed.ContentType); err != nil {
		return "", fmt.Errorf("upload cover: %w", err)
	}
	if err := a.store.Put(ctx, thumbKey, bytes.NewReader(processed.Thumbnail), processed.ContentType); err != nil {
		return "", fmt.Errorf("upload thumbnail: %w", err)
	}
	return a.store.GetURL(coverKey), nil
}

// RemoveCover deletes a cover and its thumbnail; missing objects are not an error.
func (a *Assets) RemoveCover(ctx context.Context, accountID, videoID uuid.UUID) error {
	coverKey, thumbKey := imaging.GeneratePaths(accountID.String(), videoID.String())
	return errors.Join(a.store.Delete(ctx, coverKey), a.store.Delete(ctx, thumbKey))
}

// UploadVideo moves an inline data: locator into storage and returns the public URL.
func (a *Assets) UploadVideo(ctx context.Context, accountID, videoID uuid.UUID, locator string) (string, error) {
	mimeType, data, err := decodeDataURI(locator)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("videos/%s/%s%s", accountID, videoID, storage.ExtensionFor(mimeType))
	if err := a.store.Put(ctx, key, bytes.NewReader(data), mimeType); err != nil {
		return "", fmt.Errorf("upload video: %w", err)
	}
	return a.store.GetURL(key), nil
}

func decodeDataURI(locator string) (string, []byte, error) {
	if !IsInlineLocator(locator) {
		return "", nil, ErrNotInline
	}
	header, encoded, ok := strings.Cut(strings.TrimPrefix(locator, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", nil, fmt.Errorf("%w: missing base64 marker", ErrNotInline)
	}

	mimeType := strings.TrimSuffix(header, ";base64")
	if mimeType == "" {
		mimeType = defaultVideoMIME
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("decode inline video: %w", err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrNotInline)
	}
	return mimeType, data, nil
}

// Notifier signals that offload work is waiting.
type Notifier interface {
	Notify(ctx context.Context)
}

// RedisNotifier publishes on OffloadChannel. A nil client disables it.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Notify(ctx context.Context) {
	if n == nil || n.rdb == nil {
		return
	}
	if err := n.rdb.Publish(ctx, OffloadChannel, "1").Err(); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("offload wake-up publish failed")
	}
}

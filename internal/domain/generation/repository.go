package generation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

var ErrVideoNotFound = errors.New("video not found")

// VideoStore persists the gallery.
type VideoStore interface {
	Create(ctx context.Context, v *Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*Video, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Video, error)
}

// OffloadStore is the claim/ack surface used by the asset worker. Rows left
// processing since before staleBefore are claimable again.
type OffloadStore interface {
	ClaimPendingOffload(ctx context.Context, maxAttempts int, staleBefore time.Time) (*Video, error)
	MarkOffloaded(ctx context.Context, id uuid.UUID, url string) error
	MarkOffloadFailed(ctx context.Context, id uuid.UUID, msg string) error
}

const videoColumns = `id, account_id, prompt, video_url, cover_url, aspect_ratio, provider_id,
	credits_charged, offload_status, offload_attempts, offload_error, created_at, updated_at`

// Repository is the PostgreSQL video store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, v *Video) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx2, `
		INSERT INTO videos (
			id, account_id, prompt, video_url, cover_url, aspect_ratio, provider_id,
			credits_charged, offload_status, offload_attempts, created_at, updated_at
		) VALUES (
			:id, :account_id, :prompt, :video_url, :cover_url, :aspect_ratio, :provider_id,
			:credits_charged, :offload_status, :offload_attempts, :created_at, :updated_at
		)
	`, v)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Video, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var v Video
	err := r.db.GetContext(ctx2, &v, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return &v, nil
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Video, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	videos := make([]Video, 0)
	err := r.db.SelectContext(ctx2, &videos, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}

// ClaimPendingOffload picks the oldest pending, failed or abandoned row and
// marks it processing. Returns nil, nil when nothing is claimable.
func (r *Repository) ClaimPendingOffload(ctx context.Context, maxAttempts int, staleBefore time.Time) (*Video, error) {
	var v Video
	err := r.db.GetContext(ctx, &v, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE (offload_status IN ('pending', 'failed')
		       OR (offload_status = 'processing' AND updated_at < $2))
		  AND offload_attempts < $1
		ORDER BY created_at ASC
		LIMIT 1
	`, maxAttempts, staleBefore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select pending offload: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE videos
		SET offload_status = 'processing',
		    offload_attempts = offload_attempts + 1,
		    offload_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
		  AND offload_attempts = $2
		  AND (offload_status IN ('pending', 'failed')
		       OR (offload_status = 'processing' AND updated_at < $3))
	`, v.ID, v.OffloadAttempts, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("claim offload: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		// another worker won
		return nil, nil
	}

	v.OffloadAttempts++
	return &v, nil
}

func (r *Repository) MarkOffloaded(ctx context.Context, id uuid.UUID, url string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos
		SET offload_status = 'done',
		    video_url = $2,
		    offload_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, id, url)
	if err != nil {
		return fmt.Errorf("mark offloaded: %w", err)
	}
	return nil
}

func (r *Repository) MarkOffloadFailed(ctx context.Context, id uuid.UUID, msg string) error {
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos
		SET offload_status = 'failed',
		    offload_error = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, msg)
	if err != nil {
		return fmt.Errorf("mark offload failed: %w", err)
	}
	return nil
}

// MemoryRepository keeps the gallery in memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	videos map[uuid.UUID]*Video
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{videos: make(map[uuid.UUID]*Video)}
}

func (m *MemoryRepository) Create(ctx context.Context, v *Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *v
	m.videos[v.ID] = &copied
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, ErrVideoNotFound
	}
	copied := *v
	return &copied, nil
}

func (m *MemoryRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Video, 0)
	for _, v := range m.videos {
		if v.AccountID == accountID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return []Video{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (m *MemoryRepository) ClaimPendingOffload(ctx context.Context, maxAttempts int, staleBefore time.Time) (*Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *Video
	for _, v := range m.videos {
		stale := v.OffloadStatus == OffloadProcessing && v.UpdatedAt.Before(staleBefore)
		if (v.OffloadStatus != OffloadPending && v.OffloadStatus != OffloadFailed && !stale) || v.OffloadAttempts >= maxAttempts {
			continue
		}
		if oldest == nil || v.CreatedAt.Before(oldest.CreatedAt) {
			oldest = v
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.OffloadStatus = OffloadProcessing
	oldest.OffloadAttempts++
	oldest.OffloadError = nil
	oldest.UpdatedAt = time.Now()
	copied := *oldest
	return &copied, nil
}

func (m *MemoryRepository) MarkOffloaded(ctx context.Context, id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return ErrVideoNotFound
	}
	v.OffloadStatus = OffloadDone
	v.VideoURL = url
	v.OffloadError = nil
	v.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) MarkOffloadFailed(ctx context.Context, id uuid.UUID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return ErrVideoNotFound
	}
	v.OffloadStatus = OffloadFailed
	v.OffloadError = &msg
	v.UpdatedAt = time.Now()
	return nil
}

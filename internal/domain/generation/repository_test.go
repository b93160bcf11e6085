package generation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func newMockVideoRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

var videoRowColumns = []string{
	"id", "account_id", "prompt", "video_url", "cover_url", "aspect_ratio", "provider_id",
	"credits_charged", "offload_status", "offload_attempts", "offload_error", "created_at", "updated_at",
}

func TestVideoRepositoryCreate(t *testing.T) {
	repo, mock := newMockVideoRepository(t)
	now := time.Now()
	v := &Video{
		ID:             uuid.New(),
		AccountID:      uuid.New(),
		Prompt:         "a cat",
		VideoURL:       "https://cdn.example.com/v.mp4",
		AspectRatio:    "16:9",
		ProviderID:     ProviderGoogleVeo,
		CreditsCharged: 30,
		OffloadStatus:  OffloadNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	mock.ExpectExec(`INSERT INTO videos`).
		WithArgs(v.ID, v.AccountID, v.Prompt, v.VideoURL, nil, v.AspectRatio, v.ProviderID, 30, OffloadNone, 0, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), v); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVideoRepositoryGetByIDNotFound(t *testing.T) {
	repo, mock := newMockVideoRepository(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM videos WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), id); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVideoRepositoryListByAccount(t *testing.T) {
	repo, mock := newMockVideoRepository(t)
	accountID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows(videoRowColumns).
		AddRow(uuid.NewString(), accountID.String(), "b", "https://x/b.mp4", nil, "9:16", ProviderGoogleVeo, 30, "none", 0, nil, now, now).
		AddRow(uuid.NewString(), accountID.String(), "a", "https://x/a.mp4", "https://x/a.jpg", "16:9", ProviderGoogleVeo, 30, "done", 1, nil, now.Add(-time.Minute), now)

	mock.ExpectQuery(`SELECT .+ FROM videos\s+WHERE account_id = \$1\s+ORDER BY created_at DESC`).
		WithArgs(accountID, 20, 0).
		WillReturnRows(rows)

	videos, err := repo.ListByAccount(context.Background(), accountID, 20, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(videos) != 2 || videos[0].Prompt != "b" || videos[1].CoverURL == nil {
		t.Fatalf("unexpected videos: %+v", videos)
	}
}

func TestVideoRepositoryClaimPendingOffload(t *testing.T) {
	repo, mock := newMockVideoRepository(t)
	id, accountID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM videos\s+WHERE \(offload_status IN \('pending', 'failed'\)\s+OR \(offload_status = 'processing' AND updated_at < \$2\)\)`).
		WithArgs(3, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(videoRowColumns).
			AddRow(id.String(), accountID.String(), "a", "data:video/mp4;base64,AAAA", nil, "16:9", ProviderGoogleVeo, 30, "pending", 0, nil, now, now))
	mock.ExpectExec(`UPDATE videos\s+SET offload_status = 'processing'`).
		WithArgs(id, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	v, err := repo.ClaimPendingOffload(context.Background(), 3, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if v == nil || v.ID != id || v.OffloadAttempts != 1 {
		t.Fatalf("unexpected claim: %+v", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVideoRepositoryClaimLostRace(t *testing.T) {
	repo, mock := newMockVideoRepository(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM videos`).
		WithArgs(3, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(videoRowColumns).
			AddRow(id.String(), uuid.NewString(), "a", "data:video/mp4;base64,AAAA", nil, "16:9", ProviderGoogleVeo, 30, "pending", 0, nil, now, now))
	mock.ExpectExec(`UPDATE videos`).
		WithArgs(id, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	v, err := repo.ClaimPendingOffload(context.Background(), 3, time.Now().Add(-time.Minute))
	if err != nil || v != nil {
		t.Fatalf("expected nothing claimed, got %+v, %v", v, err)
	}
}

func TestVideoRepositoryClaimEmptyQueue(t *testing.T) {
	repo, mock := newMockVideoRepository(t)

	mock.ExpectQuery(`SELECT .+ FROM videos`).
		WithArgs(3, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	v, err := repo.ClaimPendingOffload(context.Background(), 3, time.Now().Add(-time.Minute))
	if err != nil || v != nil {
		t.Fatalf("expected empty queue, got %+v, %v", v, err)
	}
}

func TestVideoRepositoryMarkOffloadFailedTruncates(t *testing.T) {
	repo, mock := newMockVideoRepository(t)
	id := uuid.New()
	long := make([]byte, 2500)
	for i := range long {
		long[i] = 'x'
	}

	mock.ExpectExec(`UPDATE videos\s+SET offload_status = 'failed'`).
		WithArgs(id, string(long[:2000])).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkOffloadFailed(context.Background(), id, string(long)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

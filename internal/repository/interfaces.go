// Package repository provides data access for reencodarr entities using GORM.
package repository

import (
	"context"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// VideoRepository manages video rows.
type VideoRepository interface {
	Create(ctx context.Context, video *models.Video) error
	Upsert(ctx context.Context, video *models.Video) error
	Save(ctx context.Context, video *models.Video) error
	GetByID(ctx context.Context, id int64) (*models.Video, error)
	GetByPath(ctx context.Context, path string) (*models.Video, error)
	// NextByState returns videos in the given state ordered by oldest
	// updated_at first, limited to the batch size.
	NextByState(ctx context.Context, state models.VideoState, limit int) ([]*models.Video, error)
	// Siblings returns other videos in the same directory as the given
	// video, excluding the video itself.
	Siblings(ctx context.Context, video *models.Video) ([]*models.Video, error)
	// ListPage returns up to limit videos with id > afterID, id-ordered.
	ListPage(ctx context.Context, afterID int64, limit int) ([]*models.Video, error)
	CountByState(ctx context.Context) (map[models.VideoState]int64, error)
	Delete(ctx context.Context, id int64) error
	SetChosenVmaf(ctx context.Context, videoID int64, vmafID *int64) error
	// UpdateState persists only a state change; callers go through the
	// state machine which validates the edge first.
	UpdateState(ctx context.Context, videoID int64, state models.VideoState) error
}

// VmafRepository manages CRF/VMAF samples.
type VmafRepository interface {
	// Upsert inserts or updates a sample keyed on (video_id, crf).
	Upsert(ctx context.Context, sample *models.Vmaf) error
	GetByID(ctx context.Context, id int64) (*models.Vmaf, error)
	SamplesForVideo(ctx context.Context, videoID int64) ([]*models.Vmaf, error)
	ChosenForVideo(ctx context.Context, videoID int64) (*models.Vmaf, error)
	// SetChosen marks one sample chosen, clears any prior chosen sample
	// for the video, and updates the video's chosen_vmaf_id, all in one
	// transaction.
	SetChosen(ctx context.Context, vmafID int64) error
	DeleteForVideo(ctx context.Context, videoID int64) error
	// NextForEncoding returns chosen samples whose video is
	// crf_searched, best savings first.
	NextForEncoding(ctx context.Context, limit int) ([]*models.Vmaf, error)
}

// LibraryRepository manages library prefixes.
type LibraryRepository interface {
	Create(ctx context.Context, library *models.Library) error
	GetAll(ctx context.Context) ([]*models.Library, error)
	// GetAllByPrefixLength returns libraries sorted by path length
	// descending so longest-prefix matching picks the first hit.
	GetAllByPrefixLength(ctx context.Context) ([]*models.Library, error)
	Delete(ctx context.Context, id int64) error
}

// FailureRepository manages the append-only failure audit log.
type FailureRepository interface {
	// Record writes the failure and transitions the video to failed in
	// the same transaction. Returns the video's previous state so the
	// caller can publish the transition. When the video no longer
	// exists, only the failure row is written.
	Record(ctx context.Context, failure *models.VideoFailure) (models.VideoState, error)
	// RecordAudit writes the failure row without touching video state.
	// Used when a recoverable failure rolls the video back instead of
	// failing it, and for post-process partial failures.
	RecordAudit(ctx context.Context, failure *models.VideoFailure) error
	// CountMatching counts prior failures for (video, stage, category).
	CountMatching(ctx context.Context, videoID int64, stage models.FailureStage, category models.FailureCategory) (int64, error)
	ListByVideo(ctx context.Context, videoID int64) ([]*models.VideoFailure, error)
	ListUnresolved(ctx context.Context, stage models.FailureStage, limit int) ([]*models.VideoFailure, error)
	Resolve(ctx context.Context, id int64) error
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteUnresolvedForVideo(ctx context.Context, videoID int64) error
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"gorm.io/gorm"
)

// failureRepo implements FailureRepository using GORM.
type failureRepo struct {
	db *gorm.DB
}

// NewFailureRepository creates a new FailureRepository.
func NewFailureRepository(db *gorm.DB) *failureRepo {
	return &failureRepo{db: db}
}

// Record writes a failure and transitions the owning video to failed in
// the same transaction. The failure's retry count is the number of prior
// records with the same (video, stage, category). Returns the video's
// previous state; models.VideoStateFailed when the video was already
// failed or no longer exists.
func (r *failureRepo) Record(ctx context.Context, failure *models.VideoFailure) (models.VideoState, error) {
	previous := models.VideoStateFailed

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior int64
		if err := tx.Model(&models.VideoFailure{}).
			Where("video_id = ? AND stage = ? AND category = ?",
				failure.VideoID, failure.Stage, failure.Category).
			Count(&prior).Error; err != nil {
			return fmt.Errorf("counting prior failures: %w", err)
		}
		failure.RetryCount = int(prior)

		if err := tx.Create(failure).Error; err != nil {
			return fmt.Errorf("creating failure: %w", err)
		}

		var video models.Video
		err := tx.Where("id = ?", failure.VideoID).First(&video).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Video deleted under us; keep the audit record anyway.
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading video: %w", err)
		}

		previous = video.State
		if video.State == models.VideoStateFailed {
			return nil
		}

		if err := tx.Model(&models.Video{}).
			Where("id = ?", failure.VideoID).
			UpdateColumns(map[string]interface{}{
				"state":      models.VideoStateFailed,
				"updated_at": models.Now(),
			}).Error; err != nil {
			return fmt.Errorf("failing video: %w", err)
		}
		return nil
	})
	if err != nil {
		return previous, fmt.Errorf("recording failure for video %d: %w", failure.VideoID, err)
	}
	return previous, nil
}

// RecordAudit writes the failure row only; the video keeps its state.
// The retry count still reflects prior matching failures.
func (r *failureRepo) RecordAudit(ctx context.Context, failure *models.VideoFailure) error {
	prior, err := r.CountMatching(ctx, failure.VideoID, failure.Stage, failure.Category)
	if err != nil {
		return err
	}
	failure.RetryCount = int(prior)
	if err := r.db.WithContext(ctx).Create(failure).Error; err != nil {
		return fmt.Errorf("creating failure audit: %w", err)
	}
	return nil
}

// CountMatching counts prior failures for (video, stage, category).
func (r *failureRepo) CountMatching(ctx context.Context, videoID int64, stage models.FailureStage, category models.FailureCategory) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.VideoFailure{}).
		Where("video_id = ? AND stage = ? AND category = ?", videoID, stage, category).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting matching failures: %w", err)
	}
	return count, nil
}

// ListByVideo returns all failures for a video, newest first.
func (r *failureRepo) ListByVideo(ctx context.Context, videoID int64) ([]*models.VideoFailure, error) {
	var failures []*models.VideoFailure
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("created_at DESC").
		Find(&failures).Error; err != nil {
		return nil, fmt.Errorf("listing failures for video: %w", err)
	}
	return failures, nil
}

// ListUnresolved returns unresolved failures, optionally filtered by stage.
func (r *failureRepo) ListUnresolved(ctx context.Context, stage models.FailureStage, limit int) ([]*models.VideoFailure, error) {
	query := r.db.WithContext(ctx).Where("resolved = ?", false)
	if stage != "" {
		query = query.Where("stage = ?", stage)
	}

	var failures []*models.VideoFailure
	if err := query.Order("created_at DESC").Limit(limit).Find(&failures).Error; err != nil {
		return nil, fmt.Errorf("listing unresolved failures: %w", err)
	}
	return failures, nil
}

// Resolve marks a failure resolved.
func (r *failureRepo) Resolve(ctx context.Context, id int64) error {
	now := models.Now()
	result := r.db.WithContext(ctx).
		Model(&models.VideoFailure{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"resolved":    true,
			"resolved_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("resolving failure: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteResolvedBefore prunes resolved failures older than the cutoff.
func (r *failureRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("resolved = ? AND resolved_at < ?", true, cutoff).
		Delete(&models.VideoFailure{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning resolved failures: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteUnresolvedForVideo removes unresolved failures for a video.
// Used by the bulk reset of failed videos.
func (r *failureRepo) DeleteUnresolvedForVideo(ctx context.Context, videoID int64) error {
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND resolved = ?", videoID, false).
		Delete(&models.VideoFailure{}).Error; err != nil {
		return fmt.Errorf("deleting unresolved failures: %w", err)
	}
	return nil
}

// Ensure failureRepo implements FailureRepository at compile time.
var _ FailureRepository = (*failureRepo)(nil)

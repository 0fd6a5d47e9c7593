package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// vmafRepo implements VmafRepository using GORM.
type vmafRepo struct {
	db *gorm.DB
}

// NewVmafRepository creates a new VmafRepository.
func NewVmafRepository(db *gorm.DB) *vmafRepo {
	return &vmafRepo{db: db}
}

// Upsert inserts or updates a sample keyed on (video_id, crf).
func (r *vmafRepo) Upsert(ctx context.Context, sample *models.Vmaf) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "video_id"}, {Name: "crf"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"score", "percent", "size", "time", "savings", "params", "updated_at",
			}),
		}).
		Create(sample).Error
	if err != nil {
		return fmt.Errorf("upserting vmaf: %w", err)
	}

	if sample.ID == 0 {
		var existing models.Vmaf
		if err := r.db.WithContext(ctx).
			Where("video_id = ? AND crf = ?", sample.VideoID, sample.CRF).
			First(&existing).Error; err != nil {
			return fmt.Errorf("reloading upserted vmaf: %w", err)
		}
		sample.ID = existing.ID
		sample.Chosen = existing.Chosen
	}
	return nil
}

// GetByID retrieves a sample by ID. Returns nil when not found.
func (r *vmafRepo) GetByID(ctx context.Context, id int64) (*models.Vmaf, error) {
	var sample models.Vmaf
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sample).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting vmaf by ID: %w", err)
	}
	return &sample, nil
}

// SamplesForVideo returns all samples for a video ordered by CRF.
func (r *vmafRepo) SamplesForVideo(ctx context.Context, videoID int64) ([]*models.Vmaf, error) {
	var samples []*models.Vmaf
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("crf ASC").
		Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("getting vmafs for video: %w", err)
	}
	return samples, nil
}

// ChosenForVideo returns the chosen sample for a video, or nil.
func (r *vmafRepo) ChosenForVideo(ctx context.Context, videoID int64) (*models.Vmaf, error) {
	var sample models.Vmaf
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND chosen = ?", videoID, true).
		First(&sample).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting chosen vmaf: %w", err)
	}
	return &sample, nil
}

// SetChosen elects one sample, clearing any prior election for the same
// video and pointing the video's chosen_vmaf_id at it, atomically.
func (r *vmafRepo) SetChosen(ctx context.Context, vmafID int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sample models.Vmaf
		if err := tx.Where("id = ?", vmafID).First(&sample).Error; err != nil {
			return fmt.Errorf("loading vmaf: %w", err)
		}

		if err := tx.Model(&models.Vmaf{}).
			Where("video_id = ? AND chosen = ?", sample.VideoID, true).
			UpdateColumn("chosen", false).Error; err != nil {
			return fmt.Errorf("clearing prior chosen: %w", err)
		}

		if err := tx.Model(&models.Vmaf{}).
			Where("id = ?", vmafID).
			UpdateColumn("chosen", true).Error; err != nil {
			return fmt.Errorf("setting chosen: %w", err)
		}

		if err := tx.Model(&models.Video{}).
			Where("id = ?", sample.VideoID).
			UpdateColumn("chosen_vmaf_id", vmafID).Error; err != nil {
			return fmt.Errorf("updating video reference: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("electing vmaf %d: %w", vmafID, err)
	}
	return nil
}

// DeleteForVideo removes all samples for a video.
func (r *vmafRepo) DeleteForVideo(ctx context.Context, videoID int64) error {
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Delete(&models.Vmaf{}).Error; err != nil {
		return fmt.Errorf("deleting vmafs for video: %w", err)
	}
	return nil
}

// NextForEncoding returns chosen samples whose videos await encoding,
// ordered by predicted savings descending with unknown savings last,
// then by predicted encode time ascending.
func (r *vmafRepo) NextForEncoding(ctx context.Context, limit int) ([]*models.Vmaf, error) {
	var samples []*models.Vmaf
	if err := r.db.WithContext(ctx).
		Joins("JOIN videos ON videos.id = vmafs.video_id").
		Where("vmafs.chosen = ? AND videos.state = ?", true, models.VideoStateCrfSearched).
		Order("(vmafs.savings IS NULL) ASC, vmafs.savings DESC, vmafs.time ASC").
		Limit(limit).
		Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("getting vmafs for encoding: %w", err)
	}
	return samples, nil
}

// Ensure vmafRepo implements VmafRepository at compile time.
var _ VmafRepository = (*vmafRepo)(nil)

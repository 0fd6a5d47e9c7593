package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

// Create creates a new video.
func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// Upsert inserts or updates a video keyed on its unique path.
func (r *videoRepo) Upsert(ctx context.Context, video *models.Video) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "size", "bitrate", "duration", "width", "height",
				"frame_rate", "video_codecs", "audio_codecs",
				"max_audio_channels", "atmos", "hdr", "content_year",
				"library_id", "service_type", "service_id", "updated_at",
			}),
		}).
		Create(video).Error
	if err != nil {
		return fmt.Errorf("upserting video: %w", err)
	}

	// OnConflict does not backfill the primary key on update paths for
	// every driver; fetch it when missing.
	if video.ID == 0 {
		var existing models.Video
		if err := r.db.WithContext(ctx).Where("path = ?", video.Path).First(&existing).Error; err != nil {
			return fmt.Errorf("reloading upserted video: %w", err)
		}
		video.ID = existing.ID
		video.State = existing.State
	}
	return nil
}

// Save persists all fields of an existing video.
func (r *videoRepo) Save(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("saving video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID. Returns nil when not found.
func (r *videoRepo) GetByID(ctx context.Context, id int64) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &video, nil
}

// GetByPath retrieves a video by its unique path. Returns nil when not found.
func (r *videoRepo) GetByPath(ctx context.Context, path string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by path: %w", err)
	}
	return &video, nil
}

// NextByState returns the oldest-updated videos in a state.
func (r *videoRepo) NextByState(ctx context.Context, state models.VideoState, limit int) ([]*models.Video, error) {
	var videos []*models.Video
	if err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("updated_at ASC").
		Limit(limit).
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("getting videos by state: %w", err)
	}
	return videos, nil
}

// Siblings returns other videos sharing the video's directory.
func (r *videoRepo) Siblings(ctx context.Context, video *models.Video) ([]*models.Video, error) {
	dir := filepath.Dir(video.Path)
	var videos []*models.Video
	if err := r.db.WithContext(ctx).
		Where("path LIKE ? AND id != ?", dir+string(filepath.Separator)+"%", video.ID).
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("getting sibling videos: %w", err)
	}

	// The LIKE prefix also matches nested subdirectories; keep only
	// direct siblings.
	direct := videos[:0]
	for _, v := range videos {
		if filepath.Dir(v.Path) == dir {
			direct = append(direct, v)
		}
	}
	return direct, nil
}

// ListPage returns an id-ordered page of videos after the given id.
func (r *videoRepo) ListPage(ctx context.Context, afterID int64, limit int) ([]*models.Video, error) {
	var videos []*models.Video
	if err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("listing video page: %w", err)
	}
	return videos, nil
}

// CountByState returns row counts grouped by state.
func (r *videoRepo) CountByState(ctx context.Context) (map[models.VideoState]int64, error) {
	type row struct {
		State models.VideoState
		N     int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Select("state, COUNT(*) AS n").
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting videos by state: %w", err)
	}

	counts := make(map[models.VideoState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.N
	}
	return counts, nil
}

// Delete removes a video and its dependent rows.
func (r *videoRepo) Delete(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", id).Delete(&models.Vmaf{}).Error; err != nil {
			return fmt.Errorf("deleting vmafs: %w", err)
		}
		if err := tx.Where("video_id = ?", id).Delete(&models.VideoFailure{}).Error; err != nil {
			return fmt.Errorf("deleting failures: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Video{}).Error; err != nil {
			return fmt.Errorf("deleting video: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting video %d: %w", id, err)
	}
	return nil
}

// SetChosenVmaf updates the video's chosen vmaf reference.
func (r *videoRepo) SetChosenVmaf(ctx context.Context, videoID int64, vmafID *int64) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("id = ?", videoID).
		UpdateColumn("chosen_vmaf_id", vmafID).Error; err != nil {
		return fmt.Errorf("setting chosen vmaf: %w", err)
	}
	return nil
}

// UpdateState persists a state change.
func (r *videoRepo) UpdateState(ctx context.Context, videoID int64, state models.VideoState) error {
	result := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("id = ?", videoID).
		UpdateColumns(map[string]interface{}{
			"state":      state,
			"updated_at": models.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating video state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Ensure videoRepo implements VideoRepository at compile time.
var _ VideoRepository = (*videoRepo)(nil)

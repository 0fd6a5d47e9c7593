// Package maintenance implements the operator-facing bulk operations:
// failure resets, invalid-audio sweeps, forced reanalysis, and the
// missing-file sweep.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/rules"
)

// Sweep tuning. Existence checks run concurrently with a per-check
// timeout so one hung mount cannot stall the page.
const (
	sweepPageSize = 500
	existsWorkers = 20
	existsTimeout = 10 * time.Second
)

// Operations bundles the bulk maintenance entry points.
type Operations struct {
	db     *database.DB
	videos repository.VideoRepository
	vmafs  repository.VmafRepository
	logger *slog.Logger

	// onReset signals the analyzer after a reset created new work.
	onReset func()
}

// NewOperations creates the maintenance service.
func NewOperations(db *database.DB, videos repository.VideoRepository, vmafs repository.VmafRepository, logger *slog.Logger, onReset func()) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{
		db:      db,
		videos:  videos,
		vmafs:   vmafs,
		logger:  logger.With(slog.String("component", "maintenance")),
		onReset: onReset,
	}
}

// ResetAllFailed revives every failed video: back to needs_analysis with
// its samples and unresolved failure records removed. Idempotent.
func (o *Operations) ResetAllFailed(ctx context.Context) (int64, error) {
	var reset int64
	err := o.db.Transaction(ctx, func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&models.Video{}).
			Where("state = ?", models.VideoStateFailed).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("selecting failed videos: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("video_id IN ?", ids).Delete(&models.Vmaf{}).Error; err != nil {
			return fmt.Errorf("deleting vmafs: %w", err)
		}
		if err := tx.Where("video_id IN ? AND resolved = ?", ids, false).
			Delete(&models.VideoFailure{}).Error; err != nil {
			return fmt.Errorf("deleting unresolved failures: %w", err)
		}

		result := tx.Model(&models.Video{}).
			Where("id IN ?", ids).
			UpdateColumns(map[string]any{
				"state":          models.VideoStateNeedsAnalysis,
				"chosen_vmaf_id": nil,
				"updated_at":     models.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("reviving videos: %w", result.Error)
		}
		reset = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	o.logger.Info("reset failed videos", slog.Int64("count", reset))
	if reset > 0 && o.onReset != nil {
		o.onReset()
	}
	return reset, nil
}

// ResetInvalidAudio finds active videos whose encode argv would disable
// audio (a zeroed bitrate or channel count leaked into the args) and
// sends them back through analysis.
func (o *Operations) ResetInvalidAudio(ctx context.Context) (int, error) {
	reset := 0
	err := o.eachActiveVideo(ctx, func(video *models.Video) error {
		var overrides []string
		if chosen, err := o.vmafs.ChosenForVideo(ctx, video.ID); err == nil && chosen != nil {
			overrides = []string(chosen.Params)
		}
		args := rules.BuildArgs(video, rules.ContextEncode, overrides, []string{"encode"})
		if !hasZeroedAudio(args) {
			return nil
		}
		if err := o.resetVideo(ctx, video); err != nil {
			return err
		}
		reset++
		return nil
	})
	if err != nil {
		return reset, err
	}

	o.logger.Info("reset videos with zeroed audio args", slog.Int("count", reset))
	if reset > 0 && o.onReset != nil {
		o.onReset()
	}
	return reset, nil
}

// ResetInvalidAudioMetadata resets active videos whose analysis left
// unusable audio metadata: empty codec list or missing channel count
// without Atmos.
func (o *Operations) ResetInvalidAudioMetadata(ctx context.Context) (int, error) {
	reset := 0
	err := o.eachActiveVideo(ctx, func(video *models.Video) error {
		if video.Bitrate == 0 {
			// Not analyzed yet; nothing to invalidate.
			return nil
		}
		if video.HasValidAudio() {
			return nil
		}
		if err := o.resetVideo(ctx, video); err != nil {
			return err
		}
		reset++
		return nil
	})
	if err != nil {
		return reset, err
	}

	o.logger.Info("reset videos with invalid audio metadata", slog.Int("count", reset))
	if reset > 0 && o.onReset != nil {
		o.onReset()
	}
	return reset, nil
}

// ForceReanalyze clears one video's samples and media attributes and
// queues it for analysis.
func (o *Operations) ForceReanalyze(ctx context.Context, videoID int64) error {
	video, err := o.videos.GetByID(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("video %d not found", videoID)
	}
	if err := o.resetVideo(ctx, video); err != nil {
		return err
	}

	o.logger.Info("forced reanalysis", slog.Int64("video_id", videoID))
	if o.onReset != nil {
		o.onReset()
	}
	return nil
}

// DeleteMissingPaths removes videos whose file no longer exists,
// checking existence concurrently in id-ordered pages.
func (o *Operations) DeleteMissingPaths(ctx context.Context) (int, error) {
	deleted := 0
	afterID := int64(0)
	for {
		page, err := o.videos.ListPage(ctx, afterID, sweepPageSize)
		if err != nil {
			return deleted, err
		}
		if len(page) == 0 {
			return deleted, nil
		}
		afterID = page[len(page)-1].ID

		missing, err := o.findMissing(ctx, page)
		if err != nil {
			return deleted, err
		}
		for _, id := range missing {
			if err := o.videos.Delete(ctx, id); err != nil {
				o.logger.Warn("deleting missing video",
					slog.Int64("video_id", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			deleted++
		}
		if len(page) < sweepPageSize {
			o.logger.Info("missing-path sweep complete", slog.Int("deleted", deleted))
			return deleted, nil
		}
	}
}

// findMissing checks one page of paths with bounded concurrency. A check
// that times out counts as present; deleting rows on a flaky mount is
// worse than keeping them one sweep longer.
func (o *Operations) findMissing(ctx context.Context, page []*models.Video) ([]int64, error) {
	var (
		group, groupCtx = errgroup.WithContext(ctx)
		missing         = make(chan int64, len(page))
	)
	group.SetLimit(existsWorkers)

	for _, video := range page {
		group.Go(func() error {
			exists, err := pathExists(groupCtx, video.Path)
			if err != nil {
				o.logger.Debug("existence check inconclusive",
					slog.String("path", video.Path),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if !exists {
				missing <- video.ID
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	close(missing)

	ids := make([]int64, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	return ids, nil
}

// pathExists stats the path off-thread so a dead network mount cannot
// block past the timeout.
func pathExists(ctx context.Context, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, existsTimeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		_, err := os.Stat(path)
		result <- err == nil
	}()

	select {
	case exists := <-result:
		return exists, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// eachActiveVideo walks all videos not encoded or failed, page by page.
func (o *Operations) eachActiveVideo(ctx context.Context, fn func(*models.Video) error) error {
	afterID := int64(0)
	for {
		page, err := o.videos.ListPage(ctx, afterID, sweepPageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		afterID = page[len(page)-1].ID

		for _, video := range page {
			if video.State == models.VideoStateEncoded || video.State == models.VideoStateFailed {
				continue
			}
			if err := fn(video); err != nil {
				return err
			}
		}
		if len(page) < sweepPageSize {
			return nil
		}
	}
}

// resetVideo clears samples and media attributes and queues the video
// for analysis.
func (o *Operations) resetVideo(ctx context.Context, video *models.Video) error {
	if err := o.vmafs.DeleteForVideo(ctx, video.ID); err != nil {
		return err
	}
	video.ClearMediaAttributes()
	return o.videos.Save(ctx, video)
}

// hasZeroedAudio reports whether an encode argv disables audio.
func hasZeroedAudio(args []string) bool {
	for i, arg := range args {
		if arg != "--enc" || i+1 >= len(args) {
			continue
		}
		if args[i+1] == "b:a=0k" || args[i+1] == "ac=0" {
			return true
		}
	}
	return false
}

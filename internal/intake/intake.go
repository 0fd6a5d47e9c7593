// Package intake ingests file records from media-library services
// (sonarr/radarr) into the entity store. The HTTP specifics of those
// services stay at the boundary; the core consumes typed records only.
package intake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// FileRecord is one file reported by a library service.
type FileRecord struct {
	ServiceType models.ServiceType `json:"service_type"`
	ServiceID   string             `json:"service_id"`
	Path        string             `json:"path"`
	Size        int64              `json:"size"`
	Title       string             `json:"title,omitempty"`
	ContentYear *int               `json:"content_year,omitempty"`
	// OverallBitrate is service-reported metadata used as a fallback
	// when mediainfo is unavailable.
	OverallBitrate int64 `json:"overall_bitrate,omitempty"`
}

// Service upserts file records into the store.
type Service struct {
	videos    repository.VideoRepository
	libraries repository.LibraryRepository
	bus       *events.Bus
	logger    *slog.Logger

	minSize int64
	// onIntake signals the analyzer that new work exists.
	onIntake func()
}

// NewService creates an intake service. Files smaller than minSize are
// ignored (0 disables the filter).
func NewService(videos repository.VideoRepository, libraries repository.LibraryRepository, bus *events.Bus, logger *slog.Logger, minSize int64, onIntake func()) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		videos:    videos,
		libraries: libraries,
		bus:       bus,
		logger:    logger.With(slog.String("component", "intake")),
		minSize:   minSize,
		onIntake:  onIntake,
	}
}

// SyncBatch ingests one service's file listing. Returns the number of
// records upserted.
func (s *Service) SyncBatch(ctx context.Context, serviceType models.ServiceType, records []FileRecord) (int, error) {
	runID := uuid.NewString()
	s.bus.Publish(events.TopicSyncStarted, events.SyncProgress{
		RunID:       runID,
		ServiceType: serviceType,
	})
	s.logger.Info("sync started",
		slog.String("run_id", runID),
		slog.String("service_type", string(serviceType)),
		slog.Int("records", len(records)),
	)

	// Library prefixes load once per batch, longest first.
	libraries, err := s.libraries.GetAllByPrefixLength(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading libraries: %w", err)
	}

	upserted := 0
	for i, record := range records {
		record.ServiceType = serviceType
		if err := s.upsertRecord(ctx, record, libraries); err != nil {
			s.logger.Warn("intake record failed",
				slog.String("path", record.Path),
				slog.String("error", err.Error()),
			)
		} else {
			upserted++
		}

		if len(records) >= 20 && (i+1)%(len(records)/10) == 0 {
			s.bus.Publish(events.TopicSyncProgress, events.SyncProgress{
				RunID:       runID,
				ServiceType: serviceType,
				Progress:    (i + 1) * 100 / len(records),
			})
		}
	}

	s.bus.Publish(events.TopicSyncCompleted, events.SyncProgress{
		RunID:       runID,
		ServiceType: serviceType,
		Progress:    100,
	})
	s.logger.Info("sync completed",
		slog.String("run_id", runID),
		slog.Int("upserted", upserted),
	)

	if upserted > 0 && s.onIntake != nil {
		s.onIntake()
	}
	return upserted, nil
}

// upsertRecord creates or refreshes one video. A changed file size
// invalidates prior analysis; the video goes back to needs_analysis.
func (s *Service) upsertRecord(ctx context.Context, record FileRecord, libraries []*models.Library) error {
	if record.Path == "" {
		return fmt.Errorf("record without path (service_id=%s)", record.ServiceID)
	}
	if s.minSize > 0 && record.Size < s.minSize {
		s.logger.Debug("skipping undersized file",
			slog.String("path", record.Path),
			slog.Int64("size", record.Size),
		)
		return nil
	}

	existing, err := s.videos.GetByPath(ctx, record.Path)
	if err != nil {
		return err
	}

	if existing == nil {
		video := &models.Video{
			Path:        record.Path,
			Title:       record.Title,
			State:       models.VideoStateNeedsAnalysis,
			Size:        record.Size,
			ContentYear: record.ContentYear,
			ServiceType: record.ServiceType,
			ServiceID:   record.ServiceID,
		}
		if library := models.MatchLibrary(libraries, record.Path); library != nil {
			video.LibraryID = &library.ID
		}
		if err := s.videos.Create(ctx, video); err != nil {
			return err
		}
		s.bus.Publish(events.TopicVideoUpserted, events.MediaUpserted{ID: video.ID})
		return nil
	}

	existing.Title = record.Title
	existing.ServiceType = record.ServiceType
	existing.ServiceID = record.ServiceID
	if record.ContentYear != nil {
		existing.ContentYear = record.ContentYear
	}
	if library := models.MatchLibrary(libraries, record.Path); library != nil {
		existing.LibraryID = &library.ID
	}
	if record.Size != existing.Size && record.Size > 0 {
		// The file changed on disk; prior analysis no longer applies.
		s.logger.Info("file size changed, scheduling reanalysis",
			slog.Int64("video_id", existing.ID),
			slog.Int64("old_size", existing.Size),
			slog.Int64("new_size", record.Size),
		)
		existing.ClearMediaAttributes()
		existing.Size = record.Size
	}
	if err := s.videos.Save(ctx, existing); err != nil {
		return err
	}
	s.bus.Publish(events.TopicVideoUpserted, events.MediaUpserted{ID: existing.ID})
	return nil
}

// Package state implements the video state machine. Every transition is
// validated against the legal edge set, persisted, and broadcast on the
// telemetry bus.
package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// ErrIllegalTransition wraps a rejected transition.
type ErrIllegalTransition struct {
	From models.VideoState
	To   models.VideoState
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

// Machine drives video state transitions.
type Machine struct {
	videos   repository.VideoRepository
	failures repository.FailureRepository
	bus      *events.Bus
	logger   *slog.Logger
}

// NewMachine creates a state machine over the given store and bus.
func NewMachine(videos repository.VideoRepository, failures repository.FailureRepository, bus *events.Bus, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		videos:   videos,
		failures: failures,
		bus:      bus,
		logger:   logger.With(slog.String("component", "state_machine")),
	}
}

// transition validates, persists, and broadcasts one edge. The video
// snapshot is updated in place on success; on rejection it is untouched.
func (m *Machine) transition(ctx context.Context, video *models.Video, to models.VideoState) error {
	from := video.State
	if !models.CanTransition(from, to) {
		return &ErrIllegalTransition{From: from, To: to}
	}

	if err := m.videos.UpdateState(ctx, video.ID, to); err != nil {
		return fmt.Errorf("persisting transition %s -> %s: %w", from, to, err)
	}

	video.State = to
	m.logger.Debug("video state changed",
		slog.Int64("video_id", video.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	m.bus.Publish(events.TopicVideoStateChanged, events.VideoStateChanged{
		Video:         video,
		PreviousState: from,
		NewState:      to,
	})
	return nil
}

// MarkAsAnalyzed moves a video to analyzed. Requires the analyzer to
// have populated all media attributes with a non-zero bitrate.
func (m *Machine) MarkAsAnalyzed(ctx context.Context, video *models.Video) error {
	if !video.Analyzed() {
		return fmt.Errorf("video %d not fully analyzed (bitrate=%d)", video.ID, video.Bitrate)
	}
	return m.transition(ctx, video, models.VideoStateAnalyzed)
}

// MarkAsCrfSearching moves a video into the crf-search processing state.
func (m *Machine) MarkAsCrfSearching(ctx context.Context, video *models.Video) error {
	return m.transition(ctx, video, models.VideoStateCrfSearching)
}

// MarkAsCrfSearched moves a video to crf_searched.
func (m *Machine) MarkAsCrfSearched(ctx context.Context, video *models.Video) error {
	return m.transition(ctx, video, models.VideoStateCrfSearched)
}

// MarkAsEncoding moves a video into the encoding processing state.
func (m *Machine) MarkAsEncoding(ctx context.Context, video *models.Video) error {
	return m.transition(ctx, video, models.VideoStateEncoding)
}

// MarkAsEncoded moves a video to the terminal encoded state.
func (m *Machine) MarkAsEncoded(ctx context.Context, video *models.Video) error {
	return m.transition(ctx, video, models.VideoStateEncoded)
}

// MarkAsNeedsAnalysis rolls a video back for reanalysis.
func (m *Machine) MarkAsNeedsAnalysis(ctx context.Context, video *models.Video) error {
	return m.transition(ctx, video, models.VideoStateNeedsAnalysis)
}

// MarkAsFailed moves a video to failed without an audit record. Most
// callers want RecordFailure instead.
func (m *Machine) MarkAsFailed(ctx context.Context, video *models.Video) error {
	return m.transition(ctx, video, models.VideoStateFailed)
}

// RecordFailure writes the failure record and fails the video in one
// transaction, then broadcasts the transition.
func (m *Machine) RecordFailure(ctx context.Context, video *models.Video, failure *models.VideoFailure) error {
	failure.VideoID = video.ID
	previous, err := m.failures.Record(ctx, failure)
	if err != nil {
		return err
	}

	if previous != models.VideoStateFailed {
		video.State = models.VideoStateFailed
		m.bus.Publish(events.TopicVideoStateChanged, events.VideoStateChanged{
			Video:         video,
			PreviousState: previous,
			NewState:      models.VideoStateFailed,
		})
	}

	m.logger.Warn("video failed",
		slog.Int64("video_id", video.ID),
		slog.String("stage", string(failure.Stage)),
		slog.String("category", string(failure.Category)),
		slog.String("code", failure.Code),
	)
	return nil
}

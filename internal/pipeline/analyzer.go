package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/mediainfo"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/state"
)

// Analyzer populates media attributes for videos in needs_analysis by
// batching paths through one mediainfo invocation.
type Analyzer struct {
	worker  *Worker[[]*models.Video]
	videos  repository.VideoRepository
	machine *state.Machine
	client  *mediainfo.Client
	perf    *PerfMonitor
	bus     *events.Bus
	logger  *slog.Logger

	// onAnalyzed signals the crf-searcher that new work exists.
	onAnalyzed func()
}

// NewAnalyzer wires the analyzer pipeline.
func NewAnalyzer(
	rate RateLimit,
	videos repository.VideoRepository,
	machine *state.Machine,
	client *mediainfo.Client,
	perf *PerfMonitor,
	bus *events.Bus,
	logger *slog.Logger,
	onAnalyzed func(),
) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analyzer{
		videos:     videos,
		machine:    machine,
		client:     client,
		perf:       perf,
		bus:        bus,
		logger:     logger.With(slog.String("pipeline", "analyzer")),
		onAnalyzed: onAnalyzed,
	}
	a.worker = NewWorker(
		WorkerConfig{
			Name:      "analyzer",
			Rate:      rate,
			QueueSize: 1, // one mediainfo batch in flight
			IdleTopic: events.TopicAnalyzerIdle,
		},
		a.nextBatch,
		a.process,
		describeBatch,
		bus,
		logger,
	)
	return a
}

// Start launches the pipeline.
func (a *Analyzer) Start(ctx context.Context) { a.worker.Start(ctx) }

// Stop drains the in-flight batch and halts.
func (a *Analyzer) Stop() { a.worker.Stop() }

// DispatchAvailable signals that new needs_analysis videos may exist.
func (a *Analyzer) DispatchAvailable() { a.worker.DispatchAvailable() }

// QueueSnapshot reports queue depth and preview for the status API.
func (a *Analyzer) QueueSnapshot() (int, []string) { return a.worker.QueueSnapshot() }

func describeBatch(batch []*models.Video) string {
	if len(batch) == 0 {
		return ""
	}
	return batch[0].Basename()
}

// nextBatch fetches up to the current batch size of needs_analysis
// videos, oldest first, as one work item.
func (a *Analyzer) nextBatch(ctx context.Context, _ int) ([][]*models.Video, error) {
	batch, err := a.videos.NextByState(ctx, models.VideoStateNeedsAnalysis, a.perf.BatchSize())
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return [][]*models.Video{batch}, nil
}

func (a *Analyzer) process(ctx context.Context, batch []*models.Video) {
	start := time.Now()
	a.bus.Publish(events.TopicAnalyzerStarted, events.AnalyzerBatch{BatchSize: len(batch)})

	inspect := make([]*models.Video, 0, len(batch))
	for _, video := range batch {
		if video.Bitrate > 0 {
			// Already carries attributes; a reset would have cleared them.
			a.logger.Debug("skipping video with existing bitrate",
				slog.Int64("video_id", video.ID),
				slog.Int64("bitrate", video.Bitrate),
			)
			if video.Analyzed() {
				if err := a.machine.MarkAsAnalyzed(ctx, video); err != nil {
					a.logger.Warn("marking skipped video analyzed",
						slog.Int64("video_id", video.ID),
						slog.String("error", err.Error()),
					)
				}
			}
			continue
		}
		inspect = append(inspect, video)
	}

	succeeded, failed := 0, 0
	if len(inspect) > 0 {
		succeeded, failed = a.inspectBatch(ctx, inspect)
	}

	elapsed := time.Since(start)
	a.perf.Record(len(inspect), elapsed)
	a.bus.Publish(events.TopicAnalyzerCompleted, events.AnalyzerBatch{
		BatchSize:  len(batch),
		Succeeded:  succeeded,
		Failed:     failed,
		Throughput: throughput(len(inspect), elapsed),
	})

	if succeeded > 0 && a.onAnalyzed != nil {
		a.onAnalyzed()
	}
}

func (a *Analyzer) inspectBatch(ctx context.Context, batch []*models.Video) (succeeded, failed int) {
	paths := make([]string, len(batch))
	for i, video := range batch {
		paths[i] = video.Path
	}

	infos, err := a.client.Inspect(ctx, paths)
	if err != nil {
		a.logger.Error("mediainfo batch failed",
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()),
		)
		for _, video := range batch {
			a.recordFailure(ctx, video, models.FailureCategoryMediainfoParsing,
				"MEDIAINFO_RUN", "mediainfo invocation failed: "+err.Error())
		}
		return 0, len(batch)
	}

	for _, video := range batch {
		info, ok := infos[video.Path]
		if !ok {
			a.recordFailure(ctx, video, models.FailureCategoryMediainfoParsing,
				"MEDIAINFO_MISSING", "no mediainfo output for path")
			failed++
			continue
		}
		if info.Size == 0 {
			a.recordFailure(ctx, video, models.FailureCategoryFileAccess,
				"FILE_SIZE_MISSING", "mediainfo reported no file size")
			failed++
			continue
		}

		info.ApplyTo(video)
		if err := a.videos.Save(ctx, video); err != nil {
			a.logger.Error("saving analyzed video",
				slog.Int64("video_id", video.ID),
				slog.String("error", err.Error()),
			)
			failed++
			continue
		}
		a.bus.Publish(events.TopicVideoUpserted, events.MediaUpserted{ID: video.ID})

		if video.Bitrate == 0 {
			a.recordFailure(ctx, video, models.FailureCategoryMediainfoParsing,
				"BITRATE_MISSING", "no overall or per-stream bitrate reported")
			failed++
			continue
		}
		if err := a.machine.MarkAsAnalyzed(ctx, video); err != nil {
			a.logger.Warn("marking video analyzed",
				slog.Int64("video_id", video.ID),
				slog.String("error", err.Error()),
			)
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

func (a *Analyzer) recordFailure(ctx context.Context, video *models.Video, category models.FailureCategory, code, message string) {
	failure := &models.VideoFailure{
		Stage:    models.FailureStageAnalysis,
		Category: category,
		Code:     code,
		Message:  message,
	}
	if err := a.machine.RecordFailure(ctx, video, failure); err != nil {
		a.logger.Error("recording analysis failure",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
	}
}

func throughput(videos int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(videos) / elapsed.Seconds()
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mjc/reencodarr-sub000/internal/abav1"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/hints"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/rules"
	"github.com/mjc/reencodarr-sub000/internal/runner"
	"github.com/mjc/reencodarr-sub000/internal/state"
)

// AbAv1Binary is the search/encode executable resolved on PATH.
const AbAv1Binary = "ab-av1"

// CrfSearcher finds the lowest CRF meeting the video's VMAF target by
// driving ab-av1 crf-search and recording every sample it reports.
type CrfSearcher struct {
	worker  *Worker[*models.Video]
	videos  repository.VideoRepository
	vmafs   repository.VmafRepository
	fails   repository.FailureRepository
	machine *state.Machine
	hints   *hints.Engine
	runner  runner.Runner
	bus     *events.Bus
	logger  *slog.Logger

	tempDir        string
	presetFallback []string
	onSearched     func()
}

// NewCrfSearcher wires the crf-search pipeline.
func NewCrfSearcher(
	rate RateLimit,
	videos repository.VideoRepository,
	vmafs repository.VmafRepository,
	fails repository.FailureRepository,
	machine *state.Machine,
	hintEngine *hints.Engine,
	run runner.Runner,
	bus *events.Bus,
	logger *slog.Logger,
	tempDir string,
	presetFallback []string,
	onSearched func(),
) *CrfSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CrfSearcher{
		videos:         videos,
		vmafs:          vmafs,
		fails:          fails,
		machine:        machine,
		hints:          hintEngine,
		runner:         run,
		bus:            bus,
		logger:         logger.With(slog.String("pipeline", "crf_searcher")),
		tempDir:        tempDir,
		presetFallback: presetFallback,
		onSearched:     onSearched,
	}
	s.worker = NewWorker(
		WorkerConfig{
			Name:      "crf_searcher",
			Rate:      rate,
			QueueSize: 5,
			IdleTopic: events.TopicCrfSearcherIdle,
		},
		s.next,
		s.process,
		(*models.Video).Basename,
		bus,
		logger,
	)
	return s
}

// Start launches the pipeline.
func (s *CrfSearcher) Start(ctx context.Context) { s.worker.Start(ctx) }

// Stop halts after the in-flight search.
func (s *CrfSearcher) Stop() { s.worker.Stop() }

// DispatchAvailable signals that newly analyzed videos may exist.
func (s *CrfSearcher) DispatchAvailable() { s.worker.DispatchAvailable() }

// QueueSnapshot reports queue depth and preview for the status API.
func (s *CrfSearcher) QueueSnapshot() (int, []string) { return s.worker.QueueSnapshot() }

func (s *CrfSearcher) next(ctx context.Context, limit int) ([]*models.Video, error) {
	return s.videos.NextByState(ctx, models.VideoStateAnalyzed, limit)
}

func (s *CrfSearcher) process(ctx context.Context, video *models.Video) {
	if err := s.machine.MarkAsCrfSearching(ctx, video); err != nil {
		s.logger.Warn("cannot start crf search",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.bus.Publish(events.TopicCrfSearcherStarted, events.CrfSearchProgress{
		Filename: video.Basename(),
	})

	outcome := s.runSearch(ctx, video, false)
	if outcome == searchNoSamples {
		// A clean exit with no samples is still a failed optimization;
		// the audit row precedes the single retry.
		audit := &models.VideoFailure{
			VideoID:  video.ID,
			Stage:    models.FailureStageCrfSearch,
			Category: models.FailureCategoryCrfOptimization,
			Code:     "NO_SAMPLES",
			Message:  "crf search exited cleanly without an acceptable sample",
		}
		if err := s.fails.RecordAudit(ctx, audit); err != nil {
			s.logger.Error("recording no-sample audit",
				slog.Int64("video_id", video.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Warn("crf search found no acceptable crf, retrying with full range",
			slog.Int64("video_id", video.ID),
			slog.Int("fallback_args", len(s.presetFallback)),
		)
		outcome = s.runSearch(ctx, video, true)
		if outcome == searchNoSamples {
			s.recordTerminal(ctx, video, models.FailureCategoryPresetRetry, "PRESET_RETRY",
				"no acceptable crf found even with full range and preset fallback", nil)
			outcome = searchFailed
		}
	}

	samples, _ := s.vmafs.SamplesForVideo(ctx, video.ID)
	completed := events.CrfSearchCompleted{
		Filename:  video.Basename(),
		Samples:   len(samples),
		Succeeded: outcome == searchSucceeded,
	}
	if chosen, err := s.vmafs.ChosenForVideo(ctx, video.ID); err == nil && chosen != nil {
		completed.ChosenCRF = chosen.CRF
	}
	s.bus.Publish(events.TopicCrfSearcherDone, completed)

	if outcome == searchSucceeded && s.onSearched != nil {
		s.onSearched()
	}
}

type searchOutcome int

const (
	searchSucceeded searchOutcome = iota
	searchNoSamples
	searchFailed
)

// runSearch performs one crf-search invocation. On retry the full CRF
// range applies and the preset fallback args join the overrides.
func (s *CrfSearcher) runSearch(ctx context.Context, video *models.Video, retry bool) searchOutcome {
	target := rules.VmafTarget(video)
	minCRF, maxCRF, err := s.hints.CrfRange(ctx, video, float64(target), retry)
	if err != nil {
		s.logger.Warn("crf hint lookup failed, using defaults",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		minCRF, maxCRF = hints.MinCRF, hints.MaxCRF
	}

	base := []string{
		"crf-search",
		"-i", video.Path,
		"--min-vmaf", strconv.Itoa(target),
		"--temp-dir", s.tempDir,
		"--min-crf", strconv.Itoa(minCRF),
		"--max-crf", strconv.Itoa(maxCRF),
	}
	var overrides []string
	if retry {
		overrides = s.presetFallback
	}
	args := rules.BuildArgs(video, rules.ContextCrfSearch, overrides, base)
	params := rules.StripBound(args)

	handle, err := s.runner.Spawn(ctx, AbAv1Binary, args...)
	if err != nil {
		verdict := failures.ClassifyError(failures.ErrorKindPortError)
		s.recordTerminal(ctx, video, verdict.Category, "SPAWN",
			fmt.Sprintf("%s: %v", verdict.Reason, err), map[string]any{
				"classifier_action": string(verdict.Action),
			})
		return searchFailed
	}

	var lastSample *models.Vmaf
	for line := range handle.Lines() {
		sample, ok := abav1.ParseCrfSearchLine(line)
		if !ok {
			continue
		}
		record := &models.Vmaf{
			VideoID: video.ID,
			CRF:     sample.CRF,
			Score:   sample.Score,
			Percent: float64(sample.Percent),
			Size:    sample.Size,
			Time:    sample.TimeSeconds,
			Params:  models.StringList(params),
		}
		record.ComputeSavings(video.Size)
		if err := s.vmafs.Upsert(ctx, record); err != nil {
			s.logger.Error("upserting vmaf sample",
				slog.Int64("video_id", video.ID),
				slog.Float64("crf", sample.CRF),
				slog.String("error", err.Error()),
			)
			continue
		}
		lastSample = record
		s.bus.Publish(events.TopicVmafUpserted, events.MediaUpserted{ID: record.ID})
		s.bus.Publish(events.TopicCrfSearcherProgress, events.CrfSearchProgress{
			Filename: video.Basename(),
			CRF:      sample.CRF,
			Score:    sample.Score,
			Percent:  float64(sample.Percent),
		})
	}

	code, err := handle.Wait()

	// A shutdown kills the child; the resulting exit says nothing about
	// the video. Roll it back for the next run instead of recording.
	if ctx.Err() != nil {
		if rbErr := s.machine.MarkAsAnalyzed(context.WithoutCancel(ctx), video); rbErr != nil {
			s.logger.Error("rolling back interrupted crf search",
				slog.Int64("video_id", video.ID),
				slog.String("error", rbErr.Error()),
			)
		}
		s.logger.Info("crf search interrupted by shutdown", slog.Int64("video_id", video.ID))
		return searchFailed
	}

	if err != nil {
		verdict := failures.ClassifyError(failures.ErrorKindPortError)
		s.recordTerminal(ctx, video, verdict.Category, "WAIT", err.Error(), map[string]any{
			"classifier_action": string(verdict.Action),
		})
		return searchFailed
	}

	if code == 0 {
		if lastSample == nil {
			return searchNoSamples
		}
		return s.elect(ctx, video, lastSample)
	}

	return s.handleExit(ctx, video, code, handle.OutputTail())
}

// elect marks the last emitted sample chosen and advances the video.
// ab-av1 reports the best accepted sample last.
func (s *CrfSearcher) elect(ctx context.Context, video *models.Video, sample *models.Vmaf) searchOutcome {
	if err := s.vmafs.SetChosen(ctx, sample.ID); err != nil {
		s.recordTerminal(ctx, video, models.FailureCategoryUnknown, "ELECTION",
			"electing chosen vmaf: "+err.Error(), nil)
		return searchFailed
	}
	video.ChosenVmafID = &sample.ID
	if err := s.machine.MarkAsCrfSearched(ctx, video); err != nil {
		s.logger.Error("marking video crf_searched",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		return searchFailed
	}
	s.logger.Info("crf search complete",
		slog.Int64("video_id", video.ID),
		slog.Float64("chosen_crf", sample.CRF),
		slog.Float64("score", sample.Score),
	)
	return searchSucceeded
}

// handleExit classifies a non-zero exit. A first recoverable failure
// rolls the video back to analyzed for a later retry; systemic or
// repeated failures are terminal.
func (s *CrfSearcher) handleExit(ctx context.Context, video *models.Video, code int, tail []string) searchOutcome {
	verdict := failures.Classify(code)
	context := map[string]any{
		"exit_code":         code,
		"classifier_action": string(verdict.Action),
		"output_tail":       tail,
	}

	if verdict.Action == failures.ActionContinue {
		prior, err := s.fails.CountMatching(ctx, video.ID, models.FailureStageCrfSearch, verdict.Category)
		if err == nil && prior == 0 {
			audit := &models.VideoFailure{
				VideoID:       video.ID,
				Stage:         models.FailureStageCrfSearch,
				Category:      verdict.Category,
				Code:          failures.ExitCodeTag(code),
				Message:       verdict.Reason,
				SystemContext: context,
			}
			if err := s.fails.RecordAudit(ctx, audit); err != nil {
				s.logger.Error("recording crf search audit", slog.String("error", err.Error()))
			}
			if err := s.machine.MarkAsAnalyzed(ctx, video); err == nil {
				s.logger.Warn("crf search failed, rolled back for retry",
					slog.Int64("video_id", video.ID),
					slog.Int("exit_code", code),
				)
				return searchFailed
			}
		}
	}

	s.recordTerminal(ctx, video, verdict.Category, failures.ExitCodeTag(code), verdict.Reason, context)
	return searchFailed
}

func (s *CrfSearcher) recordTerminal(ctx context.Context, video *models.Video, category models.FailureCategory, code, message string, sysContext map[string]any) {
	failure := &models.VideoFailure{
		Stage:         models.FailureStageCrfSearch,
		Category:      category,
		Code:          code,
		Message:       message,
		SystemContext: sysContext,
	}
	if err := s.machine.RecordFailure(ctx, video, failure); err != nil {
		s.logger.Error("recording crf search failure",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/abav1"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/postprocess"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/rules"
	"github.com/mjc/reencodarr-sub000/internal/runner"
	"github.com/mjc/reencodarr-sub000/internal/state"
)

// buildEncodeArgs replays the chosen sample's recorded params as
// overrides on top of the encode base invocation.
func buildEncodeArgs(video *models.Video, vmaf *models.Vmaf, base []string) []string {
	return rules.BuildArgs(video, rules.ContextEncode, []string(vmaf.Params), base)
}

// Encoder drives ab-av1 encode for videos with a chosen CRF, then
// replaces the original file via post-processing.
type Encoder struct {
	worker  *Worker[*models.Vmaf]
	videos  repository.VideoRepository
	vmafs   repository.VmafRepository
	machine *state.Machine
	runner  runner.Runner
	post    *postprocess.Processor
	bus     *events.Bus
	logger  *slog.Logger

	tempDir string
	timeout time.Duration
}

// NewEncoder wires the encoder pipeline.
func NewEncoder(
	rate RateLimit,
	videos repository.VideoRepository,
	vmafs repository.VmafRepository,
	machine *state.Machine,
	run runner.Runner,
	post *postprocess.Processor,
	bus *events.Bus,
	logger *slog.Logger,
	tempDir string,
	timeout time.Duration,
) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Encoder{
		videos:  videos,
		vmafs:   vmafs,
		machine: machine,
		runner:  run,
		post:    post,
		bus:     bus,
		logger:  logger.With(slog.String("pipeline", "encoder")),
		tempDir: tempDir,
		timeout: timeout,
	}
	e.worker = NewWorker(
		WorkerConfig{
			Name:      "encoder",
			Rate:      rate,
			QueueSize: 5,
			IdleTopic: events.TopicEncoderIdle,
		},
		e.next,
		e.process,
		describeVmaf,
		bus,
		logger,
	)
	return e
}

// Start launches the pipeline.
func (e *Encoder) Start(ctx context.Context) { e.worker.Start(ctx) }

// Stop cancels any in-flight encode and halts.
func (e *Encoder) Stop() { e.worker.Stop() }

// DispatchAvailable signals that newly searched videos may exist.
func (e *Encoder) DispatchAvailable() { e.worker.DispatchAvailable() }

// QueueSnapshot reports queue depth and preview for the status API.
func (e *Encoder) QueueSnapshot() (int, []string) { return e.worker.QueueSnapshot() }

func describeVmaf(v *models.Vmaf) string {
	return fmt.Sprintf("video %d @ crf %g", v.VideoID, v.CRF)
}

func (e *Encoder) next(ctx context.Context, limit int) ([]*models.Vmaf, error) {
	return e.vmafs.NextForEncoding(ctx, limit)
}

func (e *Encoder) process(ctx context.Context, vmaf *models.Vmaf) {
	video, err := e.videos.GetByID(ctx, vmaf.VideoID)
	if err != nil || video == nil {
		e.logger.Warn("encode target vanished",
			slog.Int64("video_id", vmaf.VideoID),
			slog.Any("error", err),
		)
		return
	}

	if err := e.machine.MarkAsEncoding(ctx, video); err != nil {
		e.logger.Warn("cannot start encode",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	output := filepath.Join(e.tempDir, strconv.FormatInt(video.ID, 10)+".mkv")
	base := []string{
		"encode",
		"--crf", strconv.FormatFloat(vmaf.CRF, 'f', -1, 64),
		"--output", output,
		"--input", video.Path,
	}
	args := buildEncodeArgs(video, vmaf, base)

	e.bus.Publish(events.TopicEncoderStarted, events.EncoderProgress{
		Filename: video.Basename(),
	})
	e.logger.Info("starting encode",
		slog.Int64("video_id", video.ID),
		slog.Float64("crf", vmaf.CRF),
		slog.String("output", output),
	)

	encodeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	handle, err := e.runner.Spawn(encodeCtx, AbAv1Binary, args...)
	if err != nil {
		verdict := failures.ClassifyError(failures.ErrorKindPortError)
		e.recordFailure(ctx, video, verdict, "SPAWN",
			fmt.Sprintf("%s: %v", verdict.Reason, err), args, nil)
		return
	}

	// Resource telemetry rides along on progress events; a monitor that
	// fails to attach just leaves those fields zero.
	monitor, _ := runner.NewMonitor(handle.PID())

	for line := range handle.Lines() {
		if startID, ok := abav1.ParseEncodingStart(line); ok {
			if startID != video.ID {
				e.logger.Warn("encoder reported unexpected input",
					slog.Int64("video_id", video.ID),
					slog.Int64("reported_id", startID),
				)
			}
			continue
		}
		if progress, ok := abav1.ParseProgress(line); ok {
			event := events.EncoderProgress{
				Filename:   video.Basename(),
				Percent:    progress.Percent,
				FPS:        progress.FPS,
				ETASeconds: progress.ETASeconds,
			}
			if monitor != nil {
				stats := monitor.Sample()
				event.CPUPercent = stats.CPUPercent
				event.MemoryMB = stats.MemoryMB
			}
			e.bus.Publish(events.TopicEncoderProgress, event)
		}
	}

	code, waitErr := handle.Wait()
	tail := handle.OutputTail()

	// A shutdown kills the child; the exit code says nothing about the
	// video. Roll it back for the next run instead of recording.
	if ctx.Err() != nil {
		if rbErr := e.machine.MarkAsCrfSearched(context.WithoutCancel(ctx), video); rbErr != nil {
			e.logger.Error("rolling back interrupted encode",
				slog.Int64("video_id", video.ID),
				slog.String("error", rbErr.Error()),
			)
		}
		e.logger.Info("encode interrupted by shutdown", slog.Int64("video_id", video.ID))
		return
	}

	if encodeCtx.Err() != nil && errors.Is(encodeCtx.Err(), context.DeadlineExceeded) {
		e.bus.Publish(events.TopicEncoderFailed, events.EncoderResult{
			Filename: video.Basename(),
			Error:    "encode timeout",
		})
		e.recordFailure(ctx, video,
			failures.Verdict{Action: failures.ActionContinue, Reason: "Encode exceeded timeout", Category: models.FailureCategoryTimeout},
			"TIMEOUT", fmt.Sprintf("encode exceeded %s", e.timeout), args, tail)
		return
	}
	if waitErr != nil {
		verdict := failures.ClassifyError(failures.ErrorKindPortError)
		e.recordFailure(ctx, video, verdict, "WAIT", waitErr.Error(), args, tail)
		return
	}

	if code == 0 {
		if _, err := os.Stat(output); err != nil {
			e.recordFailure(ctx, video,
				failures.Verdict{Action: failures.ActionContinue, Reason: "Encoder exited 0 but produced no output", Category: models.FailureCategoryProcessFailure},
				"NO_OUTPUT", "output file missing after successful exit", args, tail)
			return
		}
		e.finish(ctx, video, output, args, tail)
		return
	}

	verdict := failures.Classify(code)
	message := verdict.Reason
	if ffmpegErr := abav1.ExtractFfmpegError(tail); ffmpegErr != "" {
		message = fmt.Sprintf("%s (%s)", verdict.Reason, ffmpegErr)
	}
	e.bus.Publish(events.TopicEncoderFailed, events.EncoderResult{
		Filename: video.Basename(),
		Error:    message,
	})
	e.recordFailure(ctx, video, verdict, failures.ExitCodeTag(code), message, args, tail)
}

// finish runs post-processing and marks the video encoded.
func (e *Encoder) finish(ctx context.Context, video *models.Video, output string, args, tail []string) {
	if err := e.post.Run(ctx, video, output); err != nil {
		failure := &models.VideoFailure{
			Stage:    models.FailureStagePostProcess,
			Category: models.FailureCategoryFileOperations,
			Code:     "POST_PROCESS",
			Message:  err.Error(),
			SystemContext: map[string]any{
				"command":     AbAv1Binary,
				"args":        args,
				"output_tail": tail,
			},
		}
		if recErr := e.machine.RecordFailure(ctx, video, failure); recErr != nil {
			e.logger.Error("recording post-process failure",
				slog.Int64("video_id", video.ID),
				slog.String("error", recErr.Error()),
			)
		}
		return
	}

	if err := e.videos.Save(ctx, video); err != nil {
		e.logger.Warn("saving post-encode size",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.machine.MarkAsEncoded(ctx, video); err != nil {
		e.logger.Error("marking video encoded",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	e.bus.Publish(events.TopicEncoderCompleted, events.EncoderResult{
		Filename:  video.Basename(),
		Succeeded: true,
	})
	e.logger.Info("encode complete",
		slog.Int64("video_id", video.ID),
		slog.String("path", video.Path),
	)
}

func (e *Encoder) recordFailure(ctx context.Context, video *models.Video, verdict failures.Verdict, code, message string, args, tail []string) {
	failure := &models.VideoFailure{
		Stage:    models.FailureStageEncoding,
		Category: verdict.Category,
		Code:     code,
		Message:  message,
		SystemContext: map[string]any{
			"command":           AbAv1Binary,
			"args":              args,
			"output_tail":       tail,
			"classifier_action": string(verdict.Action),
		},
	}
	if err := e.machine.RecordFailure(ctx, video, failure); err != nil {
		e.logger.Error("recording encode failure",
			slog.Int64("video_id", video.ID),
			slog.String("error", err.Error()),
		)
	}
}

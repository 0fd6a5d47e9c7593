package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/pipeline"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// QueueSnapshotter exposes a pipeline's queue depth and preview.
type QueueSnapshotter interface {
	QueueSnapshot() (int, []string)
}

// StatusHandler serves pipeline queue state and analyzer tuning.
type StatusHandler struct {
	videos repository.VideoRepository
	perf   *pipeline.PerfMonitor

	analyzer QueueSnapshotter
	searcher QueueSnapshotter
	encoder  QueueSnapshotter
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(videos repository.VideoRepository, perf *pipeline.PerfMonitor, analyzer, searcher, encoder QueueSnapshotter) *StatusHandler {
	return &StatusHandler{
		videos:   videos,
		perf:     perf,
		analyzer: analyzer,
		searcher: searcher,
		encoder:  encoder,
	}
}

// QueueStatus is one pipeline's queue state.
type QueueStatus struct {
	QueueSize int      `json:"queue_size"`
	Next      []string `json:"next"`
}

// StatusResponse is the status endpoint body.
type StatusResponse struct {
	States map[models.VideoState]int64 `json:"states"`
	Queues map[string]QueueStatus      `json:"queues"`
}

// StatusOutput is the output for the status endpoint.
type StatusOutput struct {
	Body StatusResponse
}

// AnalyzerSettingsResponse reports the analyzer's effective tuning.
type AnalyzerSettingsResponse struct {
	RateLimit         int     `json:"rate_limit"`
	BatchSize         int     `json:"batch_size"`
	AverageThroughput float64 `json:"average_throughput"`
	WindowSamples     int     `json:"window_samples"`
}

// AnalyzerSettingsOutput is the output for analyzer settings reads.
type AnalyzerSettingsOutput struct {
	Body AnalyzerSettingsResponse
}

// AnalyzerSettingsInput carries a manual analyzer override.
type AnalyzerSettingsInput struct {
	Body struct {
		RateLimit int `json:"rate_limit" doc:"Messages per interval, clamped to [200,1500]"`
		BatchSize int `json:"batch_size" doc:"Videos per mediainfo invocation, clamped to [5,25]"`
	}
}

// Register registers the status routes.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/v1/status",
		Summary:     "Pipeline status",
		Description: "Returns video counts per state and pipeline queue snapshots",
		Tags:        []string{"Status"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getAnalyzerSettings",
		Method:      "GET",
		Path:        "/api/v1/analyzer/settings",
		Summary:     "Analyzer settings",
		Tags:        []string{"Status"},
	}, h.GetAnalyzerSettings)

	huma.Register(api, huma.Operation{
		OperationID: "updateAnalyzerSettings",
		Method:      "PUT",
		Path:        "/api/v1/analyzer/settings",
		Summary:     "Override analyzer settings",
		Description: "Overrides analyzer rate limit and mediainfo batch size within configured bounds",
		Tags:        []string{"Status"},
	}, h.UpdateAnalyzerSettings)
}

// GetStatus returns state counts and queue snapshots.
func (h *StatusHandler) GetStatus(ctx context.Context, _ *struct{}) (*StatusOutput, error) {
	states, err := h.videos.CountByState(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("counting video states", err)
	}

	queues := make(map[string]QueueStatus, 3)
	for name, snap := range map[string]QueueSnapshotter{
		"analyzer":     h.analyzer,
		"crf_searcher": h.searcher,
		"encoder":      h.encoder,
	} {
		if snap == nil {
			continue
		}
		size, next := snap.QueueSnapshot()
		queues[name] = QueueStatus{QueueSize: size, Next: next}
	}

	return &StatusOutput{Body: StatusResponse{States: states, Queues: queues}}, nil
}

// GetAnalyzerSettings returns the effective analyzer tuning.
func (h *StatusHandler) GetAnalyzerSettings(ctx context.Context, _ *struct{}) (*AnalyzerSettingsOutput, error) {
	average, samples := h.perf.Average()
	return &AnalyzerSettingsOutput{
		Body: AnalyzerSettingsResponse{
			RateLimit:         h.perf.RateLimit(),
			BatchSize:         h.perf.BatchSize(),
			AverageThroughput: average,
			WindowSamples:     samples,
		},
	}, nil
}

// UpdateAnalyzerSettings applies a manual override. Out-of-bounds values
// are clamped; the response reports what was actually applied.
func (h *StatusHandler) UpdateAnalyzerSettings(ctx context.Context, input *AnalyzerSettingsInput) (*AnalyzerSettingsOutput, error) {
	h.perf.SetOverrides(input.Body.RateLimit, input.Body.BatchSize)
	return h.GetAnalyzerSettings(ctx, nil)
}

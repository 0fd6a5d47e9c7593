package events

import "github.com/mjc/reencodarr-sub000/internal/models"

// VideoStateChanged is published on every state machine transition.
type VideoStateChanged struct {
	Video         *models.Video     `json:"video"`
	PreviousState models.VideoState `json:"previous_state"`
	NewState      models.VideoState `json:"new_state"`
}

// MediaUpserted is published when a video or vmaf row is written.
type MediaUpserted struct {
	ID int64 `json:"id"`
}

// QueueUpdate carries a producer's queue depth and a short preview of
// upcoming work after each refill.
type QueueUpdate struct {
	Pipeline  string   `json:"pipeline"`
	QueueSize int      `json:"queue_size"`
	Next      []string `json:"next"`
}

// AnalyzerBatch reports a completed mediainfo batch.
type AnalyzerBatch struct {
	BatchSize  int     `json:"batch_size"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Throughput float64 `json:"throughput"` // videos per second
}

// AnalyzerThroughput is the performance monitor's periodic summary.
type AnalyzerThroughput struct {
	AverageThroughput float64 `json:"average_throughput"`
	WindowSamples     int     `json:"window_samples"`
	RateLimit         int     `json:"rate_limit"`
	BatchSize         int     `json:"batch_size"`
}

// CrfSearchProgress is published as crf-search sample lines arrive.
type CrfSearchProgress struct {
	Filename string  `json:"filename"`
	CRF      float64 `json:"crf"`
	Score    float64 `json:"score"`
	Percent  float64 `json:"percent"`
}

// CrfSearchCompleted is published on crf-search exit.
type CrfSearchCompleted struct {
	Filename  string  `json:"filename"`
	ChosenCRF float64 `json:"chosen_crf,omitempty"`
	Samples   int     `json:"samples"`
	Succeeded bool    `json:"succeeded"`
}

// EncoderProgress carries encode telemetry parsed from ab-av1 output.
type EncoderProgress struct {
	Filename   string  `json:"filename"`
	Percent    float64 `json:"percent"`
	FPS        float64 `json:"fps"`
	ETASeconds int64   `json:"eta_seconds"`

	// Resource usage of the encode subprocess, when sampling succeeded.
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryMB   float64 `json:"memory_mb,omitempty"`
}

// EncoderResult is published when an encode finishes.
type EncoderResult struct {
	Filename  string `json:"filename"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// SyncProgress reports intake progress for one library service.
type SyncProgress struct {
	RunID       string             `json:"run_id"`
	ServiceType models.ServiceType `json:"service_type"`
	Progress    int                `json:"progress"` // 0-100
}

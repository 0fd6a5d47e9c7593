package models

import "errors"

// Validation errors shared across models.
var (
	// ErrVideoPathRequired indicates a video was saved without a path.
	ErrVideoPathRequired = errors.New("video path is required")
	// ErrVideoPathRelative indicates a video path was not absolute.
	ErrVideoPathRelative = errors.New("video path must be absolute")
	// ErrVmafVideoRequired indicates a vmaf sample without a video.
	ErrVmafVideoRequired = errors.New("vmaf sample requires a video id")
	// ErrFailureVideoRequired indicates a failure without a video.
	ErrFailureVideoRequired = errors.New("video failure requires a video id")
	// ErrFailureStageRequired indicates a failure without a stage.
	ErrFailureStageRequired = errors.New("video failure requires a stage")
)

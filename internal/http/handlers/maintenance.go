package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mjc/reencodarr-sub000/internal/maintenance"
)

// MaintenanceHandler exposes the bulk maintenance operations.
type MaintenanceHandler struct {
	ops *maintenance.Operations
}

// NewMaintenanceHandler creates a maintenance handler.
func NewMaintenanceHandler(ops *maintenance.Operations) *MaintenanceHandler {
	return &MaintenanceHandler{ops: ops}
}

// ResetOutput reports how many videos an operation touched.
type ResetOutput struct {
	Body struct {
		Reset int64 `json:"reset"`
	}
}

// SweepOutput reports how many videos the missing-path sweep removed.
type SweepOutput struct {
	Body struct {
		Deleted int `json:"deleted"`
	}
}

// Register registers the maintenance routes.
func (h *MaintenanceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "resetFailedVideos",
		Method:      "POST",
		Path:        "/api/v1/maintenance/reset-failed",
		Summary:     "Reset failed videos",
		Description: "Moves every failed video back to needs_analysis, discarding samples and unresolved failures",
		Tags:        []string{"Maintenance"},
	}, h.ResetFailed)

	huma.Register(api, huma.Operation{
		OperationID: "resetInvalidAudio",
		Method:      "POST",
		Path:        "/api/v1/maintenance/reset-invalid-audio",
		Summary:     "Reset videos with zeroed audio args",
		Description: "Reanalyzes videos whose encode argv would disable audio",
		Tags:        []string{"Maintenance"},
	}, h.ResetInvalidAudio)

	huma.Register(api, huma.Operation{
		OperationID: "resetInvalidAudioMetadata",
		Method:      "POST",
		Path:        "/api/v1/maintenance/reset-invalid-audio-metadata",
		Summary:     "Reset videos with invalid audio metadata",
		Description: "Reanalyzes videos with empty codec lists or missing channel counts",
		Tags:        []string{"Maintenance"},
	}, h.ResetInvalidAudioMetadata)

	huma.Register(api, huma.Operation{
		OperationID: "forceReanalyze",
		Method:      "POST",
		Path:        "/api/v1/videos/{id}/reanalyze",
		Summary:     "Force reanalysis",
		Description: "Clears one video's samples and media attributes and queues it for analysis",
		Tags:        []string{"Maintenance"},
	}, h.ForceReanalyze)

	huma.Register(api, huma.Operation{
		OperationID: "deleteMissingPaths",
		Method:      "POST",
		Path:        "/api/v1/maintenance/sweep-missing",
		Summary:     "Delete missing videos",
		Description: "Removes videos whose file no longer exists on disk",
		Tags:        []string{"Maintenance"},
	}, h.DeleteMissingPaths)
}

// ResetFailed revives all failed videos.
func (h *MaintenanceHandler) ResetFailed(ctx context.Context, _ *struct{}) (*ResetOutput, error) {
	count, err := h.ops.ResetAllFailed(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("resetting failed videos", err)
	}
	out := &ResetOutput{}
	out.Body.Reset = count
	return out, nil
}

// ResetInvalidAudio sweeps videos whose encode argv disables audio.
func (h *MaintenanceHandler) ResetInvalidAudio(ctx context.Context, _ *struct{}) (*ResetOutput, error) {
	count, err := h.ops.ResetInvalidAudio(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("resetting invalid audio", err)
	}
	out := &ResetOutput{}
	out.Body.Reset = int64(count)
	return out, nil
}

// ResetInvalidAudioMetadata sweeps videos with unusable audio metadata.
func (h *MaintenanceHandler) ResetInvalidAudioMetadata(ctx context.Context, _ *struct{}) (*ResetOutput, error) {
	count, err := h.ops.ResetInvalidAudioMetadata(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("resetting invalid audio metadata", err)
	}
	out := &ResetOutput{}
	out.Body.Reset = int64(count)
	return out, nil
}

// ForceReanalyze resets one video for a fresh analysis.
func (h *MaintenanceHandler) ForceReanalyze(ctx context.Context, input *VideoIDInput) (*struct{}, error) {
	if err := h.ops.ForceReanalyze(ctx, input.ID); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &struct{}{}, nil
}

// DeleteMissingPaths runs the missing-path sweep now.
func (h *MaintenanceHandler) DeleteMissingPaths(ctx context.Context, _ *struct{}) (*SweepOutput, error) {
	deleted, err := h.ops.DeleteMissingPaths(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("sweeping missing paths", err)
	}
	out := &SweepOutput{}
	out.Body.Deleted = deleted
	return out, nil
}

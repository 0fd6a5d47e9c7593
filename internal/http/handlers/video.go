package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// VideoHandler serves video lookups and their failure history.
type VideoHandler struct {
	videos   repository.VideoRepository
	vmafs    repository.VmafRepository
	failures repository.FailureRepository
}

// NewVideoHandler creates a video handler.
func NewVideoHandler(videos repository.VideoRepository, vmafs repository.VmafRepository, failures repository.FailureRepository) *VideoHandler {
	return &VideoHandler{videos: videos, vmafs: vmafs, failures: failures}
}

// VideoIDInput selects a video by id.
type VideoIDInput struct {
	ID int64 `path:"id" doc:"Video ID"`
}

// VideoOutput is a single video with its samples.
type VideoOutput struct {
	Body struct {
		Video   *models.Video  `json:"video"`
		Samples []*models.Vmaf `json:"samples"`
	}
}

// VideoListInput pages through videos by id.
type VideoListInput struct {
	AfterID int64 `query:"after_id" doc:"Return videos with id greater than this"`
	Limit   int   `query:"limit" minimum:"1" maximum:"500" default:"100"`
}

// VideoListOutput is a page of videos.
type VideoListOutput struct {
	Body struct {
		Videos []*models.Video `json:"videos"`
	}
}

// FailureListOutput is a video's failure history.
type FailureListOutput struct {
	Body struct {
		Failures []*models.VideoFailure `json:"failures"`
	}
}

// FailureIDInput selects a failure by id.
type FailureIDInput struct {
	ID int64 `path:"id" doc:"Failure ID"`
}

// Register registers the video routes.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        "/api/v1/videos",
		Summary:     "List videos",
		Description: "Returns videos in id order, paged by after_id",
		Tags:        []string{"Videos"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getVideo",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}",
		Summary:     "Get video",
		Description: "Returns a video and its CRF/VMAF samples",
		Tags:        []string{"Videos"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "listVideoFailures",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}/failures",
		Summary:     "List video failures",
		Tags:        []string{"Videos"},
	}, h.ListFailures)

	huma.Register(api, huma.Operation{
		OperationID: "resolveFailure",
		Method:      "POST",
		Path:        "/api/v1/failures/{id}/resolve",
		Summary:     "Resolve failure",
		Description: "Marks a failure record resolved",
		Tags:        []string{"Videos"},
	}, h.ResolveFailure)
}

// List returns a page of videos.
func (h *VideoHandler) List(ctx context.Context, input *VideoListInput) (*VideoListOutput, error) {
	videos, err := h.videos.ListPage(ctx, input.AfterID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing videos", err)
	}
	out := &VideoListOutput{}
	out.Body.Videos = videos
	return out, nil
}

// GetByID returns a video with its samples.
func (h *VideoHandler) GetByID(ctx context.Context, input *VideoIDInput) (*VideoOutput, error) {
	video, err := h.videos.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("fetching video", err)
	}
	if video == nil {
		return nil, huma.Error404NotFound("video not found")
	}

	samples, err := h.vmafs.SamplesForVideo(ctx, video.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("fetching samples", err)
	}

	out := &VideoOutput{}
	out.Body.Video = video
	out.Body.Samples = samples
	return out, nil
}

// ListFailures returns a video's failure history, newest first.
func (h *VideoHandler) ListFailures(ctx context.Context, input *VideoIDInput) (*FailureListOutput, error) {
	failures, err := h.failures.ListByVideo(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing failures", err)
	}
	out := &FailureListOutput{}
	out.Body.Failures = failures
	return out, nil
}

// ResolveFailure marks one failure resolved.
func (h *VideoHandler) ResolveFailure(ctx context.Context, input *FailureIDInput) (*struct{}, error) {
	if err := h.failures.Resolve(ctx, input.ID); err != nil {
		return nil, huma.Error500InternalServerError("resolving failure", err)
	}
	return &struct{}{}, nil
}

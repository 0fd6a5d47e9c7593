package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mjc/reencodarr-sub000/internal/intake"
	"github.com/mjc/reencodarr-sub000/internal/models"
)

// SyncHandler ingests file listings pushed by library services.
type SyncHandler struct {
	service *intake.Service
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(service *intake.Service) *SyncHandler {
	return &SyncHandler{service: service}
}

// SyncInput is one service's file listing.
type SyncInput struct {
	Service string `path:"service" enum:"sonarr,radarr" doc:"Library service type"`
	Body    struct {
		Files []intake.FileRecord `json:"files"`
	}
}

// SyncOutput reports how many records were upserted.
type SyncOutput struct {
	Body struct {
		Upserted int `json:"upserted"`
	}
}

// Register registers the sync route.
func (h *SyncHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "syncLibrary",
		Method:      "POST",
		Path:        "/api/v1/sync/{service}",
		Summary:     "Sync library files",
		Description: "Upserts a batch of file records from sonarr or radarr",
		Tags:        []string{"Sync"},
	}, h.Sync)
}

// Sync ingests a batch of file records.
func (h *SyncHandler) Sync(ctx context.Context, input *SyncInput) (*SyncOutput, error) {
	upserted, err := h.service.SyncBatch(ctx, models.ServiceType(input.Service), input.Body.Files)
	if err != nil {
		return nil, huma.Error500InternalServerError("syncing library", err)
	}
	out := &SyncOutput{}
	out.Body.Upserted = upserted
	return out, nil
}

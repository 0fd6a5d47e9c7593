// Package handlers provides the HTTP API handlers for reencodarr.
package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mjc/reencodarr-sub000/internal/database"
)

// HealthHandler serves liveness and system health.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, db *database.DB) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		db:        db,
	}
}

// CPUInfo reports load averages relative to core count.
type CPUInfo struct {
	Cores     int     `json:"cores"`
	Load1Min  float64 `json:"load_1min"`
	Load5Min  float64 `json:"load_5min"`
	Load15Min float64 `json:"load_15min"`
}

// MemoryInfo reports system memory usage in megabytes.
type MemoryInfo struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
}

// DatabaseHealth reports connectivity and pool utilization.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
	ActiveConnections int     `json:"active_connections"`
	IdleConnections   int     `json:"idle_connections"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	Timestamp     string         `json:"timestamp"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	CPU           CPUInfo        `json:"cpu"`
	Memory        MemoryInfo     `json:"memory"`
	Database      DatabaseHealth `json:"database"`
}

// HealthInput is the input for the health endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including system and database metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	dbHealth := h.databaseHealth(ctx)

	status := "healthy"
	if dbHealth.Status != "ok" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Version:       h.version,
			Timestamp:     now.UTC().Format(time.RFC3339),
			UptimeSeconds: now.Sub(h.startTime).Seconds(),
			CPU:           cpuInfo(),
			Memory:        memoryInfo(),
			Database:      dbHealth,
		},
	}, nil
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	if avg, err := load.Avg(); err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
	}
	return info
}

func memoryInfo() MemoryInfo {
	info := MemoryInfo{}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMB = float64(vm.Total) / 1024 / 1024
		info.UsedMB = float64(vm.Used) / 1024 / 1024
		info.AvailableMB = float64(vm.Available) / 1024 / 1024
	}
	return info
}

func (h *HealthHandler) databaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}
	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB.DB()
	if err == nil {
		stats := sqlDB.Stats()
		health.ActiveConnections = stats.InUse
		health.IdleConnections = stats.Idle
	}

	start := time.Now()
	if err := h.db.Ping(ctx); err != nil {
		health.Status = "error"
	}
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	return health
}

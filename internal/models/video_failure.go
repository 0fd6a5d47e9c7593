package models

import "gorm.io/gorm"

// FailureStage identifies which pipeline stage recorded a failure.
type FailureStage string

const (
	// FailureStageAnalysis covers mediainfo invocation and parsing.
	FailureStageAnalysis FailureStage = "analysis"
	// FailureStageCrfSearch covers ab-av1 crf-search runs.
	FailureStageCrfSearch FailureStage = "crf_search"
	// FailureStageEncoding covers ab-av1 encode runs.
	FailureStageEncoding FailureStage = "encoding"
	// FailureStagePostProcess covers file moves and library refresh.
	FailureStagePostProcess FailureStage = "post_process"
)

// FailureCategory classifies what went wrong.
type FailureCategory string

const (
	FailureCategoryFileAccess         FailureCategory = "file_access"
	FailureCategoryMediainfoParsing   FailureCategory = "mediainfo_parsing"
	FailureCategoryValidation         FailureCategory = "validation"
	FailureCategoryVmafCalculation    FailureCategory = "vmaf_calculation"
	FailureCategoryCrfOptimization    FailureCategory = "crf_optimization"
	FailureCategorySizeLimits         FailureCategory = "size_limits"
	FailureCategoryPresetRetry        FailureCategory = "preset_retry"
	FailureCategoryProcessFailure     FailureCategory = "process_failure"
	FailureCategoryResourceExhaustion FailureCategory = "resource_exhaustion"
	FailureCategoryTimeout            FailureCategory = "timeout"
	FailureCategoryCodecIssues        FailureCategory = "codec_issues"
	FailureCategoryConfiguration      FailureCategory = "configuration"
	FailureCategorySystemEnvironment  FailureCategory = "system_environment"
	FailureCategoryFileOperations     FailureCategory = "file_operations"
	FailureCategorySyncIntegration    FailureCategory = "sync_integration"
	FailureCategoryCleanup            FailureCategory = "cleanup"
	FailureCategoryUnknown            FailureCategory = "unknown"
)

// VideoFailure is an append-only audit record of a failed operation.
// Writing one transitions the owning video to failed in the same
// transaction (see repository.FailureRepository.Record).
type VideoFailure struct {
	BaseModel

	VideoID  int64           `gorm:"not null;index" json:"video_id"`
	Stage    FailureStage    `gorm:"not null;size:20;index" json:"stage"`
	Category FailureCategory `gorm:"not null;size:32;index" json:"category"`

	// Code is a short machine tag, e.g. "EXIT_137".
	Code string `gorm:"size:32" json:"code"`

	Message    string `gorm:"size:4096" json:"message"`
	RetryCount int    `gorm:"default:0" json:"retry_count"`

	// SystemContext carries command argv, output tail, and the
	// classifier verdict for postmortems.
	SystemContext JSONMap `gorm:"type:text" json:"system_context,omitempty"`

	Resolved   bool  `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedAt *Time `json:"resolved_at,omitempty"`
}

// TableName returns the table name for VideoFailure.
func (VideoFailure) TableName() string {
	return "video_failures"
}

// Resolve marks the failure as resolved now.
func (f *VideoFailure) Resolve() {
	f.Resolved = true
	now := Now()
	f.ResolvedAt = &now
}

// Validate performs basic validation on the failure.
func (f *VideoFailure) Validate() error {
	if f.VideoID == 0 {
		return ErrFailureVideoRequired
	}
	if f.Stage == "" {
		return ErrFailureStageRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the failure.
func (f *VideoFailure) BeforeCreate(tx *gorm.DB) error {
	if f.Category == "" {
		f.Category = FailureCategoryUnknown
	}
	return f.Validate()
}

package models

import "gorm.io/gorm"

// Vmaf is one CRF/VMAF sample for a video, produced by the crf-search
// subprocess. Rows upsert on (video_id, crf); at most one row per video
// is chosen at a time.
type Vmaf struct {
	BaseModel

	VideoID int64 `gorm:"not null;uniqueIndex:idx_vmafs_video_crf,priority:1;index" json:"video_id"`

	// CRF is the constant rate factor this sample was measured at.
	CRF float64 `gorm:"not null;uniqueIndex:idx_vmafs_video_crf,priority:2" json:"crf"`

	// Score is the predicted VMAF at that CRF.
	Score float64 `gorm:"not null" json:"score"`

	// Percent is the predicted output size as a percent of the input.
	Percent float64 `json:"percent"`

	// Size is the predicted output size in bytes, when reported.
	Size *int64 `json:"size,omitempty"`

	// Time is the predicted encode duration in seconds, when reported.
	Time *int64 `json:"time,omitempty"`

	// Savings is input_size * (100 - percent) / 100, in bytes.
	Savings *int64 `json:"savings,omitempty"`

	// Chosen marks the sample elected to drive the encode.
	Chosen bool `gorm:"not null;default:false;index" json:"chosen"`

	// Params is the argv fragment used to compute this sample, without
	// the subcommand and CRF bound flags. Replayed as overrides for the
	// subsequent encode.
	Params StringList `gorm:"type:text" json:"params"`
}

// TableName returns the table name for Vmaf.
func (Vmaf) TableName() string {
	return "vmafs"
}

// ComputeSavings derives Savings from the input size and Percent when it
// was not reported directly.
func (m *Vmaf) ComputeSavings(inputSize int64) {
	if m.Savings != nil || inputSize <= 0 || m.Percent <= 0 {
		return
	}
	savings := int64(float64(inputSize) * (100 - m.Percent) / 100)
	if savings < 0 {
		savings = 0
	}
	m.Savings = &savings
}

// Validate performs basic validation on the sample.
func (m *Vmaf) Validate() error {
	if m.VideoID == 0 {
		return ErrVmafVideoRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the sample.
func (m *Vmaf) BeforeCreate(tx *gorm.DB) error {
	return m.Validate()
}

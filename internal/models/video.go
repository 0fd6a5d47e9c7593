package models

import (
	"path/filepath"
	"strings"

	"gorm.io/gorm"
)

// VideoState represents where a video sits in the re-encode lifecycle.
type VideoState string

const (
	// VideoStateNeedsAnalysis indicates the video has no media attributes yet.
	VideoStateNeedsAnalysis VideoState = "needs_analysis"
	// VideoStateAnalyzed indicates media attributes are populated.
	VideoStateAnalyzed VideoState = "analyzed"
	// VideoStateCrfSearching indicates a crf-search subprocess is in flight.
	VideoStateCrfSearching VideoState = "crf_searching"
	// VideoStateCrfSearched indicates a chosen VMAF sample exists.
	VideoStateCrfSearched VideoState = "crf_searched"
	// VideoStateEncoding indicates an encode subprocess is in flight.
	VideoStateEncoding VideoState = "encoding"
	// VideoStateEncoded indicates the original file has been replaced.
	VideoStateEncoded VideoState = "encoded"
	// VideoStateFailed is terminal until an operator bulk-resets.
	VideoStateFailed VideoState = "failed"
)

// allowedPredecessors maps each target state to the states a video may
// legally come from. Encoded and failed are terminal; bulk resets go
// straight to the store and skip this table.
var allowedPredecessors = map[VideoState][]VideoState{
	VideoStateAnalyzed:      {VideoStateNeedsAnalysis, VideoStateCrfSearching},
	VideoStateCrfSearching:  {VideoStateAnalyzed},
	VideoStateCrfSearched:   {VideoStateCrfSearching, VideoStateEncoding},
	VideoStateEncoding:      {VideoStateCrfSearched},
	VideoStateEncoded:       {VideoStateEncoding},
	VideoStateNeedsAnalysis: {VideoStateAnalyzed},
	VideoStateFailed: {
		VideoStateNeedsAnalysis, VideoStateAnalyzed, VideoStateCrfSearching,
		VideoStateCrfSearched, VideoStateEncoding,
	},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to VideoState) bool {
	for _, allowed := range allowedPredecessors[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

// ServiceType identifies which media-library service owns a video.
type ServiceType string

const (
	// ServiceTypeSonarr is the TV library service.
	ServiceTypeSonarr ServiceType = "sonarr"
	// ServiceTypeRadarr is the movie library service.
	ServiceTypeRadarr ServiceType = "radarr"
)

// Video is the central aggregate: one media file tracked through
// analysis, CRF search, and encode.
type Video struct {
	BaseModel

	// Path is the absolute location of the file; unique per video.
	Path string `gorm:"uniqueIndex;size:4096;not null" json:"path"`

	// Title is the display title reported by the library service.
	Title string `gorm:"size:512" json:"title,omitempty"`

	// State drives the processing pipelines.
	State VideoState `gorm:"not null;default:'needs_analysis';size:20;index;index:idx_videos_state_updated,priority:1" json:"state"`

	// Media attributes, populated by the analyzer.
	Size             int64      `json:"size"`
	Bitrate          int64      `json:"bitrate"`
	Duration         *float64   `json:"duration,omitempty"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	FrameRate        float64    `json:"frame_rate"`
	VideoCodecs      StringList `gorm:"type:text" json:"video_codecs"`
	AudioCodecs      StringList `gorm:"type:text" json:"audio_codecs"`
	MaxAudioChannels *int       `json:"max_audio_channels,omitempty"`
	Atmos            bool       `json:"atmos"`

	// HDR carries the HDR format tag; non-nil means the video is HDR.
	HDR *string `gorm:"size:128" json:"hdr,omitempty"`

	// ContentYear is the release year from the service API, or parsed
	// from the path/title.
	ContentYear *int `json:"content_year,omitempty"`

	// References.
	LibraryID    *int64      `gorm:"index" json:"library_id,omitempty"`
	ServiceType  ServiceType `gorm:"size:10;index" json:"service_type"`
	ServiceID    string      `gorm:"size:64" json:"service_id"`
	ChosenVmafID *int64      `json:"chosen_vmaf_id,omitempty"`

	// UpdatedAt participates in producer ordering.
	// (field lives on BaseModel; composite index declared on State)
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// Basename returns the file name component of the video path.
func (v *Video) Basename() string {
	return filepath.Base(v.Path)
}

// IsHDR reports whether the video carries an HDR format tag.
func (v *Video) IsHDR() bool {
	return v.HDR != nil && *v.HDR != ""
}

// Analyzed reports whether all required media attributes are populated.
// The transition out of needs_analysis requires this.
func (v *Video) Analyzed() bool {
	return v.Bitrate > 0 &&
		v.Duration != nil &&
		v.Width > 0 && v.Height > 0 &&
		v.Size > 0
}

// HasValidAudio reports whether audio metadata is usable for encoding.
// Missing channel counts and empty codec lists (without Atmos) mean the
// analysis is invalid and the video should be reanalyzed.
func (v *Video) HasValidAudio() bool {
	if v.Atmos {
		return true
	}
	if v.MaxAudioChannels == nil || *v.MaxAudioChannels == 0 {
		return len(v.AudioCodecs) > 0
	}
	return true
}

// ClearMediaAttributes nulls out everything the analyzer populates.
// Used by the force-reanalyze and invalid-audio reset operations.
func (v *Video) ClearMediaAttributes() {
	v.Bitrate = 0
	v.Duration = nil
	v.Width = 0
	v.Height = 0
	v.FrameRate = 0
	v.VideoCodecs = nil
	v.AudioCodecs = nil
	v.MaxAudioChannels = nil
	v.Atmos = false
	v.HDR = nil
	v.ChosenVmafID = nil
	v.State = VideoStateNeedsAnalysis
}

// Validate performs basic validation on the video.
func (v *Video) Validate() error {
	if v.Path == "" {
		return ErrVideoPathRequired
	}
	if !strings.HasPrefix(v.Path, "/") {
		return ErrVideoPathRelative
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the video.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	return v.Validate()
}

// BeforeUpdate is a GORM hook that validates the video before update.
func (v *Video) BeforeUpdate(tx *gorm.DB) error {
	return v.Validate()
}

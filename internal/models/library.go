package models

import "strings"

// Library is a filesystem prefix grouping videos managed by one external
// media-library instance.
type Library struct {
	BaseModel

	// Path is the directory prefix; the library matching a video is the
	// one whose path is the longest prefix of the video's path.
	Path string `gorm:"uniqueIndex;size:4096;not null" json:"path"`
}

// TableName returns the table name for Library.
func (Library) TableName() string {
	return "libraries"
}

// Contains reports whether the library path is a prefix of the given
// video path.
func (l *Library) Contains(videoPath string) bool {
	return strings.HasPrefix(videoPath, l.Path)
}

// MatchLibrary finds the library with the longest path prefix of
// videoPath, or nil when none matches. Callers sort libraries by path
// length descending once per batch; this walks that order.
func MatchLibrary(sorted []*Library, videoPath string) *Library {
	for _, lib := range sorted {
		if lib.Contains(videoPath) {
			return lib
		}
	}
	return nil
}

// Package mediainfo parses the JSON document emitted by
// `mediainfo --Output=JSON` and maps it onto video media attributes.
package mediainfo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// FileInfo is the extracted media summary for one file.
type FileInfo struct {
	Path             string
	Size             int64
	Duration         float64
	OverallBitrate   int64
	VideoBitrate     int64
	AudioBitrate     int64
	Width            int
	Height           int
	FrameRate        float64
	VideoCodecs      []string
	AudioCodecs      []string
	MaxAudioChannels int
	Atmos            bool
	HDR              string
}

// Bitrate returns the overall bitrate, falling back to the sum of the
// video and audio stream bitrates when the container does not report
// one.
func (f *FileInfo) Bitrate() int64 {
	if f.OverallBitrate > 0 {
		return f.OverallBitrate
	}
	return f.VideoBitrate + f.AudioBitrate
}

// ApplyTo copies the extracted attributes onto a video.
func (f *FileInfo) ApplyTo(video *models.Video) {
	video.Size = f.Size
	video.Bitrate = f.Bitrate()
	duration := f.Duration
	video.Duration = &duration
	video.Width = f.Width
	video.Height = f.Height
	video.FrameRate = f.FrameRate
	video.VideoCodecs = models.StringList(f.VideoCodecs)
	video.AudioCodecs = models.StringList(f.AudioCodecs)
	channels := f.MaxAudioChannels
	video.MaxAudioChannels = &channels
	video.Atmos = f.Atmos
	if f.HDR != "" {
		hdr := f.HDR
		video.HDR = &hdr
	} else {
		video.HDR = nil
	}
}

// mediainfo renders every numeric field as a JSON string.
type document struct {
	Media *mediaBlock `json:"media"`
}

type mediaBlock struct {
	Ref    string  `json:"@ref"`
	Tracks []track `json:"track"`
}

type track struct {
	Type            string `json:"@type"`
	FileSize        string `json:"FileSize"`
	Duration        string `json:"Duration"`
	OverallBitRate  string `json:"OverallBitRate"`
	BitRate         string `json:"BitRate"`
	Width           string `json:"Width"`
	Height          string `json:"Height"`
	FrameRate       string `json:"FrameRate"`
	Format          string `json:"Format"`
	CommercialName  string `json:"Format_Commercial_IfAny"`
	HDRFormat       string `json:"HDR_Format"`
	ColourPrimaries string `json:"colour_primaries"`
	Channels        string `json:"Channels"`
}

// Parse decodes a mediainfo JSON document covering one or more files
// and returns the per-path summaries. mediainfo prints a bare object
// for a single file and an array for several; both shapes are accepted.
func Parse(data []byte) (map[string]*FileInfo, error) {
	var docs []document
	if err := json.Unmarshal(data, &docs); err != nil {
		var single document
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("decoding mediainfo output: %w", err)
		}
		docs = []document{single}
	}

	infos := make(map[string]*FileInfo, len(docs))
	for _, doc := range docs {
		if doc.Media == nil || doc.Media.Ref == "" {
			continue
		}
		info := extract(doc.Media)
		infos[info.Path] = info
	}
	return infos, nil
}

func extract(media *mediaBlock) *FileInfo {
	info := &FileInfo{Path: media.Ref}
	sawGeneral := false

	for _, t := range media.Tracks {
		switch t.Type {
		case "General":
			if sawGeneral {
				continue
			}
			sawGeneral = true
			info.Size = parseInt(t.FileSize)
			info.Duration = parseFloat(t.Duration)
			info.OverallBitrate = parseInt(t.OverallBitRate)
		case "Video":
			if info.Width == 0 {
				info.Width = int(parseInt(t.Width))
				info.Height = int(parseInt(t.Height))
				info.FrameRate = parseFloat(t.FrameRate)
			}
			info.VideoBitrate += parseInt(t.BitRate)
			if t.Format != "" {
				info.VideoCodecs = append(info.VideoCodecs, t.Format)
			}
			if info.HDR == "" {
				info.HDR = hdrTag(t)
			}
		case "Audio":
			info.AudioBitrate += parseInt(t.BitRate)
			if t.Format != "" {
				info.AudioCodecs = append(info.AudioCodecs, t.Format)
			}
			if channels := int(parseInt(t.Channels)); channels > info.MaxAudioChannels {
				info.MaxAudioChannels = channels
			}
			if isAtmos(t) {
				info.Atmos = true
			}
		}
	}
	return info
}

// hdrTag extracts the HDR format. A populated HDR_Format wins; failing
// that, wide-gamut colour primaries (BT.2020/2100) mark HDR. Plain
// BT.709 primaries are present on every SDR file and do not count.
func hdrTag(t track) string {
	if t.HDRFormat != "" {
		return t.HDRFormat
	}
	if strings.Contains(t.ColourPrimaries, "2020") || strings.Contains(t.ColourPrimaries, "2100") {
		return t.ColourPrimaries
	}
	return ""
}

func isAtmos(t track) bool {
	return strings.Contains(t.Format, "Atmos") || strings.Contains(t.CommercialName, "Atmos")
}

// parseInt reads mediainfo's stringly numbers; garbage reads as zero.
func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	// Some fields carry a fractional part ("23.976").
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(v)
	}
	return 0
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Package abav1 parses ab-av1 output lines: crf-search samples, encode
// progress, and ffmpeg error extraction from captured tails.
package abav1

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mjc/reencodarr-sub000/pkg/bytesize"
)

// Sample is one crf-search result line.
type Sample struct {
	CRF     float64
	Score   float64
	Percent int
	// Size is the predicted video stream size in bytes, when reported.
	Size *int64
	// TimeSeconds is the predicted encode time, when reported.
	TimeSeconds *int64
	// Predicted marks interim estimate lines.
	Predicted bool
}

var timeUnitSeconds = map[string]int64{
	"second": 1,
	"minute": 60,
	"hour":   3600,
	"day":    86400,
	"week":   7 * 86400,
	"month":  30 * 86400,
	"year":   365 * 86400,
}

// crfSearchPattern matches crf-search result lines anywhere in a line,
// tolerating log prefixes:
//
//	crf 24 VMAF 95.12 predicted video stream size 1.5 GB (25%) taking 30 minutes
var crfSearchPattern = regexp.MustCompile(
	`crf (\d+(?:\.\d+)?) VMAF (\d+(?:\.\d+)?)` +
		`(?: predicted video stream size (\d+(?:\.\d+)?) ?([A-Za-z]+))?` +
		` \((\d+)%\)` +
		`(?: taking (\d+) (second|minute|hour)s?)?` +
		`( predicted)?\s*$`)

// ParseCrfSearchLine extracts a sample from one output line. The second
// return is false for lines that are not samples; those are ignored by
// callers.
func ParseCrfSearchLine(line string) (Sample, bool) {
	m := crfSearchPattern.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, false
	}

	crf, _ := strconv.ParseFloat(m[1], 64)
	score, _ := strconv.ParseFloat(m[2], 64)
	percent, _ := strconv.Atoi(m[5])
	sample := Sample{CRF: crf, Score: score, Percent: percent, Predicted: m[8] != ""}

	if m[3] != "" {
		if size, err := bytesize.Parse(m[3] + m[4]); err == nil {
			bytes := size.Bytes()
			sample.Size = &bytes
		}
	}
	if m[6] != "" {
		n, _ := strconv.ParseInt(m[6], 10, 64)
		seconds := n * timeUnitSeconds[m[7]]
		sample.TimeSeconds = &seconds
	}
	return sample, true
}

// RenderCrfSearchLine produces the canonical line for a sample. Parsing
// the rendered line yields the sample back.
func RenderCrfSearchLine(s Sample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "crf %s VMAF %s",
		strconv.FormatFloat(s.CRF, 'f', -1, 64),
		strconv.FormatFloat(s.Score, 'f', -1, 64))
	if s.Size != nil {
		value, unit := splitSize(bytesize.Size(*s.Size))
		fmt.Fprintf(&b, " predicted video stream size %s %s", value, unit)
	}
	fmt.Fprintf(&b, " (%d%%)", s.Percent)
	if s.TimeSeconds != nil {
		n, unit := renderDuration(*s.TimeSeconds)
		fmt.Fprintf(&b, " taking %d %ss", n, unit)
	}
	if s.Predicted {
		b.WriteString(" predicted")
	}
	return b.String()
}

// splitSize separates bytesize's compact form into value and unit.
func splitSize(size bytesize.Size) (string, string) {
	formatted := bytesize.Format(size)
	i := strings.IndexFunc(formatted, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-'
	})
	if i < 0 {
		return formatted, "B"
	}
	return formatted[:i], formatted[i:]
}

// renderDuration picks the largest unit that divides evenly.
func renderDuration(seconds int64) (int64, string) {
	switch {
	case seconds%3600 == 0 && seconds >= 3600:
		return seconds / 3600, "hour"
	case seconds%60 == 0 && seconds >= 60:
		return seconds / 60, "minute"
	default:
		return seconds, "second"
	}
}

// encodingStartPattern matches the encode start line; the numeric stem
// is the video id by the temp-file naming convention.
var encodingStartPattern = regexp.MustCompile(`encoding (\d+)\.mkv\s*$`)

// ParseEncodingStart extracts the video id from an encode start line.
func ParseEncodingStart(line string) (int64, bool) {
	m := encodingStartPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Progress is one encode progress report.
type Progress struct {
	Percent    float64
	FPS        float64
	ETASeconds int64
}

var progressPattern = regexp.MustCompile(
	`(\d+(?:\.\d+)?)%, (\d+(?:\.\d+)?) fps, eta (\d+) (second|minute|hour|day|week|month|year)s?\b`)

// ParseProgress extracts an encode progress report from one line.
func ParseProgress(line string) (Progress, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	percent, _ := strconv.ParseFloat(m[1], 64)
	fps, _ := strconv.ParseFloat(m[2], 64)
	n, _ := strconv.ParseInt(m[3], 10, 64)
	return Progress{
		Percent:    percent,
		FPS:        fps,
		ETASeconds: n * timeUnitSeconds[m[4]],
	}, true
}

var ffmpegExitPattern = regexp.MustCompile(`Error: ffmpeg encode exit code (\d+)`)

// Known ffmpeg failure phrases worth surfacing verbatim.
var ffmpegErrorPhrases = []string{
	"invalid channel layout",
	"unknown encoder",
	"cannot allocate memory",
	"no space left on device",
	"invalid argument",
	"permission denied",
	"conversion failed",
	"error while decoding",
}

// ExtractFfmpegError scans a captured output tail for ffmpeg failure
// evidence. Returns an empty string when nothing matches.
func ExtractFfmpegError(tail []string) string {
	var parts []string
	for _, line := range tail {
		if m := ffmpegExitPattern.FindStringSubmatch(line); m != nil {
			parts = append(parts, fmt.Sprintf("ffmpeg exit code %s", m[1]))
			continue
		}
		lower := strings.ToLower(line)
		for _, phrase := range ffmpegErrorPhrases {
			if strings.Contains(lower, phrase) {
				parts = append(parts, strings.TrimSpace(line))
				break
			}
		}
	}
	return strings.Join(parts, "; ")
}

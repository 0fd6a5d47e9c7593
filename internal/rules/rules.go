// Package rules assembles ab-av1 argument lists from video attributes.
// The engine is pure: identical inputs always produce identical argv.
package rules

import (
	"strconv"
	"strings"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/pkg/bytesize"
)

// Context selects which rule subset applies.
type Context string

const (
	// ContextCrfSearch builds args for `ab-av1 crf-search`.
	ContextCrfSearch Context = "crf_search"
	// ContextEncode builds args for `ab-av1 encode`.
	ContextEncode Context = "encode"
)

// Arg is one (flag, value) tuple. Valued is false for bare flags.
type Arg struct {
	Flag   string
	Value  string
	Valued bool
}

// Flags that may legitimately repeat with different values.
var repeatableFlags = map[string]bool{
	"--svt": true,
	"--enc": true,
}

// Short-to-long canonicalization applied before dedup.
var canonicalFlags = map[string]string{
	"-i": "--input",
	"-o": "--output",
}

// Override flags dropped per context. The pipeline owns these; replayed
// params must not fight the base invocation.
var crfSearchDropFlags = map[string]bool{
	"--temp-dir":           true,
	"--min-vmaf":           true,
	"--max-vmaf":           true,
	"--acodec":             true,
	"--downmix-to-stereo":  true,
	"--video-only":         true,
}

var encodeDropFlags = map[string]bool{
	"--temp-dir": true,
	"--min-vmaf": true,
	"--max-vmaf": true,
	"--min-crf":  true,
	"--max-crf":  true,
}

// BuildArgs produces the final deduplicated argv for one invocation:
// base subcommands, base flags, filtered overrides, then rule output,
// deduplicated by canonical flag keeping the first occurrence.
func BuildArgs(video *models.Video, context Context, overrides, baseArgs []string) []string {
	subcommands, base := parseBase(baseArgs)
	override := filterOverrides(parseTuples(overrides), context)
	ruleTuples := applyRules(video, context)

	ordered := make([]Arg, 0, len(base)+len(override)+len(ruleTuples))
	ordered = append(ordered, base...)
	ordered = append(ordered, override...)
	ordered = append(ordered, ruleTuples...)

	deduped := dedup(canonicalize(ordered))

	args := make([]string, 0, len(subcommands)+len(deduped)*2)
	args = append(args, subcommands...)
	for _, a := range deduped {
		args = append(args, a.Flag)
		if a.Valued {
			args = append(args, a.Value)
		}
	}
	return args
}

// applyRules collects rule tuples for the video. Audio rules apply only
// to encode; crf-search measures the video stream alone.
func applyRules(video *models.Video, context Context) []Arg {
	var args []Arg

	// resolution: downscale anything above 1080p.
	if video.Height > 1080 {
		args = append(args, Arg{Flag: "--vfilter", Value: "scale=1920:-2", Valued: true})
	}

	// video: 10-bit pixel format for AV1.
	args = append(args, Arg{Flag: "--pix-format", Value: "yuv420p10le", Valued: true})

	// audio: pass through untouched.
	if context == ContextEncode {
		args = append(args, Arg{Flag: "--acodec", Value: "copy", Valued: true})
	}

	// hdr: tune 0 always; Dolby Vision streams need the extra flag.
	args = append(args, Arg{Flag: "--svt", Value: "tune=0", Valued: true})
	if video.IsHDR() {
		args = append(args, Arg{Flag: "--svt", Value: "dolbyvision=1", Valued: true})
	}

	// grain synthesis for vintage content.
	if year := ContentYear(video); year != nil && *year < 2009 {
		args = append(args, Arg{Flag: "--svt", Value: "film-grain=8", Valued: true})
	}

	return args
}

// filterOverrides drops override flags the pipeline controls.
func filterOverrides(overrides []Arg, context Context) []Arg {
	drop := encodeDropFlags
	if context == ContextCrfSearch {
		drop = crfSearchDropFlags
	}

	filtered := make([]Arg, 0, len(overrides))
	for _, a := range overrides {
		flag := canonicalFlag(a.Flag)
		if drop[flag] {
			continue
		}
		if context == ContextCrfSearch && flag == "--enc" &&
			(strings.HasPrefix(a.Value, "b:a=") || strings.HasPrefix(a.Value, "ac=")) {
			continue
		}
		filtered = append(filtered, a)
	}
	return filtered
}

// parseBase splits base args into leading subcommands and flag tuples.
func parseBase(args []string) ([]string, []Arg) {
	var subcommands []string
	i := 0
	for i < len(args) && !strings.HasPrefix(args[i], "-") {
		subcommands = append(subcommands, args[i])
		i++
	}
	return subcommands, parseTuples(args[i:])
}

// parseTuples converts a flat token list into (flag, value) tuples. A
// token following a flag is its value unless it is itself a flag.
func parseTuples(tokens []string) []Arg {
	var args []Arg
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		if !strings.HasPrefix(token, "-") {
			// Stray value without a flag; carry it as a bare token so
			// nothing silently disappears.
			args = append(args, Arg{Flag: token})
			continue
		}
		if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") {
			args = append(args, Arg{Flag: token, Value: tokens[i+1], Valued: true})
			i++
		} else {
			args = append(args, Arg{Flag: token})
		}
	}
	return args
}

// canonicalFlag maps short flag spellings to their long form.
func canonicalFlag(flag string) string {
	if long, ok := canonicalFlags[flag]; ok {
		return long
	}
	return flag
}

// canonicalize rewrites short flags to their long form.
func canonicalize(args []Arg) []Arg {
	out := make([]Arg, len(args))
	for i, a := range args {
		a.Flag = canonicalFlag(a.Flag)
		out[i] = a
	}
	return out
}

// dedup removes repeated flags keeping the first occurrence. Repeatable
// flags (--svt, --enc) are kept when their values differ.
func dedup(args []Arg) []Arg {
	seen := make(map[string]bool, len(args))
	out := make([]Arg, 0, len(args))
	for _, a := range args {
		key := a.Flag
		if repeatableFlags[a.Flag] {
			key = a.Flag + "\x00" + a.Value
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// boundFlags are owned by the pipeline invocation and stripped from the
// params persisted on a vmaf sample.
var boundFlags = map[string]bool{
	"--input":    true,
	"--output":   true,
	"--min-vmaf": true,
	"--temp-dir": true,
	"--min-crf":  true,
	"--max-crf":  true,
	"--crf":      true,
}

// StripBound removes the subcommand and pipeline-bound flags from a
// built argv, leaving the fragment recorded on vmaf samples.
func StripBound(args []string) []string {
	var out []string
	i := 0
	for i < len(args) && !strings.HasPrefix(args[i], "-") {
		i++ // skip subcommands
	}
	for ; i < len(args); i++ {
		flag := canonicalFlag(args[i])
		valued := i+1 < len(args) && !strings.HasPrefix(args[i+1], "-")
		if boundFlags[flag] {
			if valued {
				i++
			}
			continue
		}
		out = append(out, flag)
		if valued {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// VMAF target tiers by input size. Very large sources tolerate a lower
// target because the absolute savings dominate.
var vmafTiers = []struct {
	threshold bytesize.Size
	target    int
}{
	{60 * bytesize.GB, 91},
	{40 * bytesize.GB, 92},
	{25 * bytesize.GB, 94},
}

// DefaultVmafTarget applies to everything below the largest tier.
const DefaultVmafTarget = 95

// VmafTarget returns the target VMAF score for a video based on size.
func VmafTarget(video *models.Video) int {
	for _, tier := range vmafTiers {
		if video.Size > tier.threshold.Bytes() {
			return tier.target
		}
	}
	return DefaultVmafTarget
}

// ContentYear returns the video's release year: the service-provided
// value when present, otherwise parsed from the file name or title.
func ContentYear(video *models.Video) *int {
	if video.ContentYear != nil {
		return video.ContentYear
	}
	return ExtractYear(video.Basename(), video.Title)
}

// yearPatterns are tried in order against each candidate string. The
// dotted release-name delimiter outranks bracketed years so scene names
// like "Movie.2001.[2023].mkv" resolve to the title year.
var yearPatterns = []string{"(%s)", ".%s.", "[%s]", " %s "}

// ExtractYear scans candidate strings for a plausible release year
// (1950-2030), trying delimited forms first and bare four-digit runs
// last.
func ExtractYear(candidates ...string) *int {
	for _, pattern := range yearPatterns {
		for _, s := range candidates {
			if year := findDelimitedYear(s, pattern); year != nil {
				return year
			}
		}
	}
	for _, s := range candidates {
		if year := findBareYear(s); year != nil {
			return year
		}
	}
	return nil
}

func findDelimitedYear(s, pattern string) *int {
	prefix := pattern[:strings.Index(pattern, "%s")]
	suffix := pattern[strings.Index(pattern, "%s")+2:]

	for i := 0; i+len(prefix)+4+len(suffix) <= len(s); i++ {
		if !strings.HasPrefix(s[i:], prefix) {
			continue
		}
		start := i + len(prefix)
		digits := s[start : start+4]
		if !strings.HasPrefix(s[start+4:], suffix) {
			continue
		}
		if year := plausibleYear(digits); year != nil {
			return year
		}
	}
	return nil
}

func findBareYear(s string) *int {
	for i := 0; i+4 <= len(s); i++ {
		if i > 0 && isDigit(s[i-1]) {
			continue
		}
		if i+4 < len(s) && isDigit(s[i+4]) {
			continue
		}
		if year := plausibleYear(s[i : i+4]); year != nil {
			return year
		}
	}
	return nil
}

func plausibleYear(digits string) *int {
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return nil
		}
	}
	year, err := strconv.Atoi(digits)
	if err != nil || year < 1950 || year > 2030 {
		return nil
	}
	return &year
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

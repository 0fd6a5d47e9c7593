package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/pkg/bytesize"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestBuildArgsDedupCanonicalization(t *testing.T) {
	video := &models.Video{
		Path:        "/media/a.mkv",
		Height:      2160,
		Width:       3840,
		HDR:         strPtr("DV"),
		ContentYear: intPtr(2001),
	}

	args := BuildArgs(video, ContextEncode, nil,
		[]string{"encode", "-i", "/a.mkv", "--output", "/b.mkv"})

	assert.Equal(t, []string{
		"encode",
		"--input", "/a.mkv",
		"--output", "/b.mkv",
		"--vfilter", "scale=1920:-2",
		"--pix-format", "yuv420p10le",
		"--acodec", "copy",
		"--svt", "tune=0",
		"--svt", "dolbyvision=1",
		"--svt", "film-grain=8",
	}, args)
}

func TestBuildArgsDeterministic(t *testing.T) {
	video := &models.Video{
		Path:        "/media/show/Season 02/ep.mkv",
		Height:      1080,
		Width:       1920,
		ContentYear: intPtr(1999),
	}
	overrides := []string{"--preset", "6", "--svt", "tune=0"}
	base := []string{"crf-search", "-i", video.Path, "--min-vmaf", "95"}

	first := BuildArgs(video, ContextCrfSearch, overrides, base)
	second := BuildArgs(video, ContextCrfSearch, overrides, base)
	assert.Equal(t, first, second)
}

func TestBuildArgsNoDuplicateFlags(t *testing.T) {
	video := &models.Video{Path: "/media/a.mkv", Height: 2160, HDR: strPtr("HDR10")}
	// Overrides repeat flags the rules also emit, in both spellings.
	overrides := []string{
		"--pix-format", "yuv420p", "--vfilter", "scale=1280:-2",
		"-i", "/override.mkv", "--acodec", "libopus",
	}
	base := []string{"encode", "--input", "/a.mkv", "-o", "/b.mkv"}

	args := BuildArgs(video, ContextEncode, overrides, base)

	counts := map[string]int{}
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 0 && args[i][0] == '-' {
			counts[args[i]]++
		}
	}
	for flag, n := range counts {
		if flag == "--svt" || flag == "--enc" {
			continue
		}
		assert.LessOrEqual(t, n, 1, "flag %s repeated", flag)
	}
	assert.LessOrEqual(t, counts["--input"], 1)
	assert.LessOrEqual(t, counts["--output"], 1)
	// First occurrence wins: base --input over the override's -i.
	assert.Contains(t, args, "/a.mkv")
	assert.NotContains(t, args, "/override.mkv")
}

func TestBuildArgsCrfSearchDropsAudioOverrides(t *testing.T) {
	video := &models.Video{Path: "/media/a.mkv", Height: 1080}
	overrides := []string{
		"--acodec", "libopus",
		"--enc", "b:a=128k",
		"--enc", "ac=2",
		"--enc", "v:b=0",
		"--downmix-to-stereo",
		"--temp-dir", "/tmp/x",
		"--preset", "6",
	}

	args := BuildArgs(video, ContextCrfSearch, overrides, []string{"crf-search"})

	assert.NotContains(t, args, "libopus")
	assert.NotContains(t, args, "b:a=128k")
	assert.NotContains(t, args, "ac=2")
	assert.NotContains(t, args, "--downmix-to-stereo")
	assert.NotContains(t, args, "--temp-dir")
	// Non-audio --enc values and unrelated overrides survive.
	assert.Contains(t, args, "v:b=0")
	assert.Contains(t, args, "--preset")
	// crf-search never emits --acodec from rules either.
	assert.NotContains(t, args, "--acodec")
}

func TestBuildArgsEncodeDropsSearchBounds(t *testing.T) {
	video := &models.Video{Path: "/media/a.mkv", Height: 720}
	overrides := []string{
		"--min-crf", "10", "--max-crf", "50",
		"--min-vmaf", "95", "--temp-dir", "/tmp/x",
		"--preset", "6",
	}

	args := BuildArgs(video, ContextEncode, overrides, []string{"encode"})

	assert.NotContains(t, args, "--min-crf")
	assert.NotContains(t, args, "--max-crf")
	assert.NotContains(t, args, "--min-vmaf")
	assert.NotContains(t, args, "--temp-dir")
	assert.Contains(t, args, "--preset")
}

func TestBuildArgsNoUpscaleAt1080p(t *testing.T) {
	video := &models.Video{Path: "/media/a.mkv", Height: 1080}
	args := BuildArgs(video, ContextEncode, nil, []string{"encode"})
	assert.NotContains(t, args, "--vfilter")
}

func TestStripBound(t *testing.T) {
	args := []string{
		"crf-search",
		"--input", "/a.mkv",
		"--min-vmaf", "95",
		"--temp-dir", "/tmp/ab-av1",
		"--min-crf", "20",
		"--max-crf", "28",
		"--preset", "6",
		"--svt", "tune=0",
	}
	assert.Equal(t, []string{"--preset", "6", "--svt", "tune=0"}, StripBound(args))
}

func TestVmafTarget(t *testing.T) {
	tests := []struct {
		size   bytesize.Size
		target int
	}{
		{70 * bytesize.GB, 91},
		{61 * bytesize.GB, 91},
		{50 * bytesize.GB, 92},
		{30 * bytesize.GB, 94},
		{25 * bytesize.GB, 95},
		{4 * bytesize.GB, 95},
		{0, 95},
	}
	for _, tt := range tests {
		video := &models.Video{Size: tt.size.Bytes()}
		assert.Equal(t, tt.target, VmafTarget(video), "size %s", tt.size)
	}
}

func TestExtractYearPriority(t *testing.T) {
	// Dotted scene-name year beats a bracketed later year.
	year := ExtractYear("Movie.2001.S02.[2023].1080p.mkv")
	require.NotNil(t, year)
	assert.Equal(t, 2001, *year)
}

func TestExtractYear(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *int
	}{
		{"parenthesized", "Movie (1987) Remastered.mkv", intPtr(1987)},
		{"dotted", "Show.S01E01.1995.720p.mkv", intPtr(1995)},
		{"bracketed", "Movie [2010] BluRay.mkv", intPtr(2010)},
		{"spaced", "Movie 2015 1080p.mkv", intPtr(2015)},
		{"bare digits", "Movie2008edition.mkv", intPtr(2008)},
		{"resolution is not a year", "Movie.1080p.x265.mkv", nil},
		{"out of range low", "Movie.1949.mkv", nil},
		{"out of range high", "Movie.2031.mkv", nil},
		{"no year", "Some Movie.mkv", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractYear(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestExtractYearFallsBackToTitle(t *testing.T) {
	year := ExtractYear("ep01.mkv", "Great Movie (1972)")
	require.NotNil(t, year)
	assert.Equal(t, 1972, *year)
}

func TestContentYearPrefersServiceValue(t *testing.T) {
	video := &models.Video{
		Path:        "/media/Movie.1999.mkv",
		ContentYear: intPtr(2005),
	}
	year := ContentYear(video)
	require.NotNil(t, year)
	assert.Equal(t, 2005, *year)
}

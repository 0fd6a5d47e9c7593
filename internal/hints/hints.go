// Package hints narrows the CRF search range using prior search results.
// A good bracket turns a full binary search into one or two probes.
package hints

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// Absolute CRF bounds for SVT-AV1.
const (
	MinCRF = 5
	MaxCRF = 70
)

// Margins applied around the bracketed range. A video's own samples are
// trusted more tightly than samples borrowed from season siblings.
const (
	OwnMargin     = 2
	SiblingMargin = 4
)

// seasonDirPattern matches directory basenames like "Season 02", "s1",
// "S03". Only videos inside such a folder borrow sibling hints.
var seasonDirPattern = regexp.MustCompile(`(?i)^s(eason\s*)?0*\d+$`)

// Sample is one (crf, score) observation.
type Sample struct {
	CRF   float64
	Score float64
}

// Bracket computes a CRF search range from prior samples. Passing means
// score at or above target. Returns the default range when samples is
// empty. The result is always clamped to [MinCRF, MaxCRF].
func Bracket(samples []Sample, target float64, margin int) (int, int) {
	var (
		maxPassing = math.Inf(-1)
		minFailing = math.Inf(1)
		passing    int
		failing    int
	)
	for _, s := range samples {
		if s.Score >= target {
			passing++
			if s.CRF > maxPassing {
				maxPassing = s.CRF
			}
		} else {
			failing++
			if s.CRF < minFailing {
				minFailing = s.CRF
			}
		}
	}

	var lo, hi int
	switch {
	case passing > 0 && failing > 0:
		lo = int(math.Floor(maxPassing)) - margin
		hi = int(math.Ceil(minFailing)) + margin
	case passing > 0:
		lo = int(math.Floor(maxPassing)) - margin
		hi = int(math.Ceil(maxPassing)) + 2*margin
	case failing > 0:
		lo = MinCRF
		hi = int(math.Ceil(minFailing)) + margin
	default:
		return MinCRF, MaxCRF
	}

	return clamp(lo), clamp(hi)
}

func clamp(crf int) int {
	if crf < MinCRF {
		return MinCRF
	}
	if crf > MaxCRF {
		return MaxCRF
	}
	return crf
}

// Engine resolves CRF ranges against the entity store.
type Engine struct {
	videos repository.VideoRepository
	vmafs  repository.VmafRepository
	logger *slog.Logger
}

// NewEngine creates a hint engine over the given repositories.
func NewEngine(videos repository.VideoRepository, vmafs repository.VmafRepository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		videos: videos,
		vmafs:  vmafs,
		logger: logger.With(slog.String("component", "crf_hints")),
	}
}

// CrfRange returns the (min, max) CRF bounds for a search. Retries get
// the full default range. Otherwise the video's own samples win, then
// chosen samples from season siblings with matching geometry, then the
// default.
func (e *Engine) CrfRange(ctx context.Context, video *models.Video, target float64, retry bool) (int, int, error) {
	if retry {
		return MinCRF, MaxCRF, nil
	}

	own, err := e.ownSamples(ctx, video)
	if err != nil {
		return 0, 0, err
	}
	if len(own) > 0 {
		lo, hi := Bracket(own, target, OwnMargin)
		e.logger.Debug("crf range from own samples",
			slog.Int64("video_id", video.ID),
			slog.Int("samples", len(own)),
			slog.Int("min_crf", lo),
			slog.Int("max_crf", hi),
		)
		return lo, hi, nil
	}

	sibling, err := e.siblingSamples(ctx, video)
	if err != nil {
		return 0, 0, err
	}
	if len(sibling) > 0 {
		lo, hi := Bracket(sibling, target, SiblingMargin)
		e.logger.Debug("crf range from sibling samples",
			slog.Int64("video_id", video.ID),
			slog.Int("samples", len(sibling)),
			slog.Int("min_crf", lo),
			slog.Int("max_crf", hi),
		)
		return lo, hi, nil
	}

	return MinCRF, MaxCRF, nil
}

func (e *Engine) ownSamples(ctx context.Context, video *models.Video) ([]Sample, error) {
	records, err := e.vmafs.SamplesForVideo(ctx, video.ID)
	if err != nil {
		return nil, fmt.Errorf("loading own samples: %w", err)
	}
	samples := make([]Sample, 0, len(records))
	for _, r := range records {
		samples = append(samples, Sample{CRF: r.CRF, Score: r.Score})
	}
	return samples, nil
}

// siblingSamples collects chosen samples from episodes in the same
// season folder with identical width, height, and HDR presence.
func (e *Engine) siblingSamples(ctx context.Context, video *models.Video) ([]Sample, error) {
	dir := filepath.Base(filepath.Dir(video.Path))
	if !seasonDirPattern.MatchString(dir) {
		return nil, nil
	}

	siblings, err := e.videos.Siblings(ctx, video)
	if err != nil {
		return nil, fmt.Errorf("loading siblings: %w", err)
	}

	var samples []Sample
	for _, sibling := range siblings {
		if sibling.Width != video.Width || sibling.Height != video.Height {
			continue
		}
		if sibling.IsHDR() != video.IsHDR() {
			continue
		}
		chosen, err := e.vmafs.ChosenForVideo(ctx, sibling.ID)
		if err != nil {
			return nil, fmt.Errorf("loading sibling chosen vmaf: %w", err)
		}
		if chosen == nil {
			continue
		}
		samples = append(samples, Sample{CRF: chosen.CRF, Score: chosen.Score})
	}
	return samples, nil
}

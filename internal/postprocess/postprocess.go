// Package postprocess moves finished encodes into place: temp output to
// an intermediate next to the original, library refresh, then atomic
// replacement of the original file.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// Notifier triggers refresh/rename at the owning media-library service.
// Implementations talk to sonarr/radarr; a nil notifier skips the step.
type Notifier interface {
	RefreshAndRename(ctx context.Context, video *models.Video) error
}

// Processor finalizes encoder output.
type Processor struct {
	notifier Notifier
	logger   *slog.Logger
}

// New creates a post-processor. notifier may be nil.
func New(notifier Notifier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		notifier: notifier,
		logger:   logger.With(slog.String("component", "postprocess")),
	}
}

// IntermediatePath is where the encode lands next to the original
// before the final swap: <dir>/<base>.reencoded<ext>.
func IntermediatePath(originalPath string) string {
	ext := filepath.Ext(originalPath)
	stem := strings.TrimSuffix(filepath.Base(originalPath), ext)
	return filepath.Join(filepath.Dir(originalPath), stem+".reencoded"+ext)
}

// Run moves tempOutput into place over the video's original file.
// A failed library refresh is recorded by the caller but does not stop
// the replacement; earlier successful steps are never unwound.
func (p *Processor) Run(ctx context.Context, video *models.Video, tempOutput string) error {
	intermediate := IntermediatePath(video.Path)

	p.logger.Info("moving encode output",
		slog.Int64("video_id", video.ID),
		slog.String("from", tempOutput),
		slog.String("to", intermediate),
	)
	if err := p.move(tempOutput, intermediate); err != nil {
		return fmt.Errorf("moving output to intermediate: %w", err)
	}

	if p.notifier != nil {
		if err := p.notifier.RefreshAndRename(ctx, video); err != nil {
			// Recorded upstream; the local replacement still proceeds.
			p.logger.Warn("library refresh failed",
				slog.Int64("video_id", video.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := p.move(intermediate, video.Path); err != nil {
		return fmt.Errorf("replacing original: %w", err)
	}

	if info, err := os.Stat(video.Path); err == nil {
		video.Size = info.Size()
	}
	p.logger.Info("original replaced",
		slog.Int64("video_id", video.ID),
		slog.String("path", video.Path),
	)
	return nil
}

// move renames src onto dst, falling back to copy+delete across
// filesystems. A copy that succeeds but cannot delete the source logs a
// warning and still counts as moved.
func (p *Processor) move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return fmt.Errorf("renaming %s: %w", src, err)
	}

	p.logger.Debug("cross-device rename, copying instead",
		slog.String("src", src),
		slog.String("dst", dst),
	)
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("copying across devices: %w", err)
	}
	if err := os.Remove(src); err != nil {
		p.logger.Warn("copied but could not remove source",
			slog.String("src", src),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

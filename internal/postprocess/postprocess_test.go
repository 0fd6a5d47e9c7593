package postprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

func TestIntermediatePath(t *testing.T) {
	assert.Equal(t, "/media/tv/Show/Season 01/ep1.reencoded.mkv",
		IntermediatePath("/media/tv/Show/Season 01/ep1.mkv"))
	assert.Equal(t, "/media/movies/film.reencoded.mp4",
		IntermediatePath("/media/movies/film.mp4"))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunReplacesOriginal(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "ep1.mkv")
	tempOut := filepath.Join(dir, "42.mkv")
	writeFile(t, original, "old content")
	writeFile(t, tempOut, "new encoded content")

	video := &models.Video{Path: original}
	video.ID = 42

	p := New(nil, nil)
	require.NoError(t, p.Run(context.Background(), video, tempOut))

	data, err := os.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, "new encoded content", string(data))

	_, err = os.Stat(tempOut)
	assert.True(t, os.IsNotExist(err), "temp output should be consumed")
	_, err = os.Stat(IntermediatePath(original))
	assert.True(t, os.IsNotExist(err), "intermediate should be consumed")

	assert.Equal(t, int64(len("new encoded content")), video.Size)
}

type failingNotifier struct{ called bool }

func (n *failingNotifier) RefreshAndRename(ctx context.Context, video *models.Video) error {
	n.called = true
	return errors.New("service unreachable")
}

func TestRunProceedsPastNotifierFailure(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "ep1.mkv")
	tempOut := filepath.Join(dir, "7.mkv")
	writeFile(t, original, "old")
	writeFile(t, tempOut, "new")

	video := &models.Video{Path: original}
	video.ID = 7

	notifier := &failingNotifier{}
	p := New(notifier, nil)
	require.NoError(t, p.Run(context.Background(), video, tempOut))

	assert.True(t, notifier.called)
	data, err := os.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRunMissingTempOutput(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "ep1.mkv")
	writeFile(t, original, "old")

	video := &models.Video{Path: original}
	p := New(nil, nil)
	err := p.Run(context.Background(), video, filepath.Join(dir, "missing.mkv"))
	require.Error(t, err)

	// Original untouched on failure.
	data, readErr := os.ReadFile(original)
	require.NoError(t, readErr)
	assert.Equal(t, "old", string(data))
}

func TestCopyFilePreservesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mkv")
	dst := filepath.Join(dir, "dst.mkv")
	writeFile(t, src, "payload")

	require.NoError(t, copyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	// Source still present; move() owns the delete.
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

package maintenance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

type testEnv struct {
	ops      *Operations
	videos   repository.VideoRepository
	vmafs    repository.VmafRepository
	failures repository.FailureRepository

	dispatched bool
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}, nil, &database.Options{PrepareStmt: false})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		videos:   repository.NewVideoRepository(db.DB),
		vmafs:    repository.NewVmafRepository(db.DB),
		failures: repository.NewFailureRepository(db.DB),
	}
	env.ops = NewOperations(db, env.videos, env.vmafs, nil,
		func() { env.dispatched = true })
	return env
}

func (e *testEnv) video(t *testing.T, path string, state models.VideoState) *models.Video {
	t.Helper()
	duration := 3600.0
	channels := 6
	video := &models.Video{
		Path:             path,
		State:            state,
		Size:             4 << 30,
		Bitrate:          8_000_000,
		Duration:         &duration,
		Width:            1920,
		Height:           1080,
		AudioCodecs:      models.StringList{"EAC3"},
		MaxAudioChannels: &channels,
	}
	require.NoError(t, e.videos.Create(t.Context(), video))
	return video
}

func TestResetAllFailed(t *testing.T) {
	env := newEnv(t)

	failed := env.video(t, "/media/a.mkv", models.VideoStateFailed)
	healthy := env.video(t, "/media/b.mkv", models.VideoStateAnalyzed)

	require.NoError(t, env.vmafs.Upsert(t.Context(), &models.Vmaf{
		VideoID: failed.ID, CRF: 24, Score: 95.2,
	}))
	require.NoError(t, env.failures.RecordAudit(t.Context(), &models.VideoFailure{
		VideoID: failed.ID,
		Stage:   models.FailureStageEncoding,
		Code:    "EXIT_137",
	}))
	resolved := &models.VideoFailure{
		VideoID: failed.ID,
		Stage:   models.FailureStageAnalysis,
	}
	require.NoError(t, env.failures.RecordAudit(t.Context(), resolved))
	require.NoError(t, env.failures.Resolve(t.Context(), resolved.ID))

	count, err := env.ops.ResetAllFailed(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.True(t, env.dispatched)

	reloaded, err := env.videos.GetByID(t.Context(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateNeedsAnalysis, reloaded.State)
	assert.Nil(t, reloaded.ChosenVmafID)

	samples, err := env.vmafs.SamplesForVideo(t.Context(), failed.ID)
	require.NoError(t, err)
	assert.Empty(t, samples, "samples from the failed run are discarded")

	// The resolved failure survives as history; the unresolved one is gone.
	history, err := env.failures.ListByVideo(t.Context(), failed.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)

	untouched, err := env.videos.GetByID(t.Context(), healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateAnalyzed, untouched.State)
}

func TestResetAllFailedNoFailedVideos(t *testing.T) {
	env := newEnv(t)
	env.video(t, "/media/a.mkv", models.VideoStateAnalyzed)

	count, err := env.ops.ResetAllFailed(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.False(t, env.dispatched)
}

func TestResetInvalidAudio(t *testing.T) {
	env := newEnv(t)

	// Chosen params carry a zeroed audio bitrate from a bad analysis.
	broken := env.video(t, "/media/broken.mkv", models.VideoStateCrfSearched)
	sample := &models.Vmaf{
		VideoID: broken.ID, CRF: 26, Score: 95.5,
		Params: models.StringList{"--enc", "b:a=0k"},
	}
	require.NoError(t, env.vmafs.Upsert(t.Context(), sample))
	require.NoError(t, env.vmafs.SetChosen(t.Context(), sample.ID))

	clean := env.video(t, "/media/clean.mkv", models.VideoStateCrfSearched)
	cleanSample := &models.Vmaf{
		VideoID: clean.ID, CRF: 24, Score: 95.1,
		Params: models.StringList{"--enc", "b:a=128k"},
	}
	require.NoError(t, env.vmafs.Upsert(t.Context(), cleanSample))
	require.NoError(t, env.vmafs.SetChosen(t.Context(), cleanSample.ID))

	count, err := env.ops.ResetInvalidAudio(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reloaded, err := env.videos.GetByID(t.Context(), broken.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateNeedsAnalysis, reloaded.State)
	assert.Zero(t, reloaded.Bitrate)

	samples, err := env.vmafs.SamplesForVideo(t.Context(), broken.ID)
	require.NoError(t, err)
	assert.Empty(t, samples)

	untouched, err := env.videos.GetByID(t.Context(), clean.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateCrfSearched, untouched.State)
}

func TestResetInvalidAudioMetadata(t *testing.T) {
	env := newEnv(t)

	invalid := env.video(t, "/media/invalid.mkv", models.VideoStateAnalyzed)
	invalid.AudioCodecs = nil
	invalid.MaxAudioChannels = nil
	require.NoError(t, env.videos.Save(t.Context(), invalid))

	// Atmos without a channel count is still valid.
	atmos := env.video(t, "/media/atmos.mkv", models.VideoStateAnalyzed)
	atmos.MaxAudioChannels = nil
	atmos.Atmos = true
	require.NoError(t, env.videos.Save(t.Context(), atmos))

	// Terminal states are never swept.
	encoded := env.video(t, "/media/encoded.mkv", models.VideoStateEncoded)
	encoded.AudioCodecs = nil
	encoded.MaxAudioChannels = nil
	require.NoError(t, env.videos.Save(t.Context(), encoded))

	count, err := env.ops.ResetInvalidAudioMetadata(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reloaded, err := env.videos.GetByID(t.Context(), invalid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateNeedsAnalysis, reloaded.State)

	atmosReloaded, err := env.videos.GetByID(t.Context(), atmos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateAnalyzed, atmosReloaded.State)

	encodedReloaded, err := env.videos.GetByID(t.Context(), encoded.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateEncoded, encodedReloaded.State)
}

func TestForceReanalyze(t *testing.T) {
	env := newEnv(t)

	video := env.video(t, "/media/movie.mkv", models.VideoStateCrfSearched)
	require.NoError(t, env.vmafs.Upsert(t.Context(), &models.Vmaf{
		VideoID: video.ID, CRF: 24, Score: 95.0,
	}))

	require.NoError(t, env.ops.ForceReanalyze(t.Context(), video.ID))
	assert.True(t, env.dispatched)

	reloaded, err := env.videos.GetByID(t.Context(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateNeedsAnalysis, reloaded.State)
	assert.Zero(t, reloaded.Bitrate)
	assert.Nil(t, reloaded.ChosenVmafID)

	samples, err := env.vmafs.SamplesForVideo(t.Context(), video.ID)
	require.NoError(t, err)
	assert.Empty(t, samples)

	assert.Error(t, env.ops.ForceReanalyze(t.Context(), 99999))
}

func TestDeleteMissingPaths(t *testing.T) {
	env := newEnv(t)

	dir := t.TempDir()
	present := filepath.Join(dir, "present.mkv")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	kept := env.video(t, present, models.VideoStateAnalyzed)
	gone := env.video(t, filepath.Join(dir, "gone.mkv"), models.VideoStateAnalyzed)

	deleted, err := env.ops.DeleteMissingPaths(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	still, err := env.videos.GetByID(t.Context(), kept.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)

	removed, err := env.videos.GetByID(t.Context(), gone.ID)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

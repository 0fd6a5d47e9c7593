package intake

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

func newService(t *testing.T, minSize int64) (*Service, repository.VideoRepository, repository.LibraryRepository, *bool) {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	videos := repository.NewVideoRepository(db.DB)
	libraries := repository.NewLibraryRepository(db.DB)
	dispatched := false
	service := NewService(videos, libraries, events.NewBus(nil), nil, minSize,
		func() { dispatched = true })
	return service, videos, libraries, &dispatched
}

func TestSyncBatchCreatesVideos(t *testing.T) {
	service, videos, libraries, dispatched := newService(t, 0)

	require.NoError(t, libraries.Create(t.Context(), &models.Library{Path: "/media/tv"}))
	require.NoError(t, libraries.Create(t.Context(), &models.Library{Path: "/media/tv/anime"}))

	year := 2015
	n, err := service.SyncBatch(t.Context(), models.ServiceTypeSonarr, []FileRecord{
		{ServiceID: "101", Path: "/media/tv/Show/Season 01/ep1.mkv", Size: 1 << 30, Title: "Show"},
		{ServiceID: "102", Path: "/media/tv/anime/Series/Season 01/ep1.mkv", Size: 2 << 30, ContentYear: &year},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, *dispatched)

	video, err := videos.GetByPath(t.Context(), "/media/tv/Show/Season 01/ep1.mkv")
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.Equal(t, models.VideoStateNeedsAnalysis, video.State)
	assert.Equal(t, models.ServiceTypeSonarr, video.ServiceType)
	require.NotNil(t, video.LibraryID)

	// Longest library prefix wins.
	anime, err := videos.GetByPath(t.Context(), "/media/tv/anime/Series/Season 01/ep1.mkv")
	require.NoError(t, err)
	require.NotNil(t, anime)
	require.NotNil(t, anime.LibraryID)
	assert.NotEqual(t, *video.LibraryID, *anime.LibraryID)
	require.NotNil(t, anime.ContentYear)
	assert.Equal(t, 2015, *anime.ContentYear)
}

func TestSyncBatchMinSizeFilter(t *testing.T) {
	service, videos, _, _ := newService(t, 100<<20)

	_, err := service.SyncBatch(t.Context(), models.ServiceTypeRadarr, []FileRecord{
		{ServiceID: "1", Path: "/media/movies/sample.mkv", Size: 10 << 20},
		{ServiceID: "2", Path: "/media/movies/film.mkv", Size: 4 << 30},
	})
	require.NoError(t, err)

	small, err := videos.GetByPath(t.Context(), "/media/movies/sample.mkv")
	require.NoError(t, err)
	assert.Nil(t, small, "undersized files are ignored")

	big, err := videos.GetByPath(t.Context(), "/media/movies/film.mkv")
	require.NoError(t, err)
	assert.NotNil(t, big)
}

func TestSyncBatchSizeChangeSchedulesReanalysis(t *testing.T) {
	service, videos, _, _ := newService(t, 0)

	_, err := service.SyncBatch(t.Context(), models.ServiceTypeRadarr, []FileRecord{
		{ServiceID: "1", Path: "/media/movies/film.mkv", Size: 4 << 30},
	})
	require.NoError(t, err)

	// Simulate a completed analysis.
	video, err := videos.GetByPath(t.Context(), "/media/movies/film.mkv")
	require.NoError(t, err)
	duration := 5400.0
	video.Bitrate = 9_000_000
	video.Duration = &duration
	video.Width = 1920
	video.Height = 1080
	video.State = models.VideoStateAnalyzed
	require.NoError(t, videos.Save(t.Context(), video))

	// Same path, different size: analysis is stale.
	_, err = service.SyncBatch(t.Context(), models.ServiceTypeRadarr, []FileRecord{
		{ServiceID: "1", Path: "/media/movies/film.mkv", Size: 5 << 30},
	})
	require.NoError(t, err)

	reloaded, err := videos.GetByPath(t.Context(), "/media/movies/film.mkv")
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateNeedsAnalysis, reloaded.State)
	assert.Zero(t, reloaded.Bitrate)
	assert.Equal(t, int64(5<<30), reloaded.Size)
}

func TestSyncBatchUnchangedKeepsState(t *testing.T) {
	service, videos, _, _ := newService(t, 0)

	_, err := service.SyncBatch(t.Context(), models.ServiceTypeSonarr, []FileRecord{
		{ServiceID: "9", Path: "/media/tv/Show/ep.mkv", Size: 1 << 30},
	})
	require.NoError(t, err)

	video, err := videos.GetByPath(t.Context(), "/media/tv/Show/ep.mkv")
	require.NoError(t, err)
	video.State = models.VideoStateEncoded
	require.NoError(t, videos.Save(t.Context(), video))

	_, err = service.SyncBatch(t.Context(), models.ServiceTypeSonarr, []FileRecord{
		{ServiceID: "9", Path: "/media/tv/Show/ep.mkv", Size: 1 << 30, Title: "Show"},
	})
	require.NoError(t, err)

	reloaded, err := videos.GetByPath(t.Context(), "/media/tv/Show/ep.mkv")
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateEncoded, reloaded.State, "same size never resets state")
	assert.Equal(t, "Show", reloaded.Title)
}

package repository

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db.DB
}

func createVideo(t *testing.T, gdb *gorm.DB, path string, state models.VideoState) *models.Video {
	t.Helper()
	video := &models.Video{Path: path, State: state, Size: 4 << 30}
	require.NoError(t, NewVideoRepository(gdb).Create(t.Context(), video))
	return video
}

func int64Ptr(v int64) *int64 { return &v }

func TestVideoUpsertKeyedOnPath(t *testing.T) {
	gdb := newTestDB(t)
	videos := NewVideoRepository(gdb)

	first := &models.Video{Path: "/media/show/ep1.mkv", State: models.VideoStateNeedsAnalysis, Size: 100}
	require.NoError(t, videos.Upsert(t.Context(), first))
	require.NotZero(t, first.ID)

	second := &models.Video{Path: "/media/show/ep1.mkv", State: models.VideoStateNeedsAnalysis, Size: 200}
	require.NoError(t, videos.Upsert(t.Context(), second))
	assert.Equal(t, first.ID, second.ID, "same path resolves to the same row")

	var count int64
	require.NoError(t, gdb.Model(&models.Video{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	reloaded, err := videos.GetByID(t.Context(), first.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 200, reloaded.Size)
}

func TestVideoNextByStateOldestFirst(t *testing.T) {
	gdb := newTestDB(t)
	videos := NewVideoRepository(gdb)

	newer := createVideo(t, gdb, "/media/newer.mkv", models.VideoStateAnalyzed)
	older := createVideo(t, gdb, "/media/older.mkv", models.VideoStateAnalyzed)
	createVideo(t, gdb, "/media/other-state.mkv", models.VideoStateEncoding)

	// updated_at decides the order, not insertion order.
	require.NoError(t, gdb.Model(&models.Video{}).Where("id = ?", older.ID).
		UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

	next, err := videos.NextByState(t.Context(), models.VideoStateAnalyzed, 10)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, older.ID, next[0].ID)
	assert.Equal(t, newer.ID, next[1].ID)
}

func TestVideoSiblingsDirectOnly(t *testing.T) {
	gdb := newTestDB(t)
	videos := NewVideoRepository(gdb)

	video := createVideo(t, gdb, "/media/show/ep1.mkv", models.VideoStateAnalyzed)
	sibling := createVideo(t, gdb, "/media/show/ep2.mkv", models.VideoStateAnalyzed)
	createVideo(t, gdb, "/media/show/extras/deleted-scene.mkv", models.VideoStateAnalyzed)
	createVideo(t, gdb, "/media/other/ep1.mkv", models.VideoStateAnalyzed)

	siblings, err := videos.Siblings(t.Context(), video)
	require.NoError(t, err)
	require.Len(t, siblings, 1)
	assert.Equal(t, sibling.ID, siblings[0].ID)
}

func TestVmafUpsertKeyedOnVideoAndCrf(t *testing.T) {
	gdb := newTestDB(t)
	vmafs := NewVmafRepository(gdb)
	video := createVideo(t, gdb, "/media/a.mkv", models.VideoStateCrfSearching)

	first := &models.Vmaf{VideoID: video.ID, CRF: 28, Score: 94.1, Percent: 60}
	require.NoError(t, vmafs.Upsert(t.Context(), first))
	require.NotZero(t, first.ID)

	second := &models.Vmaf{VideoID: video.ID, CRF: 28, Score: 94.7, Percent: 58}
	require.NoError(t, vmafs.Upsert(t.Context(), second))
	assert.Equal(t, first.ID, second.ID)

	samples, err := vmafs.SamplesForVideo(t.Context(), video.ID)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 94.7, samples[0].Score)

	// A different CRF is a new row.
	third := &models.Vmaf{VideoID: video.ID, CRF: 32, Score: 91.2, Percent: 45}
	require.NoError(t, vmafs.Upsert(t.Context(), third))
	samples, err = vmafs.SamplesForVideo(t.Context(), video.ID)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestVmafSetChosenSingleElection(t *testing.T) {
	gdb := newTestDB(t)
	vmafs := NewVmafRepository(gdb)
	videos := NewVideoRepository(gdb)
	video := createVideo(t, gdb, "/media/a.mkv", models.VideoStateCrfSearching)

	a := &models.Vmaf{VideoID: video.ID, CRF: 28, Score: 95.0}
	b := &models.Vmaf{VideoID: video.ID, CRF: 30, Score: 93.2}
	require.NoError(t, vmafs.Upsert(t.Context(), a))
	require.NoError(t, vmafs.Upsert(t.Context(), b))

	require.NoError(t, vmafs.SetChosen(t.Context(), a.ID))
	require.NoError(t, vmafs.SetChosen(t.Context(), b.ID))

	chosen, err := vmafs.ChosenForVideo(t.Context(), video.ID)
	require.NoError(t, err)
	require.NotNil(t, chosen)
	assert.Equal(t, b.ID, chosen.ID)

	var chosenCount int64
	require.NoError(t, gdb.Model(&models.Vmaf{}).
		Where("video_id = ? AND chosen = ?", video.ID, true).
		Count(&chosenCount).Error)
	assert.EqualValues(t, 1, chosenCount, "re-electing clears the prior election")

	reloaded, err := videos.GetByID(t.Context(), video.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ChosenVmafID)
	assert.Equal(t, b.ID, *reloaded.ChosenVmafID)
}

func TestVmafNextForEncodingOrder(t *testing.T) {
	gdb := newTestDB(t)
	vmafs := NewVmafRepository(gdb)

	mkChosen := func(path string, state models.VideoState, savings *int64, encTime *int64) *models.Vmaf {
		video := createVideo(t, gdb, path, state)
		sample := &models.Vmaf{VideoID: video.ID, CRF: 28, Score: 95, Savings: savings, Time: encTime}
		require.NoError(t, vmafs.Upsert(t.Context(), sample))
		require.NoError(t, vmafs.SetChosen(t.Context(), sample.ID))
		return sample
	}

	small := mkChosen("/media/small.mkv", models.VideoStateCrfSearched, int64Ptr(1<<30), int64Ptr(600))
	big := mkChosen("/media/big.mkv", models.VideoStateCrfSearched, int64Ptr(10<<30), int64Ptr(3600))
	unknown := mkChosen("/media/unknown.mkv", models.VideoStateCrfSearched, nil, int64Ptr(60))
	mkChosen("/media/already-encoding.mkv", models.VideoStateEncoding, int64Ptr(50<<30), int64Ptr(60))

	next, err := vmafs.NextForEncoding(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, next, 3, "only crf_searched videos are eligible")
	assert.Equal(t, big.ID, next[0].ID, "largest predicted savings first")
	assert.Equal(t, small.ID, next[1].ID)
	assert.Equal(t, unknown.ID, next[2].ID, "unknown savings last")
}

func TestFailureRecordReturnsPreviousState(t *testing.T) {
	gdb := newTestDB(t)
	failures := NewFailureRepository(gdb)
	videos := NewVideoRepository(gdb)
	video := createVideo(t, gdb, "/media/a.mkv", models.VideoStateEncoding)

	mkFailure := func() *models.VideoFailure {
		return &models.VideoFailure{
			VideoID:  video.ID,
			Stage:    models.FailureStageEncoding,
			Category: models.FailureCategoryProcessFailure,
			Code:     "EXIT_1",
		}
	}

	first := mkFailure()
	previous, err := failures.Record(t.Context(), first)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateEncoding, previous)
	assert.Equal(t, 0, first.RetryCount)

	reloaded, err := videos.GetByID(t.Context(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateFailed, reloaded.State)

	// Same (video, stage, category) again: retry count increments and the
	// previous state reports already-failed.
	second := mkFailure()
	previous, err = failures.Record(t.Context(), second)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateFailed, previous)
	assert.Equal(t, 1, second.RetryCount)

	// A different category starts its own retry sequence.
	other := mkFailure()
	other.Category = models.FailureCategoryFileAccess
	_, err = failures.Record(t.Context(), other)
	require.NoError(t, err)
	assert.Equal(t, 0, other.RetryCount)
}

func TestFailureRecordAuditKeepsVideoState(t *testing.T) {
	gdb := newTestDB(t)
	failures := NewFailureRepository(gdb)
	videos := NewVideoRepository(gdb)
	video := createVideo(t, gdb, "/media/a.mkv", models.VideoStateCrfSearching)

	require.NoError(t, failures.RecordAudit(t.Context(), &models.VideoFailure{
		VideoID:  video.ID,
		Stage:    models.FailureStageCrfSearch,
		Category: models.FailureCategoryProcessFailure,
		Code:     "EXIT_1",
	}))

	reloaded, err := videos.GetByID(t.Context(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStateCrfSearching, reloaded.State)

	count, err := failures.CountMatching(t.Context(), video.ID,
		models.FailureStageCrfSearch, models.FailureCategoryProcessFailure)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestFailureResolve(t *testing.T) {
	gdb := newTestDB(t)
	failures := NewFailureRepository(gdb)
	video := createVideo(t, gdb, "/media/a.mkv", models.VideoStateEncoding)

	failure := &models.VideoFailure{
		VideoID:  video.ID,
		Stage:    models.FailureStageEncoding,
		Category: models.FailureCategoryValidation,
		Code:     "EXIT_22",
	}
	_, err := failures.Record(t.Context(), failure)
	require.NoError(t, err)

	require.NoError(t, failures.Resolve(t.Context(), failure.ID))

	unresolved, err := failures.ListUnresolved(t.Context(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	err = failures.Resolve(t.Context(), 99999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFailureDeleteResolvedBefore(t *testing.T) {
	gdb := newTestDB(t)
	failures := NewFailureRepository(gdb)
	video := createVideo(t, gdb, "/media/a.mkv", models.VideoStateEncoding)

	for i := 0; i < 3; i++ {
		failure := &models.VideoFailure{
			VideoID:  video.ID,
			Stage:    models.FailureStageEncoding,
			Category: models.FailureCategoryUnknown,
			Code:     fmt.Sprintf("EXIT_%d", i),
		}
		_, err := failures.Record(t.Context(), failure)
		require.NoError(t, err)
		require.NoError(t, failures.Resolve(t.Context(), failure.ID))
	}

	// Age two of the three past the cutoff.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, gdb.Model(&models.VideoFailure{}).
		Where("code IN ?", []string{"EXIT_0", "EXIT_1"}).
		UpdateColumn("resolved_at", old).Error)

	pruned, err := failures.DeleteResolvedBefore(t.Context(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)
}

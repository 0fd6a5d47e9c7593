package mediainfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

const sampleBatch = `[
  {
    "media": {
      "@ref": "/media/tv/Show/Season 01/ep1.mkv",
      "track": [
        {"@type": "General", "FileSize": "4294967296", "Duration": "2640.5", "OverallBitRate": "12000000"},
        {"@type": "Video", "Width": "3840", "Height": "2160", "FrameRate": "23.976", "Format": "HEVC", "HDR_Format": "Dolby Vision"},
        {"@type": "Audio", "Format": "E-AC-3 JOC", "Format_Commercial_IfAny": "Dolby Digital Plus with Dolby Atmos", "Channels": "6", "BitRate": "768000"},
        {"@type": "Audio", "Format": "AAC", "Channels": "2", "BitRate": "128000"}
      ]
    }
  },
  {
    "media": {
      "@ref": "/media/tv/Show/Season 01/ep2.mkv",
      "track": [
        {"@type": "General", "FileSize": "1073741824", "Duration": "1320.0"},
        {"@type": "Video", "Width": "1920", "Height": "1080", "FrameRate": "25.000", "Format": "AVC", "colour_primaries": "BT.709", "BitRate": "4500000"},
        {"@type": "Audio", "Format": "AC-3", "Channels": "6", "BitRate": "384000"}
      ]
    }
  }
]`

func TestParseBatch(t *testing.T) {
	infos, err := Parse([]byte(sampleBatch))
	require.NoError(t, err)
	require.Len(t, infos, 2)

	ep1 := infos["/media/tv/Show/Season 01/ep1.mkv"]
	require.NotNil(t, ep1)
	assert.Equal(t, int64(4294967296), ep1.Size)
	assert.Equal(t, 2640.5, ep1.Duration)
	assert.Equal(t, int64(12000000), ep1.Bitrate())
	assert.Equal(t, 3840, ep1.Width)
	assert.Equal(t, 2160, ep1.Height)
	assert.Equal(t, 23.976, ep1.FrameRate)
	assert.Equal(t, []string{"HEVC"}, ep1.VideoCodecs)
	assert.Equal(t, []string{"E-AC-3 JOC", "AAC"}, ep1.AudioCodecs)
	assert.Equal(t, 6, ep1.MaxAudioChannels)
	assert.True(t, ep1.Atmos)
	assert.Equal(t, "Dolby Vision", ep1.HDR)

	ep2 := infos["/media/tv/Show/Season 01/ep2.mkv"]
	require.NotNil(t, ep2)
	assert.False(t, ep2.Atmos)
	assert.Empty(t, ep2.HDR, "BT.709 primaries are not HDR")
	// No OverallBitRate: falls back to video+audio stream sum.
	assert.Equal(t, int64(4500000+384000), ep2.Bitrate())
}

func TestParseSingleObject(t *testing.T) {
	doc := `{
	  "media": {
	    "@ref": "/media/movies/Film (1987)/film.mkv",
	    "track": [
	      {"@type": "General", "FileSize": "100", "Duration": "60.0", "OverallBitRate": "1000"},
	      {"@type": "Video", "Width": "1280", "Height": "720", "FrameRate": "24.000", "Format": "AV1", "colour_primaries": "BT.2020"}
	    ]
	  }
	}`
	infos, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, infos, 1)

	info := infos["/media/movies/Film (1987)/film.mkv"]
	require.NotNil(t, info)
	assert.Equal(t, "BT.2020", info.HDR, "wide-gamut primaries mark HDR")
	assert.Equal(t, 1280, info.Width)
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse([]byte("not json at all"))
	assert.Error(t, err)
}

func TestParseSkipsEntriesWithoutRef(t *testing.T) {
	doc := `[{"media": null}, {"media": {"@ref": "", "track": []}}]`
	infos, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestApplyTo(t *testing.T) {
	infos, err := Parse([]byte(sampleBatch))
	require.NoError(t, err)

	video := &models.Video{Path: "/media/tv/Show/Season 01/ep1.mkv"}
	infos[video.Path].ApplyTo(video)

	assert.True(t, video.Analyzed())
	assert.True(t, video.IsHDR())
	assert.True(t, video.Atmos)
	require.NotNil(t, video.MaxAudioChannels)
	assert.Equal(t, 6, *video.MaxAudioChannels)
	require.NotNil(t, video.Duration)
	assert.Equal(t, 2640.5, *video.Duration)
}

func TestFirstGeneralTrackWins(t *testing.T) {
	doc := `{
	  "media": {
	    "@ref": "/a.mkv",
	    "track": [
	      {"@type": "General", "FileSize": "111", "Duration": "1.0", "OverallBitRate": "10"},
	      {"@type": "General", "FileSize": "999", "Duration": "9.0", "OverallBitRate": "90"}
	    ]
	  }
	}`
	infos, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, int64(111), infos["/a.mkv"].Size)
}

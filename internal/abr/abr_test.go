package abr

import (
	"math"
	"math/rand"
	"testing"

	"dashabr/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_EmptyReturnsZero(t *testing.T) {
	e := NewEstimator(3)
	assert.Equal(t, 0.0, e.Estimate())
	assert.Equal(t, 0, e.Populated())
}

func TestEstimator_DefaultsWindowSize(t *testing.T) {
	assert.Equal(t, DefaultWindowSize, NewEstimator(0).WindowSize())
	assert.Equal(t, DefaultWindowSize, NewEstimator(-4).WindowSize())
}

func TestEstimator_MeanOfLastWindow(t *testing.T) {
	e := NewEstimator(3)

	values := []float64{100, 200, 600, 1000, 50}
	for i, v := range values {
		require.True(t, e.Record(v, i))

		lo := 0
		if i+1 > 3 {
			lo = i + 1 - 3
		}
		var sum float64
		for _, w := range values[lo : i+1] {
			sum += w
		}
		assert.InDelta(t, sum/float64(i+1-lo), e.Estimate(), 1e-9, "after %d samples", i+1)
	}
	assert.Equal(t, 3, e.Populated())
}

func TestEstimator_OverwritesSameRingSlot(t *testing.T) {
	e := NewEstimator(3)
	e.Record(300, 0)
	e.Record(300, 1)
	e.Record(300, 2)
	e.Record(900, 3) // slot 0

	assert.InDelta(t, 500.0, e.Estimate(), 1e-9)
}

func TestEstimator_RejectsDegenerateRates(t *testing.T) {
	e := NewEstimator(3)
	e.Record(400, 0)

	assert.False(t, e.Record(math.Inf(1), 1))
	assert.False(t, e.Record(math.NaN(), 1))
	assert.False(t, e.Record(-1, 1))
	assert.False(t, e.Record(10, -1))

	assert.Equal(t, 400.0, e.Estimate())
	assert.Equal(t, 1, e.Populated())
}

func TestEstimator_SkippedIndexAveragesOnlyFilledSlots(t *testing.T) {
	e := NewEstimator(3)
	e.Record(600, 1)
	assert.Equal(t, 600.0, e.Estimate())

	e.Record(300, 2)
	assert.Equal(t, 450.0, e.Estimate())

	e.Reset()
	assert.Equal(t, 0.0, e.Estimate())
}

func tracksWithKbps(kbps ...int64) []models.Track {
	tracks := make([]models.Track, len(kbps))
	for i, k := range kbps {
		tracks[i] = models.Track{Filename: string(rune('a' + i)), Bandwidth: k * 1000}
	}
	return tracks
}

func TestSelectTrack_EmptyFails(t *testing.T) {
	_, err := SelectTrack(100, nil)
	assert.ErrorIs(t, err, ErrNoTracks)
}

func TestSelectTrack_NearestNotHighestAffordable(t *testing.T) {
	tracks := tracksWithKbps(500, 1500, 3000)

	cases := []struct {
		estimate float64
		want     int
	}{
		{0, 0},
		{900, 0},
		{1100, 1},
		{2300, 2},
		{1e9, 2},
	}
	for _, tc := range cases {
		got, err := SelectTrack(tc.estimate, tracks)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "estimate %v", tc.estimate)
	}
}

func TestSelectTrack_TieKeepsFirst(t *testing.T) {
	// 1000 is equidistant from 500 and 1500.
	got, err := SelectTrack(1000, tracksWithKbps(1500, 500))
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = SelectTrack(1000, tracksWithKbps(500, 1500))
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = SelectTrack(700, tracksWithKbps(200, 700, 700))
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestSelectTrack_MinimalDistanceProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 500; n++ {
		count := 1 + rng.Intn(6)
		kbps := make([]int64, count)
		for i := range kbps {
			kbps[i] = int64(rng.Intn(5000))
		}
		tracks := tracksWithKbps(kbps...)
		estimate := rng.Float64() * 6000

		got, err := SelectTrack(estimate, tracks)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got, 0)
		require.Less(t, got, len(tracks))

		chosen := math.Abs(tracks[got].BandwidthKbps() - estimate)
		for i, tr := range tracks {
			d := math.Abs(tr.BandwidthKbps() - estimate)
			assert.GreaterOrEqual(t, d, chosen)
			if i < got {
				assert.Greater(t, d, chosen, "earlier track %d ties with chosen %d", i, got)
			}
		}
	}
}

package abr

import (
	"errors"
	"math"

	"dashabr/internal/models"
)

// ErrNoTracks is returned when selecting from an empty track list.
var ErrNoTracks = errors.New("abr: no tracks to select from")

// SelectTrack returns the index of the track whose declared bandwidth is
// closest to estimateKbps. It is a nearest-match policy, not highest
// affordable. On ties the track that appears first wins.
func SelectTrack(estimateKbps float64, tracks []models.Track) (int, error) {
	if len(tracks) == 0 {
		return -1, ErrNoTracks
	}

	best := 0
	bestDistance := math.Abs(tracks[0].BandwidthKbps() - estimateKbps)
	for i := 1; i < len(tracks); i++ {
		d := math.Abs(tracks[i].BandwidthKbps() - estimateKbps)
		if d < bestDistance {
			best, bestDistance = i, d
		}
	}
	return best, nil
}

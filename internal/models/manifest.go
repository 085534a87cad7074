package models

// Segment is a byte range within its track's underlying resource.
type Segment struct {
	// Offset is the position of the first byte of the segment.
	Offset int64
	// Length is the number of bytes in the segment.
	Length int64
}

// Range returns the closed byte range covering the segment.
// The end byte is inclusive, matching HTTP Range semantics.
func (s Segment) Range() (start, end int64) {
	return s.Offset, s.Offset + s.Length - 1
}

// Track is one encoded quality variant of the stream.
type Track struct {
	// Filename names the resource holding every segment of the track.
	// It also identifies the track when detecting switches.
	Filename string
	// ContentType is the MIME type handed to the player with each segment.
	ContentType string
	// Bandwidth is the declared average bandwidth in bits per second.
	Bandwidth int64
	Segments  []Segment
}

// BandwidthKbps returns the declared bandwidth in kilobits per second.
func (t *Track) BandwidthKbps() float64 {
	return float64(t.Bandwidth) / 1000
}

// Manifest describes every track of a stream. Segment i of every track covers
// the same temporal position. Tracks keep manifest order, which says nothing
// about bandwidth ranking.
type Manifest struct {
	Name   string
	Tracks []Track
}

// NumSegments returns the per-track segment count.
func (m *Manifest) NumSegments() int {
	if len(m.Tracks) == 0 {
		return 0
	}
	return len(m.Tracks[0].Segments)
}

package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegment_RangeIsInclusive(t *testing.T) {
	start, end := Segment{Offset: 100, Length: 50}.Range()
	assert.Equal(t, int64(100), start)
	assert.Equal(t, int64(149), end)
}

func TestManifest_NumSegments(t *testing.T) {
	assert.Equal(t, 0, (&Manifest{}).NumSegments())

	m := &Manifest{Tracks: []Track{{Segments: make([]Segment, 4)}}}
	assert.Equal(t, 4, m.NumSegments())
}

func TestSegmentContent_EmptyPayloadIsNotEndOfStream(t *testing.T) {
	empty := NewContent("video/mp4", nil)
	assert.False(t, empty.IsEndOfStream())

	eos := EndOfStream(nil)
	assert.True(t, eos.IsEndOfStream())
	assert.NoError(t, eos.Err)

	failed := EndOfStream(errors.New("boom"))
	assert.True(t, failed.IsEndOfStream())
	assert.EqualError(t, failed.Err, "boom")
	assert.Equal(t, "end-of-stream", failed.Kind.String())
}

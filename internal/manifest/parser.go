// Package manifest parses the line-oriented manifest.txt a media server
// publishes next to a stream's track files.
//
// Each non-blank line is a directive; '#' starts a comment line:
//
//	stream <name>
//	track <filename>
//	type <content type, rest of line>
//	bandwidth <bits per second>
//	segment <offset> <length>
//
// type, bandwidth and segment lines apply to the most recent track.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"dashabr/internal/models"
)

// ErrEmpty is returned when a manifest declares no tracks.
var ErrEmpty = errors.New("manifest: no tracks")

// ParseError reports a malformed manifest line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("manifest: line %d: %s", e.Line, e.Msg)
	}
	return "manifest: " + e.Msg
}

func lineErr(line int, format string, v ...interface{}) error {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, v...)}
}

// Parse decodes manifest text and validates the result.
func Parse(data []byte) (*models.Manifest, error) {
	m := &models.Manifest{}
	var current *models.Track

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		directive, rest := line, ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			directive, rest = line[:i], strings.TrimSpace(line[i+1:])
		}

		switch strings.ToLower(directive) {
		case "stream":
			if rest == "" {
				return nil, lineErr(lineNo, "stream name is empty")
			}
			m.Name = rest
		case "track":
			if rest == "" {
				return nil, lineErr(lineNo, "track filename is empty")
			}
			m.Tracks = append(m.Tracks, models.Track{Filename: rest})
			current = &m.Tracks[len(m.Tracks)-1]
		case "type":
			if current == nil {
				return nil, lineErr(lineNo, "type before any track")
			}
			current.ContentType = rest
		case "bandwidth":
			if current == nil {
				return nil, lineErr(lineNo, "bandwidth before any track")
			}
			bw, err := strconv.ParseInt(rest, 10, 64)
			if err != nil || bw <= 0 {
				return nil, lineErr(lineNo, "invalid bandwidth %q", rest)
			}
			current.Bandwidth = bw
		case "segment":
			if current == nil {
				return nil, lineErr(lineNo, "segment before any track")
			}
			seg, err := parseSegment(rest)
			if err != nil {
				return nil, lineErr(lineNo, "%v", err)
			}
			current.Segments = append(current.Segments, seg)
		default:
			return nil, lineErr(lineNo, "unknown directive %q", directive)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseSegment(s string) (models.Segment, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return models.Segment{}, fmt.Errorf("segment wants <offset> <length>, got %q", s)
	}
	offset, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || offset < 0 {
		return models.Segment{}, fmt.Errorf("invalid segment offset %q", fields[0])
	}
	length, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || length <= 0 {
		return models.Segment{}, fmt.Errorf("invalid segment length %q", fields[1])
	}
	return models.Segment{Offset: offset, Length: length}, nil
}

// Validate checks the invariants the fetch loop relies on: at least one
// track, complete track headers, unique filenames and equal segment counts.
func Validate(m *models.Manifest) error {
	if len(m.Tracks) == 0 {
		return ErrEmpty
	}

	seen := make(map[string]struct{}, len(m.Tracks))
	want := len(m.Tracks[0].Segments)
	for _, t := range m.Tracks {
		if _, dup := seen[t.Filename]; dup {
			return &ParseError{Msg: fmt.Sprintf("duplicate track %q", t.Filename)}
		}
		seen[t.Filename] = struct{}{}

		switch {
		case t.ContentType == "":
			return &ParseError{Msg: fmt.Sprintf("track %q has no content type", t.Filename)}
		case t.Bandwidth <= 0:
			return &ParseError{Msg: fmt.Sprintf("track %q has no bandwidth", t.Filename)}
		case len(t.Segments) == 0:
			return &ParseError{Msg: fmt.Sprintf("track %q has no segments", t.Filename)}
		case len(t.Segments) != want:
			return &ParseError{Msg: fmt.Sprintf("track %q has %d segments, expected %d", t.Filename, len(t.Segments), want)}
		}
	}
	return nil
}

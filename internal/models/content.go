package models

// ContentKind tags a SegmentContent.
type ContentKind int

const (
	// KindContent carries real segment bytes, possibly zero-length.
	KindContent ContentKind = iota
	// KindEndOfStream is the terminal marker; nothing follows it.
	KindEndOfStream
)

func (k ContentKind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindEndOfStream:
		return "end-of-stream"
	default:
		return "unknown"
	}
}

// SegmentContent is one item of the output queue.
type SegmentContent struct {
	Kind        ContentKind
	ContentType string
	Data        []byte
	// Err is set on an end-of-stream marker when the session aborted.
	Err error
}

// NewContent wraps fetched segment bytes.
func NewContent(contentType string, data []byte) SegmentContent {
	return SegmentContent{Kind: KindContent, ContentType: contentType, Data: data}
}

// EndOfStream builds the terminal marker. A nil err means the stream completed.
func EndOfStream(err error) SegmentContent {
	return SegmentContent{Kind: KindEndOfStream, Err: err}
}

// IsEndOfStream reports whether c is the terminal marker.
func (c SegmentContent) IsEndOfStream() bool {
	return c.Kind == KindEndOfStream
}

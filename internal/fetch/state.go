package fetch

// State is the loop lifecycle: Init, Streaming, Draining, Done. There are no
// transitions out of Done.
type State int32

const (
	StateInit State = iota
	StateStreaming
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// EventKind classifies loop events.
type EventKind int

const (
	// EventSegment: a playback segment was fetched and published.
	EventSegment EventKind = iota
	// EventPrebuffer: a switched-to track's first segment was published.
	EventPrebuffer
	// EventSwitch: the selected track changed. Fired before the prebuffer.
	EventSwitch
)

func (k EventKind) String() string {
	switch k {
	case EventSegment:
		return "segment"
	case EventPrebuffer:
		return "prebuffer"
	case EventSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

// Event describes one step of the loop.
type Event struct {
	Kind     EventKind
	Index    int
	Track    string
	Previous string
	Bytes    int
	// Kbps is the measured rate of a segment transfer, 0 when skipped.
	Kbps float64
	// Estimate is the throughput estimate the selection was based on.
	Estimate float64
}

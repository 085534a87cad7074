package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dashabr/internal/cache"
	"dashabr/internal/dash"
	"dashabr/internal/fetch"
	"dashabr/internal/logger"
	"dashabr/internal/manifest"
	"dashabr/internal/metrics"
	"dashabr/internal/models"
	"dashabr/internal/queue"

	"github.com/google/uuid"
)

// ErrStartFailed is matched by every error Start returns.
var ErrStartFailed = errors.New("session failed to start")

// StartError reports why a session for Stream never started streaming.
type StartError struct {
	Stream string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("session for stream %s failed to start: %v", e.Stream, e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrStartFailed, e.Err}
}

// Options configures a Manager.
type Options struct {
	WindowSize int
	// PrebufferCache shares first segments across sessions of the same stream.
	PrebufferCache        bool
	CacheEvictionInterval time.Duration
	Clock                 fetch.Clock
}

// Manager starts sessions and tracks the running ones.
type Manager struct {
	mutex    sync.RWMutex
	sessions map[uuid.UUID]*Session
	logger   logger.Logger
	client   *dash.Client
	metrics  *metrics.Metrics
	segCache *cache.SegmentCache
	opts     Options
}

// NewManager creates a session manager. When the prebuffer cache is enabled
// its eviction worker runs until StopAll.
func NewManager(log logger.Logger, client *dash.Client, m *metrics.Metrics, opts Options) *Manager {
	if m == nil {
		m = metrics.New()
	}
	sm := &Manager{
		sessions: make(map[uuid.UUID]*Session),
		logger:   log,
		client:   client,
		metrics:  m,
		opts:     opts,
	}
	if opts.PrebufferCache {
		sm.segCache = cache.New(log, sm.ActiveKeys, opts.CacheEvictionInterval)
		sm.segCache.Start()
	}
	return sm
}

// Cache returns the prebuffer cache, or nil when disabled.
func (sm *Manager) Cache() *cache.SegmentCache {
	return sm.segCache
}

// Start fetches and parses the manifest of streamName, then runs a fetch loop
// publishing into out on its own goroutine. Any error is a *StartError and
// leaves out untouched. Once started, the session closes out when it ends,
// after an EndOfStream marker whenever one can still be delivered.
//
// The session stops when ctx is cancelled or Stop is called.
func (sm *Manager) Start(ctx context.Context, streamName string, out *queue.Queue) (*Session, error) {
	fail := func(err error) (*Session, error) {
		sm.metrics.RecordStartFailure()
		sm.logger.Warnf("Session for stream %s failed to start: %v", streamName, err)
		return nil, &StartError{Stream: streamName, Err: err}
	}

	if streamName == "" {
		return fail(errors.New("empty stream name"))
	}

	data, err := sm.client.FetchManifest(ctx, streamName)
	if err != nil {
		return fail(err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return fail(err)
	}
	if m.Name != "" && m.Name != streamName {
		sm.logger.Warnf("Manifest of stream %s declares name %q", streamName, m.Name)
	}
	if m.Name == "" {
		m.Name = streamName
	}

	id := uuid.New()
	log := sm.logger.With("session", id.String()).With("stream", streamName)
	sessionCtx, cancel := context.WithCancel(ctx)

	loopOpts := fetch.Options{
		WindowSize:     sm.opts.WindowSize,
		TrackURL:       func(filename string) string { return sm.client.TrackURL(streamName, filename) },
		Clock:          sm.opts.Clock,
		Metrics:        sm.metrics,
		CacheKeyPrefix: streamName,
	}
	if sm.segCache != nil {
		loopOpts.Cache = sm.segCache
	}
	loop, err := fetch.New(m, sm.client, out, log, loopOpts)
	if err != nil {
		cancel()
		return fail(err)
	}

	s := &Session{
		ID:        id,
		Stream:    streamName,
		StartedAt: time.Now(),
		Manifest:  m,
		logger:    log,
		loop:      loop,
		out:       out,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	sm.mutex.Lock()
	sm.sessions[id] = s
	sm.mutex.Unlock()
	sm.metrics.RecordSessionStart()

	log.Infof("Started session: %d tracks, %d segments", len(m.Tracks), m.NumSegments())
	go s.run(sessionCtx, sm.finish)
	return s, nil
}

func (sm *Manager) finish(s *Session, err error) {
	sm.mutex.Lock()
	delete(sm.sessions, s.ID)
	sm.mutex.Unlock()
	sm.metrics.RecordSessionStop(err)
}

// Get returns a running session by ID.
func (sm *Manager) Get(id uuid.UUID) (*Session, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// Active returns the running sessions, oldest first.
func (sm *Manager) Active() []*Session {
	sm.mutex.RLock()
	list := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		list = append(list, s)
	}
	sm.mutex.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

// ActiveKeys returns the prebuffer cache keys of every track of every running
// session, so the cache keeps them.
func (sm *Manager) ActiveKeys() map[string]struct{} {
	activeKeys := make(map[string]struct{})
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	for _, s := range sm.sessions {
		for _, t := range s.Manifest.Tracks {
			activeKeys[CacheKey(s.Stream, t.Filename)] = struct{}{}
		}
	}
	return activeKeys
}

// StopAll stops every running session, waits for them to finish and stops
// the cache worker.
func (sm *Manager) StopAll() {
	sm.logger.Infof("Stopping session manager and all active sessions...")
	sessions := sm.Active()
	for _, s := range sessions {
		s.Stop()
	}
	for _, s := range sessions {
		s.Wait()
	}
	if sm.segCache != nil {
		sm.segCache.Stop()
	}
	sm.logger.Infof("Session manager stopped.")
}

// CacheKey is the prebuffer cache key for the first segment of a track.
func CacheKey(stream, filename string) string {
	return stream + "/" + filename + "/0"
}

// Session is one running fetch loop.
type Session struct {
	ID        uuid.UUID
	Stream    string
	StartedAt time.Time
	Manifest  *models.Manifest

	logger logger.Logger
	loop   *fetch.Loop
	out    *queue.Queue
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (s *Session) run(ctx context.Context, finish func(*Session, error)) {
	defer close(s.done)
	defer s.cancel()

	err := s.loop.Run(ctx)
	switch {
	case err == nil:
		s.logger.Infof("Session completed after %d track switches", s.loop.Switches())
	case ctx.Err() != nil || errors.Is(err, queue.ErrClosed):
		s.logger.Infof("Session stopped: %v", err)
	default:
		s.logger.Errorf("Session failed: %v", err)
		if perr := s.out.Put(ctx, models.EndOfStream(err)); perr != nil {
			s.logger.Warnf("Could not deliver end of stream: %v", perr)
		}
	}
	s.out.Close()

	s.err = err
	var failure error
	if err != nil && ctx.Err() == nil && !errors.Is(err, queue.ErrClosed) {
		failure = err
	}
	finish(s, failure)
}

// Stop cancels the session. It does not wait; use Wait.
func (s *Session) Stop() {
	s.cancel()
}

// Wait blocks until the session ends and returns the fetch loop's result.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State reports the fetch loop state.
func (s *Session) State() fetch.State {
	return s.loop.State()
}

// Switches reports the number of track switches so far.
func (s *Session) Switches() int {
	return s.loop.Switches()
}

// Info is the JSON view of a session.
type Info struct {
	ID        string    `json:"id"`
	Stream    string    `json:"stream"`
	State     string    `json:"state"`
	Tracks    int       `json:"tracks"`
	Segments  int       `json:"segments"`
	Switches  int       `json:"switches"`
	Queued    int       `json:"queued"`
	StartedAt time.Time `json:"started_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:        s.ID.String(),
		Stream:    s.Stream,
		State:     s.State().String(),
		Tracks:    len(s.Manifest.Tracks),
		Segments:  s.Manifest.NumSegments(),
		Switches:  s.Switches(),
		Queued:    s.out.Len(),
		StartedAt: s.StartedAt,
	}
}

// Package fetch drives a playback session: it walks the segment sequence,
// picks a track per segment from the measured throughput, primes the player
// with a track's first segment when switching, and publishes everything in
// order to the output queue.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"dashabr/internal/abr"
	"dashabr/internal/logger"
	"dashabr/internal/manifest"
	"dashabr/internal/models"
)

// MinMeasurableTransfer is the shortest transfer whose rate is trusted.
// Anything faster is below timer resolution and would yield a huge or
// infinite rate.
const MinMeasurableTransfer = time.Millisecond

// ErrAlreadyRun is returned when Run is called on a loop that has already run.
var ErrAlreadyRun = errors.New("fetch: loop already run")

// RangeFetcher fetches a closed byte range of a resource.
type RangeFetcher interface {
	FetchRange(ctx context.Context, url string, start, end int64) ([]byte, error)
}

// TimedRangeFetcher is a RangeFetcher that retries internally and reports
// the transfer time of the attempt that succeeded. Failed attempts and the
// backoff between them are not part of the reported duration.
type TimedRangeFetcher interface {
	RangeFetcher
	FetchRangeTimed(ctx context.Context, url string, start, end int64) ([]byte, time.Duration, error)
}

// Publisher receives the loop's output in order. Put may block.
type Publisher interface {
	Put(ctx context.Context, item models.SegmentContent) error
}

// SegmentCache memoizes first segments used for prebuffering.
type SegmentCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte)
}

// Recorder receives loop measurements. *metrics.Metrics implements it.
type Recorder interface {
	RecordSegment(track string, bytes int, seconds float64)
	RecordThroughput(kbps float64)
	RecordSkippedSample()
	RecordSwitch()
	RecordPrebuffer(fromCache bool)
	RecordQueueWait(seconds float64)
}

// Options configures a Loop. TrackURL is required.
type Options struct {
	// WindowSize is the estimator window, in segments.
	WindowSize int
	// TrackURL maps a track filename to the resource URL.
	TrackURL func(filename string) string
	Clock    Clock
	Metrics  Recorder
	// Cache, when set, serves repeated prebuffer fetches. CacheKeyPrefix
	// scopes keys, typically to the stream name.
	Cache          SegmentCache
	CacheKeyPrefix string
	// OnEvent is called synchronously from the loop goroutine.
	OnEvent func(Event)
}

// Loop is one session's fetch state machine. All fields are owned by the
// goroutine calling Run.
type Loop struct {
	manifest  *models.Manifest
	fetcher   RangeFetcher
	out       Publisher
	log       logger.Logger
	opts      Options
	estimator *abr.Estimator

	state    atomic.Int32
	switches atomic.Int64
	prev     *models.Track
}

// New validates the manifest and builds a loop in StateInit.
func New(m *models.Manifest, fetcher RangeFetcher, out Publisher, log logger.Logger, opts Options) (*Loop, error) {
	if m == nil || len(m.Tracks) == 0 {
		return nil, abr.ErrNoTracks
	}
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	if opts.TrackURL == nil {
		return nil, errors.New("fetch: TrackURL is required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}

	return &Loop{
		manifest:  m,
		fetcher:   fetcher,
		out:       out,
		log:       log,
		opts:      opts,
		estimator: abr.NewEstimator(opts.WindowSize),
	}, nil
}

// State reports the current state. Safe to call from any goroutine.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Switches returns how many track switches happened so far.
func (l *Loop) Switches() int {
	return int(l.switches.Load())
}

// Run streams every segment, then publishes the end-of-stream marker.
// It returns early with the failing fetch's error, or ctx.Err() when
// cancelled; the caller decides how to terminate the stream in that case.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateInit), int32(StateStreaming)) {
		return ErrAlreadyRun
	}
	defer l.state.Store(int32(StateDone))

	n := l.manifest.NumSegments()
	l.log.Infof("Streaming %d segments of %s across %d tracks", n, l.manifest.Name, len(l.manifest.Tracks))

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.step(ctx, i); err != nil {
			return err
		}
	}

	l.state.Store(int32(StateDraining))
	if err := l.publish(ctx, models.EndOfStream(nil)); err != nil {
		return err
	}
	l.log.Infof("Finished %s after %d track switches", l.manifest.Name, l.Switches())
	return nil
}

func (l *Loop) step(ctx context.Context, i int) error {
	estimate := l.estimator.Estimate()
	idx, err := abr.SelectTrack(estimate, l.manifest.Tracks)
	if err != nil {
		return err
	}
	track := &l.manifest.Tracks[idx]
	url := l.opts.TrackURL(track.Filename)

	if l.prev != nil && l.prev.Filename != track.Filename {
		l.switches.Add(1)
		l.opts.Metrics.RecordSwitch()
		l.log.Infof("Switching from %s to %s at segment %d (estimate %.0f kbps)", l.prev.Filename, track.Filename, i, estimate)
		l.emit(Event{Kind: EventSwitch, Index: i, Track: track.Filename, Previous: l.prev.Filename, Estimate: estimate})

		data, cached, err := l.prebuffer(ctx, track, url)
		if err != nil {
			return fmt.Errorf("prebuffer of track %s: %w", track.Filename, err)
		}
		l.opts.Metrics.RecordPrebuffer(cached)
		if err := l.publish(ctx, models.NewContent(track.ContentType, data)); err != nil {
			return err
		}
		l.emit(Event{Kind: EventPrebuffer, Index: 0, Track: track.Filename, Bytes: len(data), Estimate: estimate})
	}

	start, end := track.Segments[i].Range()
	data, elapsed, err := l.fetchTimed(ctx, url, start, end)
	if err != nil {
		return fmt.Errorf("segment %d of track %s: %w", i, track.Filename, err)
	}

	l.opts.Metrics.RecordSegment(track.Filename, len(data), elapsed.Seconds())
	kbps, ok := transferKbps(len(data), elapsed)
	if ok && l.estimator.Record(kbps, i) {
		l.opts.Metrics.RecordThroughput(kbps)
	} else {
		l.opts.Metrics.RecordSkippedSample()
		l.log.Debugf("Segment %d transferred in %v, too fast to measure; estimate unchanged", i, elapsed)
	}

	if err := l.publish(ctx, models.NewContent(track.ContentType, data)); err != nil {
		return err
	}
	l.emit(Event{Kind: EventSegment, Index: i, Track: track.Filename, Bytes: len(data), Kbps: kbps, Estimate: estimate})
	l.prev = track
	return nil
}

// fetchTimed fetches a playback segment and reports its transfer time.
// Fetchers that retry report only the successful attempt; for others the
// whole call is timed on the loop clock.
func (l *Loop) fetchTimed(ctx context.Context, url string, start, end int64) ([]byte, time.Duration, error) {
	if tf, ok := l.fetcher.(TimedRangeFetcher); ok {
		return tf.FetchRangeTimed(ctx, url, start, end)
	}
	begin := l.opts.Clock.Now()
	data, err := l.fetcher.FetchRange(ctx, url, start, end)
	return data, l.opts.Clock.Now().Sub(begin), err
}

// prebuffer fetches the first segment of track. It is not timed and does
// not feed the estimator. cached reports whether the cache served it.
func (l *Loop) prebuffer(ctx context.Context, track *models.Track, url string) (data []byte, cached bool, err error) {
	key := l.opts.CacheKeyPrefix + "/" + track.Filename + "/0"
	if l.opts.Cache != nil {
		if data, ok := l.opts.Cache.Get(key); ok {
			l.log.Debugf("Prebuffer of %s served from cache", track.Filename)
			return data, true, nil
		}
	}

	start, end := track.Segments[0].Range()
	data, err = l.fetcher.FetchRange(ctx, url, start, end)
	if err != nil {
		return nil, false, err
	}
	if l.opts.Cache != nil {
		l.opts.Cache.Set(key, data)
	}
	return data, false, nil
}

func (l *Loop) publish(ctx context.Context, item models.SegmentContent) error {
	begin := l.opts.Clock.Now()
	if err := l.out.Put(ctx, item); err != nil {
		return err
	}
	l.opts.Metrics.RecordQueueWait(l.opts.Clock.Now().Sub(begin).Seconds())
	return nil
}

func (l *Loop) emit(e Event) {
	if l.opts.OnEvent != nil {
		l.opts.OnEvent(e)
	}
}

// transferKbps converts a transfer into kilobits per second. It reports
// false when the duration is too short for the rate to mean anything.
func transferKbps(bytes int, elapsed time.Duration) (float64, bool) {
	if elapsed < MinMeasurableTransfer {
		return 0, false
	}
	kbps := float64(bytes) * 8 / (1000 * elapsed.Seconds())
	if math.IsNaN(kbps) || math.IsInf(kbps, 0) {
		return 0, false
	}
	return kbps, true
}

type nopRecorder struct{}

func (nopRecorder) RecordSegment(string, int, float64) {}
func (nopRecorder) RecordThroughput(float64)           {}
func (nopRecorder) RecordSkippedSample()               {}
func (nopRecorder) RecordSwitch()                      {}
func (nopRecorder) RecordPrebuffer(bool)               {}
func (nopRecorder) RecordQueueWait(float64)            {}

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dashabr/internal/dash"
	"dashabr/internal/logger"
	"dashabr/internal/metrics"
	"dashabr/internal/models"
	"dashabr/internal/queue"
	"dashabr/internal/session"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStream_CopiesUntilEndOfStream(t *testing.T) {
	ctx := context.Background()
	q := queue.New(4)
	require.NoError(t, q.Put(ctx, models.NewContent("video/mp4", []byte("abc"))))
	require.NoError(t, q.Put(ctx, models.NewContent("video/mp4", []byte("de"))))
	require.NoError(t, q.Put(ctx, models.EndOfStream(nil)))

	var buf bytes.Buffer
	var summary fetchSummary
	require.NoError(t, writeStream(ctx, q, &buf, &summary))
	assert.Equal(t, "abcde", buf.String())
	assert.Equal(t, 2, summary.segments)
	assert.Equal(t, int64(5), summary.bytes)
}

func TestWriteStream_ReturnsStreamError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("segment 3 of track high.mp4: gone")
	q := queue.New(2)
	require.NoError(t, q.Put(ctx, models.NewContent("video/mp4", []byte("x"))))
	require.NoError(t, q.Put(ctx, models.EndOfStream(boom)))

	var summary fetchSummary
	err := writeStream(ctx, q, &bytes.Buffer{}, &summary)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, summary.segments)
}

func TestWriteStream_ClosedQueue(t *testing.T) {
	q := queue.New(1)
	q.Close()
	var summary fetchSummary
	assert.NoError(t, writeStream(context.Background(), q, &bytes.Buffer{}, &summary))
}

func TestBindFlags_OnlyChangedFlagsOverride(t *testing.T) {
	v := viper.New()
	v.SetDefault("window_size", 5)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("window-size", 3, "")
	cmd.Flags().String("media-server-url", "http://localhost:9999", "")
	require.NoError(t, cmd.Flags().Set("media-server-url", "http://media:9000"))

	require.NoError(t, bindFlags(cmd, v))
	assert.Equal(t, 5, v.GetInt("window_size"))
	assert.Equal(t, "http://media:9000", v.GetString("media_server_url"))
}

// newStreamManager serves one single-track stream of n 100-byte segments.
func newStreamManager(t *testing.T, stream string, n int) *session.Manager {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "stream %s\ntrack low.mp4\ntype video/mp4\nbandwidth 500000\n", stream)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "segment %d 100\n", i*100)
	}
	manifestText := b.String()
	media := bytes.Repeat([]byte("L"), n*100)

	mux := http.NewServeMux()
	mux.HandleFunc("/"+stream+"/manifest.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, manifestText)
	})
	mux.HandleFunc("/"+stream+"/low.mp4", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "low.mp4", time.Time{}, bytes.NewReader(media))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := dash.NewClient(logger.NewNop(), dash.Options{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		MaxAttempts:    1,
	})
	m := metrics.New()
	client.SetObserver(m)
	mgr := session.NewManager(logger.NewNop(), client, m, session.Options{})
	t.Cleanup(mgr.StopAll)
	return mgr
}

type failingWriter struct {
	err    error
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, w.err
}

func TestFetchStream_WritesWholeStream(t *testing.T) {
	mgr := newStreamManager(t, "movie", 5)

	var buf bytes.Buffer
	summary, err := fetchStream(context.Background(), mgr, "movie", 1, &buf)
	require.NoError(t, err)
	assert.Equal(t, 500, buf.Len())
	assert.Equal(t, 5, summary.segments)
	assert.Equal(t, int64(500), summary.bytes)
	assert.Equal(t, 5, summary.perTrack)
	assert.Empty(t, mgr.Active())
}

func TestFetchStream_WriteErrorStopsSession(t *testing.T) {
	mgr := newStreamManager(t, "movie", 20)
	diskFull := errors.New("no space left on device")
	w := &failingWriter{err: diskFull}

	type result struct {
		summary *fetchSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := fetchStream(context.Background(), mgr, "movie", 1, w)
		done <- result{summary, err}
	}()

	select {
	case res := <-done:
		assert.ErrorIs(t, res.err, diskFull)
		assert.Equal(t, 1, res.summary.segments)
		assert.Equal(t, 1, w.writes)
	case <-time.After(5 * time.Second):
		t.Fatal("fetchStream did not return after the writer failed")
	}

	require.Eventually(t, func() bool { return len(mgr.Active()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFetchStream_UnknownStream(t *testing.T) {
	mgr := newStreamManager(t, "movie", 1)

	summary, err := fetchStream(context.Background(), mgr, "missing", 1, &bytes.Buffer{})
	assert.ErrorIs(t, err, session.ErrStartFailed)
	assert.Nil(t, summary)
}

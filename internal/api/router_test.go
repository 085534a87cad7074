package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dashabr/internal/dash"
	"dashabr/internal/logger"
	"dashabr/internal/metrics"
	"dashabr/internal/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	movieManifest = `stream movie
track low.mp4
type video/mp4
bandwidth 500000
segment 0 4
segment 4 4
segment 8 4
`
	movieData = "AAAABBBBCCCC"
)

func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/manifest.txt":
			fmt.Fprint(w, movieManifest)
		case "/movie/low.mp4":
			http.ServeContent(w, r, "low.mp4", time.Time{}, strings.NewReader(movieData))
		case "/truncated/manifest.txt":
			fmt.Fprint(w, strings.Replace(movieManifest, "segment 8 4", "segment 80 4", 1))
		case "/truncated/low.mp4":
			http.ServeContent(w, r, "low.mp4", time.Time{}, strings.NewReader(movieData))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	media := newMediaServer(t)
	m := metrics.New()
	client := dash.NewClient(logger.NewNop(), dash.Options{
		BaseURL:     media.URL,
		MaxAttempts: 1,
	})
	client.SetObserver(m)
	mgr := session.NewManager(logger.NewNop(), client, m, session.Options{})
	t.Cleanup(mgr.StopAll)

	srv := httptest.NewServer(New(logger.NewNop(), mgr, m, 2).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestAPI_StreamDeliversSegmentsInOrder(t *testing.T) {
	srv := newTestAPI(t)

	resp, body := get(t, srv.URL+"/stream/movie")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	_, err := uuid.Parse(resp.Header.Get("X-Session-ID"))
	assert.NoError(t, err)
	assert.Equal(t, movieData, body)
}

func TestAPI_StreamStartFailureIsBadGateway(t *testing.T) {
	srv := newTestAPI(t)

	resp, body := get(t, srv.URL+"/stream/unknown")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "failed to start")
}

func TestAPI_StreamFailureMidwayTruncatesBody(t *testing.T) {
	srv := newTestAPI(t)

	resp, body := get(t, srv.URL+"/stream/truncated")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AAAABBBB", body)
}

func TestAPI_Sessions(t *testing.T) {
	srv := newTestAPI(t)

	resp, body := get(t, srv.URL+"/api/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Sessions []session.Info `json:"sessions"`
		Total    int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	assert.Equal(t, 0, list.Total)

	resp, _ = get(t, srv.URL+"/api/sessions/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/api/sessions/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+uuid.NewString(), nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	assert.Equal(t, http.StatusNotFound, dresp.StatusCode)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	srv := newTestAPI(t)

	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)

	get(t, srv.URL+"/stream/movie")

	resp, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "dashabr_sessions_started_total 1")
	assert.Contains(t, body, `dashabr_segments_fetched_total{track="low.mp4"} 3`)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/config"
	"github.com/khaledhikmat/people-tpu/service/lgr"
	"github.com/khaledhikmat/people-tpu/service/storage"
	"github.com/khaledhikmat/people-tpu/state"
)

type fixture struct {
	state *state.State
	store storage.IService
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	s := config.Defaults()
	s.OutputDirectory = t.TempDir()
	store := storage.NewFiles(config.New(s))

	st := state.New(state.Info{Model: "detect.tflite", Width: 640, Height: 480, Thresh: 0.5, OutDir: s.OutputDirectory, CooldownSec: 2})
	capturer := state.NewCapturer(st, store, 2*time.Second, nil)

	srv := httptest.NewServer(New(st, capturer, store).Handler())
	t.Cleanup(func() {
		st.Close()
		srv.Close()
	})
	return &fixture{state: st, store: store, srv: srv}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs routes the process logger to a buffer until the test ends.
func captureLogs(t *testing.T) *syncBuffer {
	logs := &syncBuffer{}
	prev := lgr.Logger
	lgr.Logger = lgr.New(logs, "prod", "debug")
	t.Cleanup(func() { lgr.Logger = prev })
	return logs
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func TestIndex(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `<img src="/video"`)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.state.Publish(state.Snapshot{JPEG: []byte("jpg"), People: 2, InferMs: 7.5, FPS: 24})

	resp, err := http.Get(f.srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status model.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "detect.tflite", status.Model)
	assert.Equal(t, model.CaptureSize{W: 640, H: 480}, status.Capture)
	assert.Equal(t, 2, status.People)
	assert.Equal(t, 7.5, status.InferMs)
	assert.Equal(t, 24.0, status.FPS)
	assert.Equal(t, uint64(1), status.Frames)
}

func TestSnapshotWithoutFrame(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()

	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "no_frame", e.Code)
}

func TestSnapshotRedirectsToSavedFile(t *testing.T) {
	f := newFixture(t)
	f.state.Publish(state.Snapshot{JPEG: []byte("jpeg-bytes"), People: 1, InferMs: 5, FPS: 30})

	client := &http.Client{CheckRedirect: noRedirect}
	resp, err := client.Get(f.srv.URL + "/snapshot")
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	location := resp.Header.Get("Location")
	assert.Regexp(t, `^/out/\d{8}_\d{6}_snapshot_people1_tpu5\.0ms_fps30\.0\.jpg$`, location)

	resp, err = http.Get(f.srv.URL + location)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg-bytes", string(body))
}

func TestSnapshotStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.state.Publish(state.Snapshot{JPEG: []byte("x"), People: 1})
	require.NoError(t, os.RemoveAll(f.store.Folder()))

	resp, err := http.Get(f.srv.URL + "/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{
		"20240101_120000_auto_people1_tpu5.0ms_fps30.0.jpg",
		"20240101_120005_snapshot_people0_tpu5.1ms_fps29.0.jpg",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(f.store.Folder(), name), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.store.Folder(), "events.log"), []byte("{}\n"), 0o644))

	resp, err := http.Get(f.srv.URL + "/events.json")
	require.NoError(t, err)
	var events EventsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	resp.Body.Close()
	assert.Equal(t, []string{
		"20240101_120005_snapshot_people0_tpu5.1ms_fps29.0.jpg",
		"20240101_120000_auto_people1_tpu5.0ms_fps30.0.jpg",
	}, events.Events)

	resp, err = http.Get(f.srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `<a href="/out/20240101_120005_snapshot_people0_tpu5.1ms_fps29.0.jpg">`)
	assert.NotContains(t, string(body), "events.log")
}

func TestEventsEmpty(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "(no images yet)")
}

func TestVideoStreamsLatestFrame(t *testing.T) {
	logs := captureLogs(t)
	f := newFixture(t)
	f.state.Publish(state.Snapshot{JPEG: []byte("first-frame")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/video", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	require.Equal(t, state.Boundary, params["boundary"])

	mr := multipart.NewReader(resp.Body, params["boundary"])
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

	buf := make([]byte, len("first-frame"))
	_, err = io.ReadFull(part, buf)
	require.NoError(t, err)
	assert.Equal(t, "first-frame", string(buf))

	// Detaching ends the handler without another frame being published.
	cancel()
	require.Eventually(t, func() bool {
		for _, line := range strings.Split(logs.String(), "\n") {
			if strings.Contains(line, `"msg":"http request"`) && strings.Contains(line, `"path":"/video"`) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, logs.String(), `"msg":"video client detached"`)
	assert.Equal(t, []byte("first-frame"), f.state.Latest().JPEG)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

package state

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/config"
	"github.com/khaledhikmat/people-tpu/service/storage"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newCapturer(t *testing.T, events chan<- model.CapturedEvent) (*State, *Capturer, storage.IService, *clock) {
	s := config.Defaults()
	s.OutputDirectory = t.TempDir()
	store := storage.NewFiles(config.New(s))

	st := New(Info{Model: "detect.tflite", Width: 640, Height: 480, Thresh: 0.5, OutDir: s.OutputDirectory, CooldownSec: 2})
	c := NewCapturer(st, store, 2*time.Second, events)
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)}
	c.now = clk.now
	return st, c, store, clk
}

func TestFilename(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 3, 0, time.Local)
	assert.Equal(t, "20240309_070503_auto_people2_tpu12.3ms_fps29.9.jpg", Filename(ts, model.CaptureAuto, 2, 12.34, 29.94))
	assert.Equal(t, "20240309_070503_snapshot_people0_tpu0.0ms_fps0.0.jpg", Filename(ts, model.CaptureSnapshot, 0, 0, 0))
}

func TestCooldownDebounce(t *testing.T) {
	st, c, store, clk := newCapturer(t, nil)
	snap := st.Publish(Snapshot{JPEG: []byte("a"), People: 1, InferMs: 5, FPS: 30})

	_, ok := c.Evaluate(snap)
	require.True(t, ok, "t=0")

	clk.advance(time.Second)
	_, ok = c.Evaluate(snap)
	assert.False(t, ok, "t=1.0")

	clk.advance(1100 * time.Millisecond)
	_, ok = c.Evaluate(snap)
	assert.True(t, ok, "t=2.1")

	names, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestNoCaptureWithoutPeople(t *testing.T) {
	st, c, store, _ := newCapturer(t, nil)
	_, ok := c.Evaluate(st.Publish(Snapshot{JPEG: []byte("a")}))
	assert.False(t, ok)

	names, err := store.List(0)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.True(t, c.LastCapture().IsZero())
}

func TestManualBypassesAndResetsCooldown(t *testing.T) {
	st, c, _, clk := newCapturer(t, nil)
	snap := st.Publish(Snapshot{JPEG: []byte("a"), People: 1})

	_, ok := c.Evaluate(snap)
	require.True(t, ok)

	clk.advance(500 * time.Millisecond)
	name, err := c.Manual()
	require.NoError(t, err)
	assert.Contains(t, name, "_snapshot_people1_")

	// The automatic window restarts from the manual capture.
	clk.advance(1600 * time.Millisecond)
	_, ok = c.Evaluate(snap)
	assert.False(t, ok)

	clk.advance(500 * time.Millisecond)
	_, ok = c.Evaluate(snap)
	assert.True(t, ok)
}

func TestManualWithoutFrame(t *testing.T) {
	_, c, _, _ := newCapturer(t, nil)
	_, err := c.Manual()
	assert.ErrorIs(t, err, model.ErrNoFrame)
}

func TestPersistFailureIsIgnored(t *testing.T) {
	st, c, store, _ := newCapturer(t, nil)
	require.NoError(t, os.RemoveAll(store.Folder()))

	_, ok := c.Evaluate(st.Publish(Snapshot{JPEG: []byte("a"), People: 3}))
	assert.False(t, ok)

	_, err := c.Manual()
	assert.Error(t, err)
	assert.Empty(t, st.Status().LastCapture)
}

func TestCaptureEmitsEvent(t *testing.T) {
	events := make(chan model.CapturedEvent, 1)
	st, c, _, _ := newCapturer(t, events)
	st.Publish(Snapshot{JPEG: []byte("a"), People: 2, InferMs: 4.2, FPS: 28})

	name, err := c.Manual()
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, name, ev.Filename)
	assert.Equal(t, model.CaptureSnapshot, ev.Reason)
	assert.Equal(t, 2, ev.People)
	assert.NotEmpty(t, ev.ID)

	// A full channel drops the event without blocking.
	events <- model.CapturedEvent{}
	_, err = c.Manual()
	require.NoError(t, err)
}

func TestStatusPairsMetricsWithFrame(t *testing.T) {
	st, c, _, _ := newCapturer(t, nil)
	assert.Equal(t, 0, st.Status().People)
	assert.Nil(t, st.Latest())

	st.Publish(Snapshot{JPEG: []byte("1"), People: 1, InferMs: 5, FPS: 30})
	st.Publish(Snapshot{JPEG: []byte("2"), People: 3, InferMs: 6, FPS: 31})
	st.RecordDecodeError()

	_, err := c.Manual()
	require.NoError(t, err)

	status := st.Status()
	assert.Equal(t, 3, status.People)
	assert.Equal(t, 6.0, status.InferMs)
	assert.Equal(t, uint64(2), status.Frames)
	assert.Equal(t, uint64(1), status.DecodeErrors)
	assert.Equal(t, model.CaptureSize{W: 640, H: 480}, status.Capture)
	assert.NotEmpty(t, status.LastCapture)
}

func TestStatusReportsAbsoluteOutDir(t *testing.T) {
	st := New(Info{OutDir: "./out"})

	outDir := st.Status().OutDir
	assert.True(t, filepath.IsAbs(outDir))
	assert.Equal(t, "out", filepath.Base(outDir))

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "out"), outDir)
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	st := New(Info{})
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if snap := st.Latest(); snap != nil {
					// Each frame carries its own people count as its only byte.
					assert.Equal(t, byte(snap.People), snap.JPEG[0])
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		st.Publish(Snapshot{JPEG: []byte{byte(i % 200)}, People: i % 200})
	}
	close(stop)
	wg.Wait()
}

func TestStreamYieldsLatestAndStops(t *testing.T) {
	st := New(Info{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []byte)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for jpg := range st.Stream(ctx) {
			got <- jpg
		}
	}()

	st.Publish(Snapshot{JPEG: []byte("one")})
	assert.Equal(t, []byte("one"), <-got)

	st.Publish(Snapshot{JPEG: []byte("two")})
	assert.Equal(t, []byte("two"), <-got)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestStreamEndsOnClose(t *testing.T) {
	st := New(Info{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range st.Stream(context.Background()) {
		}
	}()

	st.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after close")
	}
}

func TestWritePart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePart(&buf, []byte("JPG")))
	assert.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\n\r\nJPG\r\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestWriteStreamStopsOnWriteError(t *testing.T) {
	st := New(Info{})
	st.Publish(Snapshot{JPEG: []byte("x")})

	err := st.WriteStream(context.Background(), failingWriter{}, nil)
	assert.EqualError(t, err, "client gone")

	// The worker keeps publishing after a consumer detaches.
	st.Publish(Snapshot{JPEG: []byte("y")})
	assert.Equal(t, []byte("y"), st.Latest().JPEG)
}

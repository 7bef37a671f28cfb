// Package state holds the latest published pipeline snapshot and serves it to
// any number of concurrent readers. The pipeline worker is the only writer.
package state

import (
	"context"
	"iter"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/people-tpu/model"
)

// Snapshot is one completed pipeline iteration: the annotated frame encoded as
// JPEG together with the metrics computed for that same frame. It is never
// mutated after Publish.
type Snapshot struct {
	Seq       uint64
	JPEG      []byte
	Width     int
	Height    int
	People    int
	InferMs   float64
	FPS       float64
	Timestamp time.Time

	next chan struct{}
}

// Info is the static part of the status record.
type Info struct {
	Model       string
	CamIndex    int
	Width       int
	Height      int
	Thresh      float64
	OutDir      string
	CooldownSec float64
}

type State struct {
	info Info

	latest    atomic.Pointer[Snapshot]
	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	lastCapture  atomic.Int64
}

// New builds the state for info. OutDir is reported as an absolute path.
func New(info Info) *State {
	if info.OutDir != "" {
		if abs, err := filepath.Abs(info.OutDir); err == nil {
			info.OutDir = abs
		}
	}
	return &State{
		info:  info,
		first: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Publish atomically replaces the latest snapshot and wakes every stream
// waiting on the previous one.
func (s *State) Publish(snap Snapshot) *Snapshot {
	p := &snap
	p.next = make(chan struct{})
	p.Seq = s.frames.Add(1)
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	prev := s.latest.Swap(p)
	if prev != nil {
		close(prev.next)
	}
	s.firstOnce.Do(func() { close(s.first) })
	return p
}

// Latest returns the most recent snapshot, or nil before the first Publish.
func (s *State) Latest() *Snapshot {
	return s.latest.Load()
}

// RecordDecodeError counts an unresolvable output layout and returns the total.
func (s *State) RecordDecodeError() uint64 {
	return s.decodeErrors.Add(1)
}

func (s *State) markCaptured(t time.Time) {
	s.lastCapture.Store(t.UnixNano())
}

// Close ends every active stream. Latest keeps returning the last snapshot.
func (s *State) Close() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Status reports the static settings with the metrics of the latest snapshot.
func (s *State) Status() model.Status {
	st := model.Status{
		Model:        s.info.Model,
		CamIndex:     s.info.CamIndex,
		Capture:      model.CaptureSize{W: s.info.Width, H: s.info.Height},
		Thresh:       s.info.Thresh,
		OutDir:       s.info.OutDir,
		CooldownSec:  s.info.CooldownSec,
		DecodeErrors: s.decodeErrors.Load(),
	}

	if snap := s.latest.Load(); snap != nil {
		st.People = snap.People
		st.InferMs = snap.InferMs
		st.FPS = snap.FPS
		st.Frames = snap.Seq
	}
	if ns := s.lastCapture.Load(); ns != 0 {
		st.LastCapture = time.Unix(0, ns).Format(time.RFC3339)
	}
	return st
}

// Stream yields the JPEG of each published snapshot, starting with the
// current one. A slow consumer skips to the newest snapshot instead of
// queueing. The sequence ends when ctx is done or the state is closed.
func (s *State) Stream(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		select {
		case <-s.first:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}

		cur := s.latest.Load()
		for {
			if !yield(cur.JPEG) {
				return
			}

			select {
			case <-cur.next:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
			cur = s.latest.Load()
		}
	}
}

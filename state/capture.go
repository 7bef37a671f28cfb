package state

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/lgr"
	"github.com/khaledhikmat/people-tpu/service/storage"
)

// Capturer persists snapshots to storage, either automatically when people
// are present and the cooldown has elapsed, or on demand.
type Capturer struct {
	state    *State
	store    storage.IService
	cooldown time.Duration
	events   chan<- model.CapturedEvent

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewCapturer creates a capturer. events may be nil; sends never block.
func NewCapturer(st *State, store storage.IService, cooldown time.Duration, events chan<- model.CapturedEvent) *Capturer {
	return &Capturer{
		state:    st,
		store:    store,
		cooldown: cooldown,
		events:   events,
		now:      time.Now,
	}
}

// Filename builds the capture file name, for example
// 20240101_120000_auto_people1_tpu5.0ms_fps30.0.jpg.
func Filename(t time.Time, reason model.CaptureReason, people int, inferMs, fps float64) string {
	return fmt.Sprintf("%s_%s_people%d_tpu%.1fms_fps%.1f.jpg", t.Format("20060102_150405"), reason, people, inferMs, fps)
}

// Evaluate runs the automatic capture policy against a freshly published
// snapshot. Persist failures are logged and otherwise ignored.
func (c *Capturer) Evaluate(snap *Snapshot) (string, bool) {
	if snap == nil || snap.People <= 0 {
		return "", false
	}

	c.mu.Lock()
	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) < c.cooldown {
		c.mu.Unlock()
		return "", false
	}
	c.last = now
	c.mu.Unlock()

	name, err := c.persist(snap, model.CaptureAuto, now)
	if err != nil {
		lgr.Logger.Error("auto capture failed", slog.Any("error", err))
		return "", false
	}
	return name, true
}

// Manual persists the latest snapshot regardless of the cooldown and resets
// the automatic capture window.
func (c *Capturer) Manual() (string, error) {
	snap := c.state.Latest()
	if snap == nil {
		return "", model.ErrNoFrame
	}

	c.mu.Lock()
	now := c.now()
	c.last = now
	c.mu.Unlock()

	return c.persist(snap, model.CaptureSnapshot, now)
}

// LastCapture is the time of the most recent capture attempt.
func (c *Capturer) LastCapture() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Capturer) persist(snap *Snapshot, reason model.CaptureReason, at time.Time) (string, error) {
	name := Filename(at, reason, snap.People, snap.InferMs, snap.FPS)
	if _, err := c.store.StoreFrame(name, snap.JPEG); err != nil {
		return "", err
	}
	c.state.markCaptured(at)

	lgr.Logger.Info("capture saved",
		slog.String("file", name),
		slog.String("reason", string(reason)),
		slog.Int("people", snap.People),
	)

	if c.events != nil {
		ev := model.CapturedEvent{
			ID:        uuid.NewString(),
			Filename:  name,
			Reason:    reason,
			People:    snap.People,
			InferMs:   snap.InferMs,
			FPS:       snap.FPS,
			Timestamp: at,
		}
		select {
		case c.events <- ev:
		default:
			lgr.Logger.Warn("capture event dropped", slog.String("file", name))
		}
	}
	return name, nil
}

package pipeline

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/people-tpu/codec"
	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/lgr"
	"github.com/khaledhikmat/people-tpu/state"
)

const (
	emptyReadBackoff  = 10 * time.Millisecond
	decodeLogInterval = 100
	fpsWindow         = time.Second
)

// StepResult describes one pipeline iteration.
type StepResult struct {
	Empty      bool
	Detections []model.Detection
	Rects      []image.Rectangle
	People     int
	InferMs    float64
	Snapshot   *state.Snapshot
	Captured   string
}

// Detector is the single worker that owns the frame source and the engine.
type Detector struct {
	svcs     ServicesFactory
	source   FrameSource
	state    *state.State
	capturer *state.Capturer
	labels   []string
	tracer   trace.Tracer
	runID    string
	now      func() time.Time

	fps          float64
	windowStart  time.Time
	windowFrames int

	stats      model.PipelineStats
	statsStart time.Time
	inferTotal float64
	inferCount int
}

// NewDetector wires a detector. capturer may be nil to disable captures.
func NewDetector(svcs ServicesFactory, source FrameSource, st *state.State, capturer *state.Capturer, labels []string) *Detector {
	d := &Detector{
		svcs:     svcs,
		source:   source,
		state:    st,
		capturer: capturer,
		labels:   labels,
		tracer:   otel.Tracer("github.com/khaledhikmat/people-tpu/pipeline"),
		runID:    uuid.NewString(),
		now:      time.Now,
	}
	d.resetStats()
	return d
}

// SetTracer replaces the tracer taken from the global provider at construction.
func (d *Detector) SetTracer(t trace.Tracer) {
	d.tracer = t
}

// Step reads one frame and, when there is one, runs it through inference,
// decoding, annotation, publication and the capture policy.
func (d *Detector) Step(ctx context.Context) (StepResult, error) {
	_, span := d.tracer.Start(ctx, "pipeline.step")
	defer span.End()

	frame := gocv.NewMat()
	defer frame.Close()

	if !d.source.Read(&frame) {
		d.stats.EmptyReads++
		span.SetAttributes(attribute.Bool("empty", true))
		return StepResult{Empty: true}, nil
	}

	d.stats.Frames++
	res, err := d.process(&frame)
	span.SetAttributes(
		attribute.Int("people", res.People),
		attribute.Float64("infer_ms", res.InferMs),
		attribute.Int("detections", len(res.Detections)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (d *Detector) process(frame *gocv.Mat) (StepResult, error) {
	cfg := d.svcs.CfgSvc
	engine := d.svcs.InferenceSvc
	res := StepResult{}

	w, h := engine.InputSize()
	if err := engine.SetInput(Preprocess(*frame, w, h)); err != nil {
		return res, err
	}

	latency, err := engine.Invoke()
	if err != nil {
		return res, err
	}
	res.InferMs = float64(latency.Microseconds()) / 1000.0
	d.inferTotal += res.InferMs
	d.inferCount++

	outputs, err := engine.Outputs()
	if err != nil {
		return res, err
	}

	decoded, err := codec.Decode(outputs)
	if err != nil {
		d.stats.DecodeErrors++
		return res, err
	}

	res.Detections = codec.Filter(decoded, cfg.GetScoreThreshold(), cfg.GetTopK())
	res.People = codec.Count(res.Detections, cfg.GetTargetClass())
	res.Rects = Annotate(frame, res.Detections, cfg.GetScoreThreshold(), cfg.GetTargetClass(), d.labels)
	drawSummary(frame, res.People, res.InferMs, d.fps)

	if res.People > 0 {
		d.stats.FramesWithPeople++
	}

	jpg, err := Encode(*frame)
	if err != nil {
		d.stats.EncodeErrors++
		return res, err
	}

	now := d.now()
	res.Snapshot = d.state.Publish(state.Snapshot{
		JPEG:      jpg,
		Width:     frame.Cols(),
		Height:    frame.Rows(),
		People:    res.People,
		InferMs:   res.InferMs,
		FPS:       d.fps,
		Timestamp: now,
	})

	if d.capturer != nil {
		if name, ok := d.capturer.Evaluate(res.Snapshot); ok {
			res.Captured = name
		}
	}

	d.tick(now)
	return res, nil
}

// tick counts a published frame and refreshes fps once per window.
func (d *Detector) tick(now time.Time) {
	if d.windowStart.IsZero() {
		d.windowStart = now
	}
	d.windowFrames++
	if elapsed := now.Sub(d.windowStart); elapsed >= fpsWindow {
		d.fps = float64(d.windowFrames) / elapsed.Seconds()
		d.windowFrames = 0
		d.windowStart = now
	}
}

// FPS is the frame rate measured over the last completed window.
func (d *Detector) FPS() float64 {
	return d.fps
}

// Run loops until ctx is done, then releases the frame source and the engine.
// Decode errors are counted and logged on the first occurrence and every
// hundredth after; other per-frame errors go to errorStream.
func (d *Detector) Run(canx context.Context, errorStream chan interface{}, statsStream chan interface{}) error {
	defer func() {
		if err := d.source.Close(); err != nil {
			lgr.Logger.Warn("closing frame source", slog.Any("error", err))
		}
		if err := d.svcs.InferenceSvc.Close(); err != nil {
			lgr.Logger.Warn("closing inference engine", slog.Any("error", err))
		}
		lgr.Logger.Info("detector released frame source and engine", slog.String("runId", d.runID))
	}()

	lgr.Logger.Info("detector starting...",
		slog.String("runId", d.runID),
		slog.String("source", d.source.Describe()),
		slog.String("model", d.svcs.CfgSvc.GetModelPath()),
		slog.String("openCV", gocv.Version()),
	)

	period := d.svcs.CfgSvc.GetStatsPeriod()
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-canx.Done():
			lgr.Logger.Info("detector context cancelled")
			d.emitStats(canx, statsStream, period)
			return nil

		case <-ticker.C:
			d.emitStats(canx, statsStream, period)

		default:
			res, err := d.Step(canx)
			if res.Empty {
				select {
				case <-canx.Done():
				case <-time.After(emptyReadBackoff):
				}
				continue
			}
			if err != nil {
				d.reportError(canx, errorStream, err)
			}
		}
	}
}

func (d *Detector) reportError(canx context.Context, errorStream chan interface{}, err error) {
	var decodeErr *model.DecodeError
	if errors.As(err, &decodeErr) {
		n := d.state.RecordDecodeError()
		if n == 1 || n%decodeLogInterval == 0 {
			lgr.Logger.Error("unsupported model output layout",
				slog.Uint64("occurrences", n),
				slog.Any("error", err),
			)
		}
		return
	}

	if errorStream == nil {
		lgr.Logger.Error("pipeline step failed", slog.Any("error", err))
		return
	}
	select {
	case errorStream <- model.GenError("pipeline_detector", err, map[string]interface{}{"runId": d.runID}, "pipeline step failed"):
	case <-canx.Done():
	}
}

// emitStats reports the frames read since the last report. FPS is measured
// over that same interval rather than the overlay window.
func (d *Detector) emitStats(canx context.Context, statsStream chan interface{}, period time.Duration) {
	stats := d.stats
	if d.inferCount > 0 {
		stats.AvgInferMs = d.inferTotal / float64(d.inferCount)
	}
	if elapsed := d.now().Sub(d.statsStart); elapsed > 0 {
		stats.FPS = float64(stats.Frames) / elapsed.Seconds()
	}
	stats.PeriodSeconds = period.Seconds()
	d.resetStats()

	if statsStream == nil {
		return
	}
	select {
	case statsStream <- stats:
	case <-canx.Done():
		// Best effort once cancelled; the mode keeps draining during shutdown.
		select {
		case statsStream <- stats:
		case <-time.After(time.Second):
		}
	}
}

func (d *Detector) resetStats() {
	d.stats = model.PipelineStats{RunID: d.runID, Camera: d.source.Describe()}
	d.statsStart = d.now()
	d.inferTotal = 0
	d.inferCount = 0
}

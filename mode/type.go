package mode

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/pipeline"
	"github.com/khaledhikmat/people-tpu/service/data"
	"github.com/khaledhikmat/people-tpu/service/lgr"
	"github.com/khaledhikmat/people-tpu/state"
)

type Processor func(canxCtx context.Context,
	svcs pipeline.ServicesFactory,
	alerter pipeline.Alerter) error

var (
	// Replaced in tests.
	openSource           = pipeline.OpenCamera
	console    io.Writer = os.Stdout
)

// newDetector opens the frame source and wires the detector of one run. The
// capturer, and the alerter behind it, are only created when withCapture is set.
func newDetector(canxCtx context.Context,
	svcs pipeline.ServicesFactory,
	alerter pipeline.Alerter,
	withCapture bool,
	errorStream chan interface{},
	statsStream chan interface{}) (*pipeline.Detector, *state.State, *state.Capturer, error) {
	cfg := svcs.CfgSvc

	labels, err := pipeline.LoadLabels(cfg.GetLabelsPath())
	if err != nil {
		svcs.InferenceSvc.Close()
		return nil, nil, nil, &model.FatalError{Resource: "labels", Attempted: []string{cfg.GetLabelsPath()}, Err: err}
	}

	source, err := openSource(cfg)
	if err != nil {
		svcs.InferenceSvc.Close()
		return nil, nil, nil, err
	}

	st := state.New(state.Info{
		Model:       cfg.GetModelPath(),
		CamIndex:    cfg.GetCameraIndex(),
		Width:       cfg.GetCaptureWidth(),
		Height:      cfg.GetCaptureHeight(),
		Thresh:      cfg.GetScoreThreshold(),
		OutDir:      cfg.GetOutputDirectory(),
		CooldownSec: cfg.GetCaptureCooldown().Seconds(),
	})

	var capturer *state.Capturer
	if withCapture {
		var events chan<- model.CapturedEvent
		if alerter != nil {
			events = alerter(canxCtx, svcs, errorStream, statsStream)
		}
		capturer = state.NewCapturer(st, svcs.StorageSvc, cfg.GetCaptureCooldown(), events)
	}

	return pipeline.NewDetector(svcs, source, st, capturer, labels), st, capturer, nil
}

// drain keeps consuming the streams until the shutdown period expires so that
// exiting go routines can still report.
func drain(name string, svcs pipeline.ServicesFactory, errorStream chan interface{}, statsStream chan interface{}) {
	lgr.Logger.Info(
		name + " is waiting for all go routines to exit",
	)

	period := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				name+" shutdown waiting period expired. Exiting now",
				slog.Duration("period", period),
			)
			return

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.PipelineStats:
		procPipelineStats(datasvc, stats)
	case model.AlerterStats:
		procAlerterStats(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procPipelineStats(datasvc data.IService, stats model.PipelineStats) {
	lgr.Logger.Debug(
		"pipeline stats",
		slog.Int("frames", stats.Frames),
		slog.Int("framesWithPeople", stats.FramesWithPeople),
		slog.Int("emptyReads", stats.EmptyReads),
		slog.Int("decodeErrors", stats.DecodeErrors),
		slog.Float64("avgInferMs", stats.AvgInferMs),
		slog.Float64("fps", stats.FPS),
	)

	err := datasvc.NewPipelineStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store pipeline stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procAlerterStats(datasvc data.IService, stats model.AlerterStats) {
	err := datasvc.NewAlerterStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store alerter stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	lgr.Logger.Error(
		"processor error",
		slog.Any("error", err),
	)

	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}

package mode

import (
	"context"
	"fmt"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/pipeline"
	"github.com/khaledhikmat/people-tpu/service/lgr"
)

// Headless runs the pipeline without HTTP or captures and prints one report
// line per stats period.
func Headless(canxCtx context.Context, svcs pipeline.ServicesFactory, _ pipeline.Alerter) error {
	errorStream := make(chan interface{})
	statsStream := make(chan interface{})

	detector, _, _, err := newDetector(canxCtx, svcs, nil, false, errorStream, statsStream)
	if err != nil {
		return err
	}

	cfg := svcs.CfgSvc
	fmt.Fprintf(console, "MODEL: %s\n", cfg.GetModelPath())
	fmt.Fprintf(console, "CAM: index %d  capture: %dx%d  thresh: %.2f\n",
		cfg.GetCameraIndex(), cfg.GetCaptureWidth(), cfg.GetCaptureHeight(), cfg.GetScoreThreshold())
	fmt.Fprintln(console, "Headless mode: no HTTP. Press Ctrl+C to stop.")

	var runErr error
	detectorDone := make(chan error, 1)
	go func() {
		detectorDone <- detector.Run(canxCtx, errorStream, statsStream)
	}()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"headless context cancelled",
			)
			goto resume

		case err := <-detectorDone:
			runErr = err
			goto resume

		case s := <-statsStream:
			if stats, ok := s.(model.PipelineStats); ok {
				fmt.Fprintln(console, Report(stats))
			}
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

resume:
	drain("headless", svcs, errorStream, statsStream)
	return runErr
}

// Report formats one periodic headless line.
func Report(stats model.PipelineStats) string {
	return fmt.Sprintf("FPS %5.1f | infer avg %6.1f ms | frames %d | frames_with_people %d",
		stats.FPS, stats.AvgInferMs, stats.Frames, stats.FramesWithPeople)
}

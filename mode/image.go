package mode

import (
	"context"
	"fmt"
	"os"

	"github.com/disintegration/imaging"

	"github.com/khaledhikmat/people-tpu/codec"
	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/pipeline"
)

const maxListedDetections = 20

// Image runs a single inference on a still image and prints the detections.
func Image(_ context.Context, svcs pipeline.ServicesFactory, _ pipeline.Alerter) error {
	cfg := svcs.CfgSvc
	engine := svcs.InferenceSvc
	defer engine.Close()

	path := cfg.GetImagePath()
	if _, err := os.Stat(path); err != nil {
		return &model.FatalError{Resource: "image", Attempted: []string{path}, Err: err}
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return &model.FatalError{Resource: "image", Attempted: []string{path}, Err: err}
	}

	w, h := engine.InputSize()
	resized := imaging.Resize(img, w, h, imaging.Linear)
	if err := engine.SetInput(codec.RGBBytes(resized)); err != nil {
		return err
	}

	latency, err := engine.Invoke()
	if err != nil {
		return err
	}

	outputs, err := engine.Outputs()
	if err != nil {
		return err
	}
	decoded, err := codec.Decode(outputs)
	if err != nil {
		return err
	}

	dets := codec.Filter(decoded, cfg.GetScoreThreshold(), cfg.GetTopK())
	people := codec.Count(dets, cfg.GetTargetClass())

	fmt.Fprintf(console, "OK inference: %.2f ms  detections: %d  people: %d\n",
		float64(latency.Microseconds())/1000.0, len(dets), people)
	for i, d := range dets {
		if i >= maxListedDetections {
			break
		}
		fmt.Fprintf(console, "- id=%02d class=%d score=%.2f box(ymin,xmin,ymax,xmax)=(%.3f,%.3f,%.3f,%.3f)\n",
			i, d.ClassID, d.Score, d.Box[0], d.Box[1], d.Box[2], d.Box[3])
	}
	return nil
}

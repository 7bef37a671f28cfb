package mode

import (
	"bytes"
	"context"
	"image/color"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/people-tpu/codec"
	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/pipeline"
	"github.com/khaledhikmat/people-tpu/service/broker"
	"github.com/khaledhikmat/people-tpu/service/config"
	"github.com/khaledhikmat/people-tpu/service/data"
	"github.com/khaledhikmat/people-tpu/service/inference"
	"github.com/khaledhikmat/people-tpu/service/storage"
	"github.com/khaledhikmat/people-tpu/service/webhook"
)

func newServices(t *testing.T, mutate func(*config.Settings)) (pipeline.ServicesFactory, *inference.Fake, *bytes.Buffer) {
	s := config.Defaults()
	s.ModelPath = "detect_edgetpu.tflite"
	s.OutputDirectory = t.TempDir()
	s.HTTPAddress = "127.0.0.1:0"
	s.ModeMaxShutdownSeconds = 0
	if mutate != nil {
		mutate(&s)
	}
	cfgSvc := config.New(s)

	engine := inference.NewFake(300, 300, codec.InputUint8, 5*time.Millisecond)
	engine.SetOutputs(
		model.RawTensor{Shape: []int{1, 1, 4}, Values: []float64{0.1, 0.1, 0.5, 0.5}},
		model.RawTensor{Shape: []int{1, 1}, Values: []float64{0.92}},
		model.RawTensor{Shape: []int{1, 1}, Values: []float64{0}},
	)

	out := &bytes.Buffer{}
	prevConsole, prevOpen := console, openSource
	console = out
	openSource = func(config.IService) (pipeline.FrameSource, error) {
		return pipeline.NewStillSource(gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3), 0, 0), nil
	}
	t.Cleanup(func() {
		console, openSource = prevConsole, prevOpen
	})

	return pipeline.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      data.NewFilesDB(cfgSvc),
		StorageSvc:   storage.NewFiles(cfgSvc),
		InferenceSvc: engine,
		WebhookSvc:   webhook.NewFake(),
		BrokerSvc:    broker.NewNoop(),
	}, engine, out
}

func TestReport(t *testing.T) {
	line := Report(model.PipelineStats{FPS: 29.81, AvgInferMs: 6.27, Frames: 30, FramesWithPeople: 12})
	assert.Equal(t, "FPS  29.8 | infer avg    6.3 ms | frames 30 | frames_with_people 12", line)
}

func TestImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.png")
	require.NoError(t, imaging.Save(imaging.New(64, 48, color.NRGBA{R: 200, G: 120, B: 40, A: 255}), path))

	svcs, engine, out := newServices(t, func(s *config.Settings) { s.ImagePath = path })

	require.NoError(t, Image(context.Background(), svcs, nil))
	assert.Equal(t,
		"OK inference: 5.00 ms  detections: 1  people: 1\n"+
			"- id=00 class=0 score=0.92 box(ymin,xmin,ymax,xmax)=(0.100,0.100,0.500,0.500)\n",
		out.String())
	assert.Len(t, engine.LastUint8, 300*300*3)
	assert.Equal(t, []byte{200, 120, 40}, engine.LastUint8[:3])
	assert.True(t, engine.Closed)
}

func TestImageMissing(t *testing.T) {
	svcs, engine, _ := newServices(t, func(s *config.Settings) { s.ImagePath = "missing.jpg" })

	err := Image(context.Background(), svcs, nil)
	var fatal *model.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "image", fatal.Resource)
	assert.True(t, engine.Closed)
}

func TestHeadlessReports(t *testing.T) {
	svcs, _, out := newServices(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	require.NoError(t, Headless(ctx, svcs, nil))
	assert.Contains(t, out.String(), "MODEL: detect_edgetpu.tflite")
	assert.Regexp(t, `FPS +\d+\.\d \| infer avg +5\.0 ms \| frames \d+ \| frames_with_people \d+`, out.String())
}

func TestServeStopsOnCancel(t *testing.T) {
	svcs, _, _ := newServices(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, svcs, pipeline.CaptureAlerter)
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeListenerFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	svcs, engine, _ := newServices(t, func(s *config.Settings) { s.HTTPAddress = busy.Addr().String() })

	err = Serve(context.Background(), svcs, pipeline.CaptureAlerter)
	var fatal *model.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "http listener", fatal.Resource)
	assert.True(t, engine.Closed)
}

func TestSourceFailureIsFatal(t *testing.T) {
	svcs, engine, _ := newServices(t, nil)
	openSource = func(config.IService) (pipeline.FrameSource, error) {
		return nil, &model.FatalError{Resource: "camera", Attempted: []string{"index=0 width=640 height=480"}}
	}

	err := Headless(context.Background(), svcs, nil)
	var fatal *model.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "camera", fatal.Resource)
	assert.True(t, engine.Closed)
}

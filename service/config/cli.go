package config

import (
	"os"

	"github.com/akamensky/argparse"
	"golang.org/x/xerrors"
)

const (
	ModeServe    = "serve"
	ModeHeadless = "headless"
	ModeImage    = "image"
)

// Invocation is the outcome of command line parsing: the selected mode and
// the merged settings.
type Invocation struct {
	Mode     string
	Settings Settings
}

// UsageError carries the argparse usage text.
type UsageError struct {
	Usage string
	Err   error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// Parse merges defaults, the optional --config YAML file, PEOPLE_* environment
// variables and command line flags, in increasing precedence. args includes
// the program name.
func Parse(args []string, lookupEnv func(string) (string, bool)) (Invocation, error) {
	parser := argparse.NewParser("people-tpu", "Counts people on a camera feed with an accelerated detector")

	configFile := parser.String("", "config", &argparse.Options{Help: "YAML settings file"})
	modelPath := parser.String("m", "model", &argparse.Options{Help: "Path to the detection model"})
	engine := parser.String("e", "engine", &argparse.Options{Help: "Inference runtime: tflite or onnx"})
	delegates := parser.StringList("", "delegate", &argparse.Options{Help: "Accelerator library candidate, repeatable, tried in order"})
	labels := parser.String("l", "labels", &argparse.Options{Help: "Newline separated class names"})
	camera := parser.Int("c", "camera", &argparse.Options{Help: "Camera device index", Default: -1})
	source := parser.String("", "source", &argparse.Options{Help: "Video URL or file overriding the camera index"})
	threshold := parser.Float("t", "thresh", &argparse.Options{Help: "Score threshold", Default: -1.0})
	topK := parser.Int("", "topk", &argparse.Options{Help: "Maximum detections considered per frame", Default: -1})
	width := parser.Int("", "width", &argparse.Options{Help: "Capture width", Default: -1})
	height := parser.Int("", "height", &argparse.Options{Help: "Capture height", Default: -1})
	outDir := parser.String("o", "outdir", &argparse.Options{Help: "Capture output directory"})
	cooldown := parser.Float("", "cooldown", &argparse.Options{Help: "Seconds between automatic captures", Default: -1.0})
	statsFolder := parser.String("", "stats", &argparse.Options{Help: "Folder receiving pipeline stats as JSON lines"})

	serveCmd := parser.NewCommand(ModeServe, "Run the pipeline and serve the live stream over HTTP")
	addr := serveCmd.String("a", "addr", &argparse.Options{Help: "HTTP listen address"})
	webhook := serveCmd.String("", "webhook", &argparse.Options{Help: "URL receiving capture events"})
	broker := serveCmd.String("", "mqtt", &argparse.Options{Help: "MQTT broker URL receiving capture events"})

	headlessCmd := parser.NewCommand(ModeHeadless, "Run the pipeline and print a report every second")

	imageCmd := parser.NewCommand(ModeImage, "Run a single inference on a still image")
	imagePath := imageCmd.String("i", "image", &argparse.Options{Help: "Image file", Required: true})

	if err := parser.Parse(args); err != nil {
		return Invocation{}, &UsageError{Usage: parser.Usage(err), Err: err}
	}

	s := Defaults()
	if *configFile != "" {
		if err := s.LoadFile(*configFile); err != nil {
			return Invocation{}, err
		}
	}
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if err := s.ApplyEnv(lookupEnv); err != nil {
		return Invocation{}, err
	}

	flags := Settings{
		ModelPath:                    *modelPath,
		Engine:                       *engine,
		AcceleratorLibraryCandidates: *delegates,
		LabelsPath:                   *labels,
		VideoSource:                  *source,
		OutputDirectory:              *outDir,
		StatsFolder:                  *statsFolder,
		HTTPAddress:                  *addr,
		WebhookURL:                   *webhook,
		MQTTBroker:                   *broker,
		ImagePath:                    *imagePath,
	}
	s.merge(flags)

	// Negative sentinels mean the flag was not given; zero is a valid value.
	if *camera >= 0 {
		s.CameraIndex = *camera
	}
	if *threshold >= 0 {
		s.ScoreThreshold = *threshold
	}
	if *topK >= 0 {
		s.TopK = *topK
	}
	if *width >= 0 {
		s.CaptureWidth = *width
	}
	if *height >= 0 {
		s.CaptureHeight = *height
	}
	if *cooldown >= 0 {
		s.CaptureCooldownSeconds = *cooldown
	}

	var mode string
	switch {
	case serveCmd.Happened():
		mode = ModeServe
	case headlessCmd.Happened():
		mode = ModeHeadless
	case imageCmd.Happened():
		mode = ModeImage
	default:
		return Invocation{}, xerrors.New("no mode selected")
	}

	return Invocation{Mode: mode, Settings: s}, nil
}

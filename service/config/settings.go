package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/khaledhikmat/people-tpu/model"
)

const envPrefix = "PEOPLE_"

// DefaultAcceleratorCandidates are the Edge TPU delegate locations tried in order.
var DefaultAcceleratorCandidates = []string{
	"libedgetpu.so.1",
	"/lib/aarch64-linux-gnu/libedgetpu.so.1",
	"/usr/lib/aarch64-linux-gnu/libedgetpu.so.1",
}

func Defaults() Settings {
	return Settings{
		Engine:                       EngineTFLite,
		AcceleratorLibraryCandidates: append([]string(nil), DefaultAcceleratorCandidates...),
		ScoreThreshold:               0.5,
		TopK:                         50,
		CaptureWidth:                 640,
		CaptureHeight:                480,
		OutputDirectory:              "./out",
		CaptureCooldownSeconds:       2.0,
		HTTPAddress:                  ":8080",
		StatsPeriodSeconds:           1,
		MQTTTopic:                    "people-tpu/captures",
		ModeMaxShutdownSeconds:       5,
		TraceExporter:                TraceExporterNone,
	}
}

// LoadFile overlays the YAML file at path onto s. Every key present in the
// file wins, including explicit zeros; absent keys keep their current value.
func (s *Settings) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("reading config %s: %w", path, err)
	}

	// Decode onto a copy so a malformed file leaves s untouched.
	next := *s
	if err := yaml.Unmarshal(b, &next); err != nil {
		return xerrors.Errorf("parsing config %s: %w", path, err)
	}

	*s = next
	return nil
}

// ApplyEnv overlays PEOPLE_* variables onto s.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	integer := func(key string, dst *int) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, envPrefix+key)
			return
		}
		*dst = n
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, envPrefix+key)
			return
		}
		*dst = f
	}

	str("MODEL_PATH", &s.ModelPath)
	str("ENGINE", &s.Engine)
	if v, ok := lookup(envPrefix + "ACCELERATOR_LIBRARY_CANDIDATES"); ok && v != "" {
		s.AcceleratorLibraryCandidates = splitList(v)
	}
	str("LABELS_PATH", &s.LabelsPath)
	integer("CAMERA_INDEX", &s.CameraIndex)
	str("VIDEO_SOURCE", &s.VideoSource)
	float("SCORE_THRESHOLD", &s.ScoreThreshold)
	integer("TOP_K", &s.TopK)
	integer("TARGET_CLASS", &s.TargetClass)
	integer("CAPTURE_WIDTH", &s.CaptureWidth)
	integer("CAPTURE_HEIGHT", &s.CaptureHeight)
	str("OUTPUT_DIRECTORY", &s.OutputDirectory)
	float("CAPTURE_COOLDOWN_SECONDS", &s.CaptureCooldownSeconds)
	str("HTTP_ADDRESS", &s.HTTPAddress)
	float("STATS_PERIOD_SECONDS", &s.StatsPeriodSeconds)
	str("STATS_FOLDER", &s.StatsFolder)
	str("WEBHOOK_URL", &s.WebhookURL)
	str("MQTT_BROKER", &s.MQTTBroker)
	str("MQTT_TOPIC", &s.MQTTTopic)
	integer("MODE_MAX_SHUTDOWN_SECONDS", &s.ModeMaxShutdownSeconds)
	str("IMAGE_PATH", &s.ImagePath)
	str("TRACE_EXPORTER", &s.TraceExporter)

	if len(errs) > 0 {
		return xerrors.Errorf("invalid numeric environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

// merge copies the non-empty string and list flags of o. Numeric flags use
// negative sentinels and are applied by Parse.
func (s *Settings) merge(o Settings) {
	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	str(o.ModelPath, &s.ModelPath)
	str(o.Engine, &s.Engine)
	if len(o.AcceleratorLibraryCandidates) > 0 {
		s.AcceleratorLibraryCandidates = o.AcceleratorLibraryCandidates
	}
	str(o.LabelsPath, &s.LabelsPath)
	str(o.VideoSource, &s.VideoSource)
	str(o.OutputDirectory, &s.OutputDirectory)
	str(o.HTTPAddress, &s.HTTPAddress)
	str(o.StatsFolder, &s.StatsFolder)
	str(o.WebhookURL, &s.WebhookURL)
	str(o.MQTTBroker, &s.MQTTBroker)
	str(o.MQTTTopic, &s.MQTTTopic)
	str(o.ImagePath, &s.ImagePath)
}

// Validate checks ranges, requires the model file and creates the output
// directory. A missing model is reported as a *model.FatalError.
func (s *Settings) Validate() error {
	if s.ModelPath == "" {
		return &model.FatalError{Resource: "model", Err: xerrors.New("no model path configured")}
	}
	if _, err := os.Stat(s.ModelPath); err != nil {
		return &model.FatalError{Resource: "model", Attempted: []string{s.ModelPath}, Err: err}
	}
	if s.Engine != EngineTFLite && s.Engine != EngineONNX {
		return xerrors.Errorf("unknown engine %q", s.Engine)
	}
	if s.TraceExporter != "" && s.TraceExporter != TraceExporterNone && s.TraceExporter != TraceExporterStdout {
		return xerrors.Errorf("unknown trace exporter %q", s.TraceExporter)
	}
	if s.ScoreThreshold < 0 || s.ScoreThreshold > 1 {
		return xerrors.Errorf("score threshold %v outside [0,1]", s.ScoreThreshold)
	}
	if s.CaptureWidth <= 0 || s.CaptureHeight <= 0 {
		return xerrors.Errorf("invalid capture size %dx%d", s.CaptureWidth, s.CaptureHeight)
	}
	if s.TopK <= 0 {
		return xerrors.Errorf("top_k must be positive, got %d", s.TopK)
	}
	if s.CaptureCooldownSeconds < 0 {
		return xerrors.Errorf("capture cooldown must not be negative, got %v", s.CaptureCooldownSeconds)
	}
	if s.StatsPeriodSeconds <= 0 {
		s.StatsPeriodSeconds = 1
	}
	if err := os.MkdirAll(s.OutputDirectory, 0o755); err != nil {
		return &model.FatalError{Resource: "output directory", Attempted: []string{s.OutputDirectory}, Err: err}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type settingsService struct {
	s Settings
}

// New wraps validated settings in the IService getters.
func New(s Settings) IService {
	return &settingsService{s: s}
}

func (svc *settingsService) GetModeMaxShutdownTime() int {
	return svc.s.ModeMaxShutdownSeconds
}

func (svc *settingsService) GetModelPath() string {
	return svc.s.ModelPath
}

func (svc *settingsService) GetEngine() string {
	return svc.s.Engine
}

func (svc *settingsService) GetAcceleratorLibraryCandidates() []string {
	return svc.s.AcceleratorLibraryCandidates
}

func (svc *settingsService) GetLabelsPath() string {
	return svc.s.LabelsPath
}

func (svc *settingsService) GetCameraIndex() int {
	return svc.s.CameraIndex
}

func (svc *settingsService) GetVideoSource() string {
	return svc.s.VideoSource
}

func (svc *settingsService) GetScoreThreshold() float64 {
	return svc.s.ScoreThreshold
}

func (svc *settingsService) GetTopK() int {
	return svc.s.TopK
}

func (svc *settingsService) GetTargetClass() int {
	return svc.s.TargetClass
}

func (svc *settingsService) GetCaptureWidth() int {
	return svc.s.CaptureWidth
}

func (svc *settingsService) GetCaptureHeight() int {
	return svc.s.CaptureHeight
}

func (svc *settingsService) GetOutputDirectory() string {
	return svc.s.OutputDirectory
}

func (svc *settingsService) GetCaptureCooldown() time.Duration {
	return time.Duration(svc.s.CaptureCooldownSeconds * float64(time.Second))
}

func (svc *settingsService) GetHTTPAddress() string {
	return svc.s.HTTPAddress
}

func (svc *settingsService) GetStatsPeriod() time.Duration {
	return time.Duration(svc.s.StatsPeriodSeconds * float64(time.Second))
}

func (svc *settingsService) GetStatsFolder() string {
	return svc.s.StatsFolder
}

func (svc *settingsService) GetWebhookURL() string {
	return svc.s.WebhookURL
}

func (svc *settingsService) GetMQTTBroker() string {
	return svc.s.MQTTBroker
}

func (svc *settingsService) GetMQTTTopic() string {
	return svc.s.MQTTTopic
}

func (svc *settingsService) GetImagePath() string {
	return svc.s.ImagePath
}

func (svc *settingsService) GetTraceExporter() string {
	return svc.s.TraceExporter
}

package config

import "time"

type IService interface {
	GetModeMaxShutdownTime() int
	GetModelPath() string
	GetEngine() string
	GetAcceleratorLibraryCandidates() []string
	GetLabelsPath() string
	GetCameraIndex() int
	GetVideoSource() string
	GetScoreThreshold() float64
	GetTopK() int
	GetTargetClass() int
	GetCaptureWidth() int
	GetCaptureHeight() int
	GetOutputDirectory() string
	GetCaptureCooldown() time.Duration
	GetHTTPAddress() string
	GetStatsPeriod() time.Duration
	GetStatsFolder() string
	GetWebhookURL() string
	GetMQTTBroker() string
	GetMQTTTopic() string
	GetImagePath() string
	GetTraceExporter() string
}

const (
	EngineTFLite = "tflite"
	EngineONNX   = "onnx"
)

const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// Settings is the flat configuration record. Keys absent from the YAML file
// and unset or empty PEOPLE_* variables leave earlier values untouched; an
// explicit 0 is applied like any other value.
type Settings struct {
	ModelPath                    string   `yaml:"model_path"`
	Engine                       string   `yaml:"engine"`
	AcceleratorLibraryCandidates []string `yaml:"accelerator_library_candidates"`
	LabelsPath                   string   `yaml:"labels_path"`
	CameraIndex                  int      `yaml:"camera_index"`
	VideoSource                  string   `yaml:"video_source"`
	ScoreThreshold               float64  `yaml:"score_threshold"`
	TopK                         int      `yaml:"top_k"`
	TargetClass                  int      `yaml:"target_class"`
	CaptureWidth                 int      `yaml:"capture_width"`
	CaptureHeight                int      `yaml:"capture_height"`
	OutputDirectory              string   `yaml:"output_directory"`
	CaptureCooldownSeconds       float64  `yaml:"capture_cooldown_seconds"`
	HTTPAddress                  string   `yaml:"http_address"`
	StatsPeriodSeconds           float64  `yaml:"stats_period_seconds"`
	StatsFolder                  string   `yaml:"stats_folder"`
	WebhookURL                   string   `yaml:"webhook_url"`
	MQTTBroker                   string   `yaml:"mqtt_broker"`
	MQTTTopic                    string   `yaml:"mqtt_topic"`
	ModeMaxShutdownSeconds       int      `yaml:"mode_max_shutdown_seconds"`
	ImagePath                    string   `yaml:"image_path"`
	TraceExporter                string   `yaml:"trace_exporter"`
}

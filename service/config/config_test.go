package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/people-tpu/model"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, 0.5, s.ScoreThreshold)
	assert.Equal(t, 640, s.CaptureWidth)
	assert.Equal(t, 480, s.CaptureHeight)
	assert.Equal(t, 2.0, s.CaptureCooldownSeconds)
	assert.Equal(t, 50, s.TopK)
	assert.Equal(t, DefaultAcceleratorCandidates, s.AcceleratorLibraryCandidates)
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "people.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("model_path: from-yaml.tflite\nscore_threshold: 0.6\ncapture_width: 320\n"), 0o644))

	env := envOf(map[string]string{
		"PEOPLE_SCORE_THRESHOLD":                "0.7",
		"PEOPLE_ACCELERATOR_LIBRARY_CANDIDATES": "a.so, b.so",
	})

	inv, err := Parse([]string{"people-tpu", "--config", cfg, "-t", "0.8", "headless"}, env)
	require.NoError(t, err)

	assert.Equal(t, ModeHeadless, inv.Mode)
	assert.Equal(t, "from-yaml.tflite", inv.Settings.ModelPath)
	assert.Equal(t, 0.8, inv.Settings.ScoreThreshold)
	assert.Equal(t, 320, inv.Settings.CaptureWidth)
	assert.Equal(t, []string{"a.so", "b.so"}, inv.Settings.AcceleratorLibraryCandidates)
}

func TestLoadFileAppliesExplicitZeros(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "people.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("score_threshold: 0\ncapture_cooldown_seconds: 0\ncamera_index: 0\n"), 0o644))

	s := Defaults()
	s.CameraIndex = 3
	require.NoError(t, s.LoadFile(cfg))

	assert.Equal(t, 0.0, s.ScoreThreshold)
	assert.Equal(t, 0.0, s.CaptureCooldownSeconds)
	assert.Equal(t, 0, s.CameraIndex)
	assert.Equal(t, 50, s.TopK)
	assert.Equal(t, 640, s.CaptureWidth)
	assert.Equal(t, DefaultAcceleratorCandidates, s.AcceleratorLibraryCandidates)
}

func TestLoadFileMalformedLeavesSettings(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "people.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("top_k: 7\ncapture_width: [\n"), 0o644))

	s := Defaults()
	require.Error(t, s.LoadFile(cfg))
	assert.Equal(t, 50, s.TopK)
}

func TestApplyEnvAppliesExplicitZeros(t *testing.T) {
	s := Defaults()
	s.CameraIndex = 3
	require.NoError(t, s.ApplyEnv(envOf(map[string]string{
		"PEOPLE_SCORE_THRESHOLD":          "0",
		"PEOPLE_CAPTURE_COOLDOWN_SECONDS": "0",
		"PEOPLE_CAMERA_INDEX":             "0",
		"PEOPLE_TOP_K":                    "",
	})))

	assert.Equal(t, 0.0, s.ScoreThreshold)
	assert.Equal(t, 0.0, s.CaptureCooldownSeconds)
	assert.Equal(t, 0, s.CameraIndex)
	assert.Equal(t, 50, s.TopK)
}

func TestParseZeroFlagsOverride(t *testing.T) {
	env := envOf(map[string]string{"PEOPLE_CAMERA_INDEX": "2"})

	inv, err := Parse([]string{"people-tpu", "-c", "0", "--cooldown", "0", "serve", "-a", ":9000"}, env)
	require.NoError(t, err)

	assert.Equal(t, ModeServe, inv.Mode)
	assert.Equal(t, 0, inv.Settings.CameraIndex)
	assert.Equal(t, 0.0, inv.Settings.CaptureCooldownSeconds)
	assert.Equal(t, ":9000", inv.Settings.HTTPAddress)
}

func TestParseImageRequiresPath(t *testing.T) {
	_, err := Parse([]string{"people-tpu", "image"}, envOf(nil))
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.NotEmpty(t, usage.Usage)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	s := Defaults()
	err := s.ApplyEnv(envOf(map[string]string{"PEOPLE_TOP_K": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PEOPLE_TOP_K")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "detect.tflite")
	require.NoError(t, os.WriteFile(modelPath, []byte("x"), 0o644))

	t.Run("missing model is fatal", func(t *testing.T) {
		s := Defaults()
		s.ModelPath = filepath.Join(dir, "nope.tflite")
		err := s.Validate()

		var fatal *model.FatalError
		require.True(t, errors.As(err, &fatal))
		assert.Equal(t, "model", fatal.Resource)
		assert.Equal(t, []string{s.ModelPath}, fatal.Attempted)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		s := Defaults()
		s.ModelPath = modelPath
		s.ScoreThreshold = 1.5
		assert.Error(t, s.Validate())
	})

	t.Run("unknown trace exporter", func(t *testing.T) {
		s := Defaults()
		s.ModelPath = modelPath
		s.OutputDirectory = filepath.Join(dir, "traced")
		s.TraceExporter = "zipkin"
		assert.ErrorContains(t, s.Validate(), "zipkin")

		s.TraceExporter = TraceExporterStdout
		assert.NoError(t, s.Validate())
	})

	t.Run("creates output directory", func(t *testing.T) {
		s := Defaults()
		s.ModelPath = modelPath
		s.OutputDirectory = filepath.Join(dir, "out", "nested")
		require.NoError(t, s.Validate())
		assert.DirExists(t, s.OutputDirectory)

		svc := New(s)
		assert.Equal(t, 2*time.Second, svc.GetCaptureCooldown())
		assert.Equal(t, time.Second, svc.GetStatsPeriod())
	})
}

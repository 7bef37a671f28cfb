package model

import (
	"fmt"
	"runtime/debug"
	"time"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
	}
	return fmt.Sprintf("%s: %s", e.Processor, e.Message)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// Detection is one candidate object instance produced by an inference cycle.
// Box is (ymin, xmin, ymax, xmax) normalized to [0,1]; ordering is not enforced.
type Detection struct {
	ClassID int        `json:"classId"`
	Score   float64    `json:"score"`
	Box     [4]float64 `json:"box"`
}

type TensorRole int

const (
	RoleBoxes TensorRole = iota
	RoleScores
	RoleClasses
)

func (r TensorRole) String() string {
	switch r {
	case RoleBoxes:
		return "boxes"
	case RoleScores:
		return "scores"
	case RoleClasses:
		return "classes"
	}
	return "unknown"
}

// Quantization maps a stored tensor value to its real value: (raw - ZeroPoint) * Scale.
// A zero Scale means the stored values are already real.
type Quantization struct {
	Scale     float64 `json:"scale"`
	ZeroPoint int     `json:"zeroPoint"`
}

// RawTensor is an accelerator output as stored, converted to float64 without dequantization.
type RawTensor struct {
	Name   string       `json:"name"`
	Shape  []int        `json:"shape"`
	Values []float64    `json:"-"`
	Quant  Quantization `json:"quant"`
}

type CaptureReason string

const (
	CaptureAuto     CaptureReason = "auto"
	CaptureSnapshot CaptureReason = "snapshot"
)

type CapturedEvent struct {
	ID        string        `json:"id"`
	Filename  string        `json:"filename"`
	Reason    CaptureReason `json:"reason"`
	People    int           `json:"people"`
	InferMs   float64       `json:"inferMs"`
	FPS       float64       `json:"fps"`
	Timestamp time.Time     `json:"timestamp"`
}

type CaptureSize struct {
	W int `json:"w"`
	H int `json:"h"`
}

type Status struct {
	Model        string      `json:"model"`
	CamIndex     int         `json:"cam_index"`
	Capture      CaptureSize `json:"capture"`
	Thresh       float64     `json:"thresh"`
	People       int         `json:"people"`
	InferMs      float64     `json:"infer_ms"`
	FPS          float64     `json:"fps"`
	OutDir       string      `json:"outdir"`
	CooldownSec  float64     `json:"cooldown_sec"`
	Frames       uint64      `json:"frames"`
	DecodeErrors uint64      `json:"decode_errors"`
	LastCapture  string      `json:"last_capture,omitempty"`
}

type PipelineStats struct {
	RunID            string  `json:"runId"`
	Camera           string  `json:"camera"`
	Frames           int     `json:"frames"`
	FramesWithPeople int     `json:"framesWithPeople"`
	EmptyReads       int     `json:"emptyReads"`
	DecodeErrors     int     `json:"decodeErrors"`
	EncodeErrors     int     `json:"encodeErrors"`
	AvgInferMs       float64 `json:"avgInferMs"`
	FPS              float64 `json:"fps"`
	PeriodSeconds    float64 `json:"periodSeconds"`
	Timestamp        int64   `json:"timestamp"`
}

type AlerterStats struct {
	Name      string `json:"name"`
	Alerts    int    `json:"alerts"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}

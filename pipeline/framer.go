package pipeline

import (
	"fmt"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/config"
)

type camera struct {
	vc   *gocv.VideoCapture
	desc string
}

// OpenCamera opens the configured video source, or the camera index when no
// source is set, and requests the configured capture size.
func OpenCamera(cfgsvc config.IService) (FrameSource, error) {
	var device interface{} = cfgsvc.GetCameraIndex()
	desc := "index=" + strconv.Itoa(cfgsvc.GetCameraIndex())
	if src := cfgsvc.GetVideoSource(); src != "" {
		device = src
		desc = "source=" + src
	}
	attempted := []string{fmt.Sprintf("%s width=%d height=%d", desc, cfgsvc.GetCaptureWidth(), cfgsvc.GetCaptureHeight())}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, &model.FatalError{Resource: "camera", Attempted: attempted, Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &model.FatalError{Resource: "camera", Attempted: attempted, Err: fmt.Errorf("device did not open")}
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfgsvc.GetCaptureWidth()))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfgsvc.GetCaptureHeight()))

	return &camera{vc: vc, desc: desc}, nil
}

func (c *camera) Read(dst *gocv.Mat) bool {
	return c.vc.Read(dst) && !dst.Empty()
}

func (c *camera) Describe() string {
	return c.desc
}

func (c *camera) Close() error {
	return c.vc.Close()
}

// stillSource repeats a fixed frame. Every emptyEvery-th read is empty when
// emptyEvery > 0, and reads stop after limit frames when limit > 0.
type stillSource struct {
	frame      gocv.Mat
	emptyEvery int
	limit      int
	reads      int
	frames     int
}

// NewStillSource serves copies of frame, which it takes ownership of.
func NewStillSource(frame gocv.Mat, emptyEvery, limit int) FrameSource {
	return &stillSource{frame: frame, emptyEvery: emptyEvery, limit: limit}
}

func (s *stillSource) Read(dst *gocv.Mat) bool {
	s.reads++
	if s.emptyEvery > 0 && s.reads%s.emptyEvery == 0 {
		return false
	}
	if s.limit > 0 && s.frames >= s.limit {
		return false
	}
	s.frame.CopyTo(dst)
	s.frames++
	return true
}

func (s *stillSource) Describe() string {
	return fmt.Sprintf("still %dx%d", s.frame.Cols(), s.frame.Rows())
}

func (s *stillSource) Close() error {
	return s.frame.Close()
}

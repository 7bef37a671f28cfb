package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/people-tpu/codec"
	"github.com/khaledhikmat/people-tpu/model"
)

const jpegQuality = 80

var (
	targetColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	otherColor  = color.RGBA{R: 0, G: 255, B: 255, A: 0}
)

// Preprocess resizes a BGR frame to the model input size and returns its
// pixels as packed RGB bytes.
func Preprocess(frame gocv.Mat, width, height int) []byte {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)

	return rgb.ToBytes()
}

// Label renders "<name-or-id>:<score>" for a detection.
func Label(det model.Detection, targetClass int, labels []string) string {
	name := fmt.Sprintf("%d", det.ClassID)
	switch {
	case det.ClassID == targetClass:
		name = "person"
	case det.ClassID >= 0 && det.ClassID < len(labels) && labels[det.ClassID] != "":
		name = labels[det.ClassID]
	}
	return fmt.Sprintf("%s:%.2f", name, det.Score)
}

// Annotate draws every detection at or above threshold onto frame and returns
// the pixel rectangles it drew.
func Annotate(frame *gocv.Mat, dets []model.Detection, threshold float64, targetClass int, labels []string) []image.Rectangle {
	w, h := frame.Cols(), frame.Rows()
	rects := []image.Rectangle{}
	for _, det := range dets {
		if det.Score < threshold {
			continue
		}

		r := codec.BoxToPixels(det.Box, w, h)
		c := otherColor
		if det.ClassID == targetClass {
			c = targetColor
		}

		gocv.Rectangle(frame, r, c, 2)
		gocv.PutText(frame, Label(det, targetClass, labels), image.Pt(r.Min.X, max(0, r.Min.Y-8)), gocv.FontHersheySimplex, 0.6, c, 2)
		rects = append(rects, r)
	}
	return rects
}

// Summary is the overlay line drawn on each frame.
func Summary(people int, inferMs, fps float64) string {
	return fmt.Sprintf("people:%d  tpu:%.1fms  fps:%.1f", people, inferMs, fps)
}

func drawSummary(frame *gocv.Mat, people int, inferMs, fps float64) {
	gocv.PutText(frame, Summary(people, inferMs, fps), image.Pt(10, 24), gocv.FontHersheySimplex, 0.7, targetColor, 2)
}

// Encode compresses a frame as JPEG at the fixed capture quality.
func Encode(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	b := buf.GetBytes()
	if len(b) == 0 {
		return nil, fmt.Errorf("empty jpeg")
	}
	return append([]byte(nil), b...), nil
}

// LoadLabels reads newline separated class names. An empty path yields none.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	labels := strings.Split(strings.TrimSpace(string(data)), "\n")
	for i := range labels {
		labels[i] = strings.TrimSpace(labels[i])
	}
	return labels, nil
}

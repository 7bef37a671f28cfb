package codec

import (
	"image"
	"math"
)

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// BoxToPixels clamps a normalized (ymin, xmin, ymax, xmax) box into [0,1] and
// scales it to a w x h frame.
func BoxToPixels(box [4]float64, w, h int) image.Rectangle {
	y1, x1, y2, x2 := clamp01(box[0]), clamp01(box[1]), clamp01(box[2]), clamp01(box[3])
	// image.Rect would canonicalize swapped corners; keep them as decoded.
	return image.Rectangle{
		Min: image.Pt(int(x1*float64(w)), int(y1*float64(h))),
		Max: image.Pt(int(x2*float64(w)), int(y2*float64(h))),
	}
}

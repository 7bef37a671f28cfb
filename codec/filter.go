package codec

import (
	"math"

	"github.com/khaledhikmat/people-tpu/model"
)

// Filter walks the first min(N, topK) entries in output order and keeps those
// scoring at least threshold. Class ids are rounded half to even.
func Filter(d Decoded, threshold float64, topK int) []model.Detection {
	n := d.Len()
	if topK < n {
		n = topK
	}

	dets := []model.Detection{}
	for i := 0; i < n; i++ {
		score := d.Scores[i]
		if !(score >= threshold) {
			continue
		}
		dets = append(dets, model.Detection{
			ClassID: int(math.RoundToEven(d.Classes[i])),
			Score:   score,
			Box:     d.Boxes[i],
		})
	}
	return dets
}

func Count(dets []model.Detection, targetClass int) int {
	count := 0
	for _, d := range dets {
		if d.ClassID == targetClass {
			count++
		}
	}
	return count
}

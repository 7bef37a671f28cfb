// Package codec converts between images and accelerator tensors and recovers
// detection fields from an SSD-style postprocess output set whose tensor order
// differs between exported model variants.
package codec

import (
	"math"

	"github.com/khaledhikmat/people-tpu/model"
)

const (
	scoreMin       = -0.01
	scoreMax       = 1.01
	classMin       = -1.0
	classMax       = 200.0
	classMaxRounds = 0.2
)

// Roles holds the output tensor index assigned to each detection field.
type Roles struct {
	Boxes   int
	Scores  int
	Classes int
}

// Decoded holds equal-length detection fields, dequantized.
type Decoded struct {
	Boxes   [][4]float64
	Scores  []float64
	Classes []float64
}

func (d Decoded) Len() int {
	n := len(d.Boxes)
	if len(d.Scores) < n {
		n = len(d.Scores)
	}
	if len(d.Classes) < n {
		n = len(d.Classes)
	}
	return n
}

// Dequantize returns real values for a raw tensor. A zero scale is the identity.
func Dequantize(values []float64, q model.Quantization) []float64 {
	out := make([]float64, len(values))
	if q.Scale == 0 {
		copy(out, values)
		return out
	}
	zp := float64(q.ZeroPoint)
	for i, v := range values {
		out[i] = (v - zp) * q.Scale
	}
	return out
}

// squeezed is a tensor with a leading batch dimension of 1 removed.
type squeezed struct {
	shape  []int
	values []float64
}

func squeeze(t model.RawTensor) squeezed {
	shape := t.Shape
	if len(shape) >= 2 && shape[0] == 1 {
		shape = shape[1:]
	}
	return squeezed{shape: shape, values: t.Values}
}

// Classify assigns boxes/scores/classes roles to the outputs. It returns a
// *model.DecodeError naming the observed shapes when any role stays unresolved.
func Classify(tensors []model.RawTensor) (Roles, error) {
	sq := make([]squeezed, len(tensors))
	for i, t := range tensors {
		sq[i] = squeeze(t)
	}

	roles := Roles{Boxes: -1, Scores: -1, Classes: -1}

	for i, s := range sq {
		if len(s.shape) == 2 && s.shape[1] == 4 {
			roles.Boxes = i
			break
		}
	}
	if roles.Boxes < 0 {
		for i, s := range sq {
			if len(s.shape) == 3 && s.shape[2] == 4 {
				roles.Boxes = i
				break
			}
		}
	}

	var oneD []int
	deq := make(map[int][]float64)
	for i, s := range sq {
		if len(s.shape) != 1 || i == roles.Boxes {
			continue
		}
		oneD = append(oneD, i)
		deq[i] = Dequantize(s.values, tensors[i].Quant)
	}

	for _, i := range oneD {
		lo, hi, ok := nanMinMax(deq[i])
		if ok && lo >= scoreMin && hi <= scoreMax {
			roles.Scores = i
			break
		}
	}

	for _, i := range oneD {
		if i == roles.Scores {
			continue
		}
		lo, hi, ok := nanMinMax(deq[i])
		if ok && lo >= classMin && hi <= classMax && meanRoundingError(deq[i]) < classMaxRounds {
			roles.Classes = i
			break
		}
	}

	// Fallback: hand the remaining one-dimensional outputs out in tensor order.
	var rest []int
	for _, i := range oneD {
		if i != roles.Scores && i != roles.Classes {
			rest = append(rest, i)
		}
	}
	if roles.Scores < 0 && len(rest) > 0 {
		roles.Scores, rest = rest[0], rest[1:]
	}
	if roles.Classes < 0 && len(rest) > 0 {
		roles.Classes = rest[0]
	}

	var missing []model.TensorRole
	if roles.Boxes < 0 {
		missing = append(missing, model.RoleBoxes)
	}
	if roles.Scores < 0 {
		missing = append(missing, model.RoleScores)
	}
	if roles.Classes < 0 {
		missing = append(missing, model.RoleClasses)
	}
	if len(missing) > 0 {
		shapes := make([][]int, len(sq))
		for i, s := range sq {
			shapes[i] = s.shape
		}
		return roles, &model.DecodeError{Shapes: shapes, Missing: missing}
	}

	return roles, nil
}

// Decode classifies the outputs and returns the dequantized detection fields.
func Decode(tensors []model.RawTensor) (Decoded, error) {
	roles, err := Classify(tensors)
	if err != nil {
		return Decoded{}, err
	}

	boxes := Dequantize(tensors[roles.Boxes].Values, tensors[roles.Boxes].Quant)
	out := Decoded{
		Boxes:   make([][4]float64, len(boxes)/4),
		Scores:  Dequantize(tensors[roles.Scores].Values, tensors[roles.Scores].Quant),
		Classes: Dequantize(tensors[roles.Classes].Values, tensors[roles.Classes].Quant),
	}
	for i := range out.Boxes {
		copy(out.Boxes[i][:], boxes[i*4:i*4+4])
	}
	return out, nil
}

func nanMinMax(values []float64) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	seen := false
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		seen = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, seen
}

// meanRoundingError is NaN for empty input or when any value is NaN.
func meanRoundingError(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - math.RoundToEven(v))
	}
	return sum / float64(len(values))
}

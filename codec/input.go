package codec

import (
	"fmt"
	"image"
)

type InputType int

const (
	InputUint8 InputType = iota
	InputFloat32
)

func (t InputType) String() string {
	if t == InputUint8 {
		return "uint8"
	}
	return "float32"
}

// NormalizePixels maps 8-bit pixels to [0,1] float32 values.
func NormalizePixels(pixels []byte) []float32 {
	out := make([]float32, len(pixels))
	for i, p := range pixels {
		out[i] = float32(p) / 255.0
	}
	return out
}

// InputBuffer converts packed RGB pixels into the buffer an engine copies
// into an input tensor of type t: a fresh []byte for uint8 inputs, [0,1]
// []float32 for everything else.
func InputBuffer(rgb []byte, t InputType) interface{} {
	if t == InputUint8 {
		return append([]byte(nil), rgb...)
	}
	return NormalizePixels(rgb)
}

// RGBBytes packs an image into an HxWx3 RGB byte slice.
func RGBBytes(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return out
}

// CheckInputSize verifies an HxWx3 buffer length.
func CheckInputSize(pixels []byte, w, h, c int) error {
	if want := w * h * c; len(pixels) != want {
		return fmt.Errorf("input has %d bytes, model expects %dx%dx%d=%d", len(pixels), w, h, c, want)
	}
	return nil
}

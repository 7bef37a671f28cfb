package inference

import (
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/codec"
	"github.com/khaledhikmat/people-tpu/model"
)

// Fake is an in-memory engine returning preset output tensors.
type Fake struct {
	mu        sync.Mutex
	width     int
	height    int
	inputType codec.InputType
	latency   time.Duration
	outputs   []model.RawTensor
	invokeErr error

	LastUint8   []byte
	LastFloat32 []float32
	Invocations int
	Closed      bool
}

func NewFake(width, height int, inputType codec.InputType, latency time.Duration) *Fake {
	return &Fake{
		width:     width,
		height:    height,
		inputType: inputType,
		latency:   latency,
	}
}

// SetOutputs replaces the tensors returned after each invocation.
func (f *Fake) SetOutputs(outputs ...model.RawTensor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = outputs
}

func (f *Fake) SetInvokeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokeErr = err
}

func (f *Fake) InputSize() (int, int) {
	return f.width, f.height
}

func (f *Fake) InputType() codec.InputType {
	return f.inputType
}

func (f *Fake) SetInput(rgb []byte) error {
	if err := codec.CheckInputSize(rgb, f.width, f.height, 3); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch buf := codec.InputBuffer(rgb, f.inputType).(type) {
	case []byte:
		f.LastUint8 = buf
	case []float32:
		f.LastFloat32 = buf
	}
	return nil
}

func (f *Fake) Invoke() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invocations++
	return f.latency, f.invokeErr
}

func (f *Fake) OutputCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outputs)
}

func (f *Fake) Output(i int) (model.RawTensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.outputs) {
		return model.RawTensor{}, xerrors.Errorf("no output tensor %d", i)
	}
	return f.outputs[i], nil
}

func (f *Fake) Outputs() ([]model.RawTensor, error) {
	return readOutputs(f)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

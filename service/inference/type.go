package inference

import (
	"time"

	"github.com/khaledhikmat/people-tpu/codec"
	"github.com/khaledhikmat/people-tpu/model"
)

// IService is a loaded detection model bound to its accelerator. It is owned
// by a single worker and is not safe for concurrent use.
type IService interface {
	// InputSize is the model's expected input width and height; channels are always 3.
	InputSize() (width, height int)
	InputType() codec.InputType
	// SetInput copies an HxWx3 RGB buffer into the input tensor, normalizing
	// to [0,1] floats unless the model takes uint8.
	SetInput(rgb []byte) error
	// Invoke runs the forward pass and returns its wall-clock duration.
	Invoke() (time.Duration, error)
	OutputCount() int
	Output(i int) (model.RawTensor, error)
	// Outputs reads all output tensors in order.
	Outputs() ([]model.RawTensor, error)
	Close() error
}

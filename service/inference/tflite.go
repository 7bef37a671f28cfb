package inference

import (
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-tflite"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/codec"
	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/lgr"
)

type tfliteService struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	delegate    *externalDelegate
	input       *tflite.Tensor
	inputType   codec.InputType
	width       int
	height      int
}

// NewTFLite loads a TFLite model and attaches the first accelerator delegate
// from candidates that loads. With no candidates the model runs on the CPU.
func NewTFLite(modelPath string, candidates []string) (IService, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &model.FatalError{Resource: "model", Attempted: []string{modelPath}, Err: err}
	}

	m := tflite.NewModelFromFile(modelPath)
	if m == nil {
		return nil, &model.FatalError{Resource: "model", Attempted: []string{modelPath}, Err: xerrors.New("cannot parse model")}
	}

	svc := &tfliteService{model: m}

	svc.options = tflite.NewInterpreterOptions()
	svc.options.SetErrorReporter(func(msg string, _ interface{}) {
		lgr.Logger.Error("tflite", slog.String("msg", msg))
	}, nil)

	if len(candidates) > 0 {
		d, path, err := loadFirst("accelerator delegate", candidates, loadExternalDelegate)
		if err != nil {
			svc.Close()
			return nil, err
		}
		lgr.Logger.Info("accelerator delegate loaded", slog.String("path", path))
		svc.delegate = d
		svc.options.AddDelegate(d)
	} else {
		lgr.Logger.Warn("no accelerator delegate candidates, running on cpu")
	}

	svc.interpreter = tflite.NewInterpreter(m, svc.options)
	if svc.interpreter == nil {
		svc.Close()
		return nil, &model.FatalError{Resource: "interpreter", Attempted: []string{modelPath}, Err: xerrors.New("cannot create interpreter")}
	}

	if status := svc.interpreter.AllocateTensors(); status != tflite.OK {
		svc.Close()
		return nil, &model.FatalError{Resource: "tensors", Attempted: []string{modelPath}, Err: xerrors.Errorf("allocation failed: %v", status)}
	}

	svc.input = svc.interpreter.GetInputTensor(0)
	if svc.input == nil || svc.input.NumDims() != 4 {
		svc.Close()
		return nil, &model.FatalError{Resource: "input tensor", Attempted: []string{modelPath}, Err: xerrors.New("expected a 1xHxWx3 input")}
	}
	svc.height = svc.input.Dim(1)
	svc.width = svc.input.Dim(2)
	svc.inputType = codec.InputFloat32
	if svc.input.Type() == tflite.UInt8 {
		svc.inputType = codec.InputUint8
	}

	return svc, nil
}

func (svc *tfliteService) InputSize() (int, int) {
	return svc.width, svc.height
}

func (svc *tfliteService) InputType() codec.InputType {
	return svc.inputType
}

func (svc *tfliteService) SetInput(rgb []byte) error {
	if err := codec.CheckInputSize(rgb, svc.width, svc.height, 3); err != nil {
		return err
	}

	if status := svc.input.CopyFromBuffer(codec.InputBuffer(rgb, svc.inputType)); status != tflite.OK {
		return xerrors.Errorf("copying input: %v", status)
	}
	return nil
}

func (svc *tfliteService) Invoke() (time.Duration, error) {
	start := time.Now()
	status := svc.interpreter.Invoke()
	elapsed := time.Since(start)
	if status != tflite.OK {
		return elapsed, xerrors.Errorf("invoke failed: %v", status)
	}
	return elapsed, nil
}

func (svc *tfliteService) OutputCount() int {
	return svc.interpreter.GetOutputTensorCount()
}

func (svc *tfliteService) Output(i int) (model.RawTensor, error) {
	t := svc.interpreter.GetOutputTensor(i)
	if t == nil {
		return model.RawTensor{}, xerrors.Errorf("no output tensor %d", i)
	}

	values, err := tensorValues(t)
	if err != nil {
		return model.RawTensor{}, xerrors.Errorf("output %d: %w", i, err)
	}

	q := t.QuantizationParams()
	return model.RawTensor{
		Name:   t.Name(),
		Shape:  t.Shape(),
		Values: values,
		Quant:  model.Quantization{Scale: float64(q.Scale), ZeroPoint: int(q.ZeroPoint)},
	}, nil
}

func (svc *tfliteService) Outputs() ([]model.RawTensor, error) {
	return readOutputs(svc)
}

func (svc *tfliteService) Close() error {
	if svc.interpreter != nil {
		svc.interpreter.Delete()
		svc.interpreter = nil
	}
	if svc.options != nil {
		svc.options.Delete()
		svc.options = nil
	}
	if svc.delegate != nil {
		svc.delegate.Delete()
		svc.delegate = nil
	}
	if svc.model != nil {
		svc.model.Delete()
		svc.model = nil
	}
	return nil
}

// typedTensor is the slice of *tflite.Tensor that output reading needs.
type typedTensor interface {
	Type() tflite.TensorType
	Float32s() []float32
	UInt8s() []uint8
	Int8s() []int8
	Int32s() []int32
}

// tensorValues widens an output tensor to float64 without dequantizing it.
func tensorValues(t typedTensor) ([]float64, error) {
	switch t.Type() {
	case tflite.Float32:
		return widen(t.Float32s()), nil
	case tflite.UInt8:
		return widen(t.UInt8s()), nil
	case tflite.Int8:
		return widen(t.Int8s()), nil
	case tflite.Int32:
		return widen(t.Int32s()), nil
	}
	return nil, xerrors.Errorf("unsupported type %v", t.Type())
}

type number interface {
	~float32 | ~float64 | ~uint8 | ~int8 | ~int32 | ~int64
}

func widen[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func readOutputs(svc IService) ([]model.RawTensor, error) {
	n := svc.OutputCount()
	out := make([]model.RawTensor, 0, n)
	for i := 0; i < n; i++ {
		t, err := svc.Output(i)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

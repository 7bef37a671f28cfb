package inference

import (
	"log/slog"
	"os"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/codec"
	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/lgr"
)

type onnxService struct {
	session       *ort.DynamicAdvancedSession
	inputShape    ort.Shape
	outputNames   []string
	outputs       []ort.Value
	input         ort.Value
	inputType     codec.InputType
	channelsFirst bool
	width         int
	height        int
}

// NewONNX loads an ONNX detection model. candidates are onnxruntime shared
// library locations tried in order.
func NewONNX(modelPath string, candidates []string) (IService, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &model.FatalError{Resource: "model", Attempted: []string{modelPath}, Err: err}
	}

	if !ort.IsInitialized() {
		_, path, err := loadFirst("onnxruntime library", candidates, func(p string) (struct{}, error) {
			ort.SetSharedLibraryPath(p)
			return struct{}{}, ort.InitializeEnvironment()
		})
		if err != nil {
			return nil, err
		}
		lgr.Logger.Info("onnxruntime loaded", slog.String("path", path))
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, &model.FatalError{Resource: "model", Attempted: []string{modelPath}, Err: err}
	}
	if len(inputs) != 1 || len(inputs[0].Dimensions) != 4 {
		return nil, &model.FatalError{Resource: "input tensor", Attempted: []string{modelPath}, Err: xerrors.New("expected a single 4-D image input")}
	}

	svc := &onnxService{inputType: codec.InputFloat32}
	if inputs[0].DataType == ort.TensorElementDataTypeUint8 {
		svc.inputType = codec.InputUint8
	}

	dims := inputs[0].Dimensions
	svc.channelsFirst = dims[1] == 3
	if svc.channelsFirst {
		svc.height, svc.width = int(dims[2]), int(dims[3])
	} else {
		svc.height, svc.width = int(dims[1]), int(dims[2])
	}
	if svc.width <= 0 || svc.height <= 0 {
		return nil, &model.FatalError{Resource: "input tensor", Attempted: []string{modelPath}, Err: xerrors.Errorf("dynamic input size %v is not supported", dims)}
	}
	svc.inputShape = ort.NewShape(1, dims[1], dims[2], dims[3])

	for _, o := range outputs {
		svc.outputNames = append(svc.outputNames, o.Name)
	}
	svc.outputs = make([]ort.Value, len(outputs))

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, xerrors.Errorf("session options: %w", err)
	}
	defer options.Destroy()

	svc.session, err = ort.NewDynamicAdvancedSession(modelPath, []string{inputs[0].Name}, svc.outputNames, options)
	if err != nil {
		return nil, &model.FatalError{Resource: "onnx session", Attempted: []string{modelPath}, Err: err}
	}

	return svc, nil
}

func (svc *onnxService) InputSize() (int, int) {
	return svc.width, svc.height
}

func (svc *onnxService) InputType() codec.InputType {
	return svc.inputType
}

func (svc *onnxService) SetInput(rgb []byte) error {
	if err := codec.CheckInputSize(rgb, svc.width, svc.height, 3); err != nil {
		return err
	}
	if svc.channelsFirst {
		rgb = planar(rgb, svc.width*svc.height)
	}

	var (
		t   ort.Value
		err error
	)
	switch buf := codec.InputBuffer(rgb, svc.inputType).(type) {
	case []byte:
		t, err = ort.NewTensor(svc.inputShape, buf)
	case []float32:
		t, err = ort.NewTensor(svc.inputShape, buf)
	}
	if err != nil {
		return xerrors.Errorf("input tensor: %w", err)
	}

	if svc.input != nil {
		svc.input.Destroy()
	}
	svc.input = t
	return nil
}

func (svc *onnxService) Invoke() (time.Duration, error) {
	if svc.input == nil {
		return 0, xerrors.New("no input set")
	}
	svc.releaseOutputs()

	start := time.Now()
	err := svc.session.Run([]ort.Value{svc.input}, svc.outputs)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, xerrors.Errorf("run: %w", err)
	}
	return elapsed, nil
}

func (svc *onnxService) OutputCount() int {
	return len(svc.outputNames)
}

func (svc *onnxService) Output(i int) (model.RawTensor, error) {
	if i < 0 || i >= len(svc.outputs) || svc.outputs[i] == nil {
		return model.RawTensor{}, xerrors.Errorf("no output tensor %d", i)
	}

	var values []float64
	switch t := svc.outputs[i].(type) {
	case *ort.Tensor[float32]:
		values = widen(t.GetData())
	case *ort.Tensor[float64]:
		values = widen(t.GetData())
	case *ort.Tensor[uint8]:
		values = widen(t.GetData())
	case *ort.Tensor[int32]:
		values = widen(t.GetData())
	case *ort.Tensor[int64]:
		values = widen(t.GetData())
	default:
		return model.RawTensor{}, xerrors.Errorf("output %d has unsupported type %T", i, t)
	}

	shape := svc.outputs[i].GetShape()
	dims := make([]int, len(shape))
	for j, d := range shape {
		dims[j] = int(d)
	}

	return model.RawTensor{Name: svc.outputNames[i], Shape: dims, Values: values}, nil
}

func (svc *onnxService) Outputs() ([]model.RawTensor, error) {
	return readOutputs(svc)
}

func (svc *onnxService) releaseOutputs() {
	for i, o := range svc.outputs {
		if o != nil {
			o.Destroy()
			svc.outputs[i] = nil
		}
	}
}

func (svc *onnxService) Close() error {
	svc.releaseOutputs()
	if svc.input != nil {
		svc.input.Destroy()
		svc.input = nil
	}
	if svc.session != nil {
		err := svc.session.Destroy()
		svc.session = nil
		return err
	}
	return nil
}

// planar converts interleaved HWC pixels to CHW.
func planar(hwc []byte, pixels int) []byte {
	out := make([]byte, len(hwc))
	for i := 0; i < pixels; i++ {
		out[i] = hwc[i*3]
		out[pixels+i] = hwc[i*3+1]
		out[2*pixels+i] = hwc[i*3+2]
	}
	return out
}

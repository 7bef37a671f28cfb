package inference

import (
	"log/slog"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/config"
	"github.com/khaledhikmat/people-tpu/service/lgr"
)

// New loads the configured model with the configured runtime.
func New(cfgsvc config.IService) (IService, error) {
	switch cfgsvc.GetEngine() {
	case config.EngineONNX:
		return NewONNX(cfgsvc.GetModelPath(), cfgsvc.GetAcceleratorLibraryCandidates())
	case config.EngineTFLite, "":
		return NewTFLite(cfgsvc.GetModelPath(), cfgsvc.GetAcceleratorLibraryCandidates())
	}
	return nil, xerrors.Errorf("unknown engine %q", cfgsvc.GetEngine())
}

// loadFirst tries each candidate in order and returns the first that loads.
// When all fail, the error is a *model.FatalError naming every attempt.
func loadFirst[T any](resource string, candidates []string, load func(string) (T, error)) (T, string, error) {
	var zero T
	var last error
	for _, c := range candidates {
		v, err := load(c)
		if err == nil {
			return v, c, nil
		}
		lgr.Logger.Debug("candidate failed",
			slog.String("resource", resource),
			slog.String("candidate", c),
			slog.Any("error", err),
		)
		last = err
	}
	if last == nil {
		last = xerrors.New("no candidates configured")
	}
	return zero, "", &model.FatalError{
		Resource:  resource,
		Attempted: append([]string(nil), candidates...),
		Err:       last,
	}
}

package mode

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/pipeline"
	"github.com/khaledhikmat/people-tpu/server"
	"github.com/khaledhikmat/people-tpu/service/lgr"
)

const httpShutdownTimeout = 3 * time.Second

// Serve runs the pipeline worker and the HTTP endpoints until the context is
// cancelled or the listener fails.
func Serve(canxCtx context.Context, svcs pipeline.ServicesFactory, alerter pipeline.Alerter) error {
	// Streams are never closed: exiting go routines may still report on them.
	errorStream := make(chan interface{})
	statsStream := make(chan interface{})

	runCtx, runCancel := context.WithCancel(canxCtx)
	defer runCancel()

	address := svcs.CfgSvc.GetHTTPAddress()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		svcs.InferenceSvc.Close()
		return &model.FatalError{Resource: "http listener", Attempted: []string{address}, Err: err}
	}

	detector, st, capturer, err := newDetector(runCtx, svcs, alerter, true, errorStream, statsStream)
	if err != nil {
		listener.Close()
		return err
	}

	if err := svcs.BrokerSvc.Connect(runCtx); err != nil {
		procError(svcs.DataSvc, model.GenError("serve", err, map[string]interface{}{}, "error connecting to the broker"))
	}
	defer svcs.BrokerSvc.Disconnect()

	// No write timeout: /video responses last as long as the client stays.
	srv := &http.Server{
		Handler:           server.New(st, capturer, svcs.StorageSvc).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var runErr error
	serverErr := make(chan error, 1)
	detectorDone := make(chan error, 1)

	go func() {
		detectorDone <- detector.Run(runCtx, errorStream, statsStream)
	}()

	go func() {
		lgr.Logger.Info("http server listening", slog.String("address", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"serve context cancelled",
			)
			goto resume

		case err := <-serverErr:
			runErr = xerrors.Errorf("http server: %w", err)
			goto resume

		case err := <-detectorDone:
			runErr = err
			goto resume

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

resume:
	runCancel()
	st.Close()

	shutdownCtx, shutdownFn := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownFn()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.Logger.Warn("http server shutdown", slog.Any("error", err))
	}

	drain("serve", svcs, errorStream, statsStream)
	return runErr
}

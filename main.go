package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/mode"
	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/pipeline"
	"github.com/khaledhikmat/people-tpu/service/broker"
	"github.com/khaledhikmat/people-tpu/service/config"
	"github.com/khaledhikmat/people-tpu/service/data"
	"github.com/khaledhikmat/people-tpu/service/inference"
	"github.com/khaledhikmat/people-tpu/service/lgr"
	"github.com/khaledhikmat/people-tpu/service/storage"
	"github.com/khaledhikmat/people-tpu/service/tracing"
	"github.com/khaledhikmat/people-tpu/service/webhook"
)

const (
	// WARNING: this is added to the mode processor shutdown time
	shutdownGrace = 3 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	config.ModeServe:    mode.Serve,
	config.ModeHeadless: mode.Headless,
	config.ModeImage:    mode.Image,
}

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)
	defer canxFn()

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			lgr.Logger.Warn("error loading .env file", slog.Any("error", xerrors.New(err.Error())))
		}
	}

	invocation, err := config.Parse(os.Args, os.LookupEnv)
	if err != nil {
		var usageErr *config.UsageError
		if errors.As(err, &usageErr) {
			fmt.Fprintln(os.Stderr, usageErr.Usage)
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	modeProc, ok := modeProcessors[invocation.Mode]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", invocation.Mode))
		return 2
	}

	if err := invocation.Settings.Validate(); err != nil {
		return fatal(err)
	}

	// Create the services needed for the mode processor
	// Config service
	cfgSvc := config.New(invocation.Settings)
	// Tracer provider: spans go to stderr so they never mix with headless reports
	shutdownTracing, err := tracing.Setup(cfgSvc.GetTraceExporter(), os.Stderr)
	if err != nil {
		return fatal(err)
	}
	defer func() {
		flushCtx, flushFn := context.WithTimeout(rootCtx, shutdownGrace)
		defer flushFn()
		if err := shutdownTracing(flushCtx); err != nil {
			lgr.Logger.Warn("flushing traces", slog.Any("error", err))
		}
	}()
	// Data service
	dataSvc := data.NewFilesDB(cfgSvc)
	// storage service
	storageSvc := storage.NewFiles(cfgSvc)
	// webhook service
	webhookSvc := webhook.NewHTTP(cfgSvc)
	// broker service
	brokerSvc := broker.NewNoop()
	if cfgSvc.GetMQTTBroker() != "" {
		brokerSvc = broker.NewMQTT(cfgSvc)
	}
	// inference service: owned by the mode processor from here on
	inferenceSvc, err := inference.New(cfgSvc)
	if err != nil {
		return fatal(err)
	}

	svcs := pipeline.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      dataSvc,
		StorageSvc:   storageSvc,
		InferenceSvc: inferenceSvc,
		WebhookSvc:   webhookSvc,
		BrokerSvc:    brokerSvc,
	}

	lgr.Logger.Info("starting",
		slog.String("mode", invocation.Mode),
		slog.String("model", cfgSvc.GetModelPath()),
		slog.String("engine", cfgSvc.GetEngine()),
	)

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs, pipeline.CaptureAlerter)
	}()

	var procErr error
	procDone := false

	// Wait for cancellation or mode proc
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"people-tpu context cancelled",
			)
			goto resume

		case procErr = <-modeProcResult:
			procDone = true
			goto resume
		}
	}

	// Wait in a non-blocking way for the mode processor to exit
	// This is needed because its go routines may need to report errors as they are exiting
resume:
	// Cancel the context if not already cancelled
	if canxCtx.Err() == nil {
		canxFn()
	}

	if !procDone {
		waitOnShutdown := time.Duration(cfgSvc.GetModeMaxShutdownTime())*time.Second + shutdownGrace
		lgr.Logger.Info(
			"people-tpu is waiting for the mode processor to exit",
			slog.Duration("period", waitOnShutdown),
		)

		timer := time.NewTimer(waitOnShutdown)
		defer timer.Stop()

		select {
		case <-timer.C:
			lgr.Logger.Info(
				"people-tpu shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)
		case procErr = <-modeProcResult:
		}
	}

	if procErr != nil {
		return fatal(procErr)
	}
	return 0
}

// fatal reports err and returns the process exit status.
func fatal(err error) int {
	var fatalErr *model.FatalError
	if errors.As(err, &fatalErr) {
		fmt.Fprintf(os.Stderr, "fatal: %s\n", fatalErr.Error())
		lgr.Logger.Error("fatal", slog.String("resource", fatalErr.Resource), slog.Any("error", err))
		return 1
	}

	lgr.Logger.Error(
		"people-tpu mode processor exited",
		slog.Any("error", xerrors.New(err.Error())),
	)
	return 1
}

package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/lgr"
)

const eventsLogName = "events.log"

// CaptureAlerter fans each capture event out to the rolling event log, the
// webhook and the broker. Delivery failures are reported on errorStream and
// never retried.
func CaptureAlerter(canx context.Context, svcs ServicesFactory, errorStream chan interface{}, statsStream chan interface{}) chan model.CapturedEvent {
	// Never closed: capturers send without blocking and may outlive this goroutine.
	in := make(chan model.CapturedEvent, 100)

	eventLog := &lumberjack.Logger{
		Filename:   filepath.Join(svcs.CfgSvc.GetOutputDirectory(), eventsLogName),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     7,    // days
		Compress:   true, // compress old logs
	}

	go func() {
		startTime := time.Now()
		stats := model.AlerterStats{Name: "captureAlerter"}

		defer func() {
			eventLog.Close()
			stats.Uptime = int64(time.Since(startTime).Seconds())
			select {
			case statsStream <- stats:
			case <-time.After(time.Second):
			}
		}()

		report := func(err error, target string, ev model.CapturedEvent) {
			stats.Errors++
			if errorStream == nil {
				lgr.Logger.Error("capture event delivery failed", slog.String("target", target), slog.Any("error", err))
				return
			}
			select {
			case errorStream <- model.GenError("capture_alerter", err, map[string]interface{}{"file": ev.Filename}, "error delivering capture event to %s", target):
			case <-canx.Done():
			}
		}

		for {
			select {
			case <-canx.Done():
				lgr.Logger.Info(
					"alerter context cancelled",
				)
				return

			case ev := <-in:
				stats.Alerts++

				line, err := json.Marshal(ev)
				if err != nil {
					report(err, "event log", ev)
					continue
				}
				if _, err := eventLog.Write(append(line, '\n')); err != nil {
					report(err, "event log", ev)
				}

				payload := map[string]interface{}{
					"id":        ev.ID,
					"source":    svcs.CfgSvc.GetModelPath(),
					"file":      ev.Filename,
					"reason":    string(ev.Reason),
					"people":    ev.People,
					"inferMs":   ev.InferMs,
					"fps":       ev.FPS,
					"timestamp": ev.Timestamp.Format(time.RFC3339),
				}
				if svcs.WebhookSvc != nil {
					if err := svcs.WebhookSvc.Post(payload); err != nil {
						report(err, "webhook", ev)
					}
				}
				if svcs.BrokerSvc != nil {
					if err := svcs.BrokerSvc.Publish(line); err != nil {
						report(err, "broker", ev)
					}
				}

				lgr.Logger.Debug(
					"capture event delivered",
					slog.String("file", ev.Filename),
					slog.String("reason", string(ev.Reason)),
					slog.Int("people", ev.People),
				)
			}
		}
	}()

	return in
}

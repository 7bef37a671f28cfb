package pipeline

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/broker"
	"github.com/khaledhikmat/people-tpu/service/config"
	"github.com/khaledhikmat/people-tpu/service/data"
	"github.com/khaledhikmat/people-tpu/service/inference"
	"github.com/khaledhikmat/people-tpu/service/storage"
	"github.com/khaledhikmat/people-tpu/service/webhook"
)

type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	StorageSvc   storage.IService
	InferenceSvc inference.IService
	WebhookSvc   webhook.IService
	BrokerSvc    broker.IService
}

// FrameSource delivers raw BGR frames. Read returns false for an empty read,
// which is transient; the caller backs off and retries.
type FrameSource interface {
	Read(dst *gocv.Mat) bool
	Describe() string
	Close() error
}

// Signature of alerter function
type Alerter func(canx context.Context, svcs ServicesFactory, errorStream chan interface{}, statsStream chan interface{}) chan model.CapturedEvent

package broker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/service/config"
	"github.com/khaledhikmat/people-tpu/service/lgr"
)

type mqttService struct {
	CfgSvc config.IService
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// NewMQTT publishes capture events to the configured broker and topic.
func NewMQTT(cfgsvc config.IService) IService {
	return &mqttService{
		CfgSvc: cfgsvc,
	}
}

func (svc *mqttService) Connect(ctx context.Context) error {
	broker := svc.CfgSvc.GetMQTTBroker()
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("people-tpu-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(_ mqtt.Client) {
		svc.setConnected(true)
		lgr.Logger.Info("mqtt connection established", slog.String("broker", broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		svc.setConnected(false)
		lgr.Logger.Warn("mqtt connection lost, will auto-reconnect",
			slog.String("broker", broker),
			slog.Any("error", err),
		)
	}

	svc.client = mqtt.NewClient(opts)
	token := svc.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		// Retries continue in the background.
		lgr.Logger.Warn("mqtt connection pending", slog.String("broker", broker))
		return nil
	}

	if err := token.Error(); err != nil {
		return xerrors.Errorf("mqtt connection failed: %w", err)
	}
	svc.setConnected(true)
	return nil
}

func (svc *mqttService) Publish(payload []byte) error {
	if !svc.isConnected() {
		return xerrors.New("mqtt not connected")
	}

	token := svc.client.Publish(svc.CfgSvc.GetMQTTTopic(), 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return xerrors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return xerrors.Errorf("publish failed: %w", err)
	}
	return nil
}

func (svc *mqttService) Disconnect() {
	if svc.client != nil && svc.client.IsConnected() {
		svc.client.Disconnect(250)
		lgr.Logger.Info("mqtt disconnected")
	}
	svc.setConnected(false)
}

func (svc *mqttService) setConnected(v bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.connected = v
}

func (svc *mqttService) isConnected() bool {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.connected
}

package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/khaledhikmat/people-tpu/service/config"
)

func TestPublishBeforeConnectFails(t *testing.T) {
	s := config.Defaults()
	s.MQTTBroker = "localhost:1883"
	svc := NewMQTT(config.New(s))

	err := svc.Publish([]byte("{}"))
	assert.ErrorContains(t, err, "not connected")
	svc.Disconnect()
}

func TestNoop(t *testing.T) {
	svc := NewNoop()
	assert.NoError(t, svc.Connect(context.Background()))
	assert.NoError(t, svc.Publish(nil))
	svc.Disconnect()
}

package broker

import "context"

type noopService struct{}

// NewNoop is used when no broker is configured.
func NewNoop() IService {
	return noopService{}
}

func (noopService) Connect(context.Context) error { return nil }
func (noopService) Publish([]byte) error          { return nil }
func (noopService) Disconnect()                   {}

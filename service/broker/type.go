package broker

import "context"

type IService interface {
	Connect(ctx context.Context) error
	Publish(payload []byte) error
	Disconnect()
}

package webhook

import "sync"

// Recorder keeps posted payloads in memory.
type Recorder struct {
	mu       sync.Mutex
	payloads []map[string]interface{}
}

func NewFake() *Recorder {
	return &Recorder{}
}

func (svc *Recorder) Post(payload map[string]interface{}) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.payloads = append(svc.payloads, payload)
	return nil
}

func (svc *Recorder) Payloads() []map[string]interface{} {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]map[string]interface{}(nil), svc.payloads...)
}

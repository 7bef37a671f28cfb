package webhook

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/service/config"
)

type httpService struct {
	CfgSvc config.IService
	client *http.Client
}

// NewHTTP posts payloads as JSON to the configured webhook URL. Without a
// URL, Post does nothing.
func NewHTTP(cfgsvc config.IService) IService {
	return &httpService{
		CfgSvc: cfgsvc,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (svc *httpService) Post(payload map[string]interface{}) error {
	url := svc.CfgSvc.GetWebhookURL()
	if url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := svc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return xerrors.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return xerrors.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

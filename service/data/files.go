package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/khaledhikmat/people-tpu/model"
	"github.com/khaledhikmat/people-tpu/service/config"
)

type filesDBService struct {
	CfgSvc config.IService
	mu     sync.Mutex
}

// NewFilesDB appends entities as JSON lines to <stats folder>/<kind>.jsonl.
// Without a stats folder every call is a no-op.
func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		customErr.Processor = "N/A"
		customErr.Message = fmt.Sprintf("%v", e)
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	// Create an error object to persist
	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
	return svc.newEntity(errorData, "errors")
}

func (svc *filesDBService) NewPipelineStats(stats model.PipelineStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.newEntity(stats, "pipeline-stats")
}

func (svc *filesDBService) NewAlerterStats(stats model.AlerterStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.newEntity(stats, "alerter-stats")
}

func (svc *filesDBService) newEntity(entity interface{}, kind string) error {
	folder := svc.CfgSvc.GetStatsFolder()
	if folder == "" {
		return nil
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return err
	}

	// Open the file in append mode, create it if it doesn't exist
	file, err := os.OpenFile(filepath.Join(folder, kind+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	_, err = file.Write(append(data, '\n'))
	return errors.Join(err, file.Close())
}

package data

import "github.com/khaledhikmat/people-tpu/model"

type IService interface {
	NewError(err interface{}) error
	NewPipelineStats(stats model.PipelineStats) error
	NewAlerterStats(stats model.AlerterStats) error
}

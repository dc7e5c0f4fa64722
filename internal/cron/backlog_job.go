package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	"github.com/angelmondragon/mediapipe/pkg/logger"
	"github.com/angelmondragon/mediapipe/pkg/metrics"
)

const backlogJobName = "pipeline-backlog"

type BacklogJobParams struct {
	Logger  *logger.Logger
	DB      *gorm.DB
	Counter backlogCounter
	Classes []enums.Class
	Metrics *metrics.PipelineMetrics
}

type backlogCounter interface {
	Backlog(ctx context.Context, db *gorm.DB, class enums.Class) (int64, error)
}

// NewBacklogJob exports the number of eligible uploads per class.
func NewBacklogJob(params BacklogJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Counter == nil {
		return nil, fmt.Errorf("backlog counter required")
	}
	classes := params.Classes
	if len(classes) == 0 {
		classes = enums.AllClasses
	}
	return &backlogJob{
		logg:    params.Logger,
		db:      params.DB,
		counter: params.Counter,
		classes: classes,
		metrics: params.Metrics,
	}, nil
}

type backlogJob struct {
	logg    *logger.Logger
	db      *gorm.DB
	counter backlogCounter
	classes []enums.Class
	metrics *metrics.PipelineMetrics
}

func (j *backlogJob) Name() string { return backlogJobName }

func (j *backlogJob) Run(ctx context.Context) error {
	var errs error
	counts := make(map[string]any, len(j.classes))
	for _, class := range j.classes {
		n, err := j.counter.Backlog(ctx, j.db, class)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		j.metrics.SetBacklog(class.String(), n)
		counts[class.String()] = n
	}
	j.logg.Info(j.logg.WithField(ctx, "backlog", counts), "pipeline backlog measured")
	return errs
}

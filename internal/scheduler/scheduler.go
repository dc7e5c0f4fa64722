// Package scheduler keeps a fixed set of workers per media class driving the
// pipeline coordinator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/mediapipe/internal/pipeline"
	"github.com/angelmondragon/mediapipe/pkg/backoff"
	"github.com/angelmondragon/mediapipe/pkg/config"
	"github.com/angelmondragon/mediapipe/pkg/enums"
	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
	"github.com/angelmondragon/mediapipe/pkg/logger"
	"github.com/angelmondragon/mediapipe/pkg/metrics"
)

type processor interface {
	Process(ctx context.Context, class enums.Class, exclude []uuid.UUID) (pipeline.Result, error)
}

// Alerter is told about items quarantined after repeated failures.
type Alerter interface {
	Alert(ctx context.Context, class enums.Class, id uuid.UUID, err error)
}

type Params struct {
	Processor processor
	Config    config.PipelineConfig
	Logger    *logger.Logger
	Metrics   *metrics.PipelineMetrics
	Alerter   Alerter
}

type Scheduler struct {
	proc      processor
	classes   []enums.Class
	cfg       config.PipelineConfig
	logg      *logger.Logger
	metrics   *metrics.PipelineMetrics
	alerter   Alerter
	tracker   *failureTracker
	idleMin   time.Duration
	idleMax   time.Duration
	transient time.Duration
}

func New(p Params) (*Scheduler, error) {
	if p.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	classes, err := enums.ParseClasses(p.Config.Classes)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		proc:      p.Processor,
		classes:   classes,
		cfg:       p.Config,
		logg:      p.Logger,
		metrics:   p.Metrics,
		alerter:   p.Alerter,
		tracker:   newFailureTracker(p.Config.AlertThreshold),
		idleMin:   p.Config.IdleBackoffMin(),
		idleMax:   p.Config.IdleBackoffMax(),
		transient: p.Config.TransientBackoff(),
	}, nil
}

// Run blocks until ctx is cancelled and every worker has finished its
// current item.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := 0
	for _, class := range s.classes {
		n := s.cfg.Concurrency(class.String())
		for i := 0; i < n; i++ {
			g.Go(func() error {
				return s.worker(gctx, class, i)
			})
		}
		workers += n
	}
	s.logg.Info(s.logg.WithField(ctx, "workers", workers), "media scheduler started")
	err := g.Wait()
	s.logg.Info(ctx, "media scheduler stopped")
	return err
}

func (s *Scheduler) worker(ctx context.Context, class enums.Class, n int) error {
	workerCtx := s.logg.WithWorker(ctx, fmt.Sprintf("%s-%d", class, n))
	var idle time.Duration

	for {
		if ctx.Err() != nil {
			return nil
		}

		// The call itself is not cancelled so its transaction ends cleanly.
		res, err := s.proc.Process(context.WithoutCancel(workerCtx), class, s.tracker.excluded(class))
		if err != nil {
			idle = 0
			s.handleFailure(workerCtx, class, err)
			if backoff.Sleep(ctx, backoff.WithJitter(s.transient)) != nil {
				return nil
			}
			continue
		}

		if res.Processed {
			idle = 0
			s.tracker.clear(res.ItemID)
			continue
		}

		if idle == 0 {
			idle = s.idleMin
		} else {
			idle = backoff.Next(idle, s.idleMin, s.idleMax)
		}
		if backoff.Sleep(ctx, backoff.WithJitter(idle)) != nil {
			return nil
		}
	}
}

func (s *Scheduler) handleFailure(ctx context.Context, class enums.Class, err error) {
	var itemErr *pipeline.ItemError
	if !errors.As(err, &itemErr) {
		s.logg.Error(ctx, "media claim failed", err)
		return
	}

	itemCtx := s.logg.WithItem(ctx, class.String(), itemErr.ItemID.String())
	code := pkgerrors.CodeOf(err)
	itemCtx = s.logg.WithField(itemCtx, "code", string(code))
	s.logg.Error(itemCtx, "media item failed", err)

	if !pkgerrors.MetadataFor(code).Alerting {
		// Any other outcome breaks the streak.
		s.tracker.clear(itemErr.ItemID)
		return
	}
	count, alert := s.tracker.record(class, itemErr.ItemID)
	if !alert {
		return
	}
	s.logg.Error(s.logg.WithField(itemCtx, "failures", count), "media item quarantined", err)
	s.metrics.IncAlert(class.String())
	if s.alerter != nil {
		s.alerter.Alert(itemCtx, class, itemErr.ItemID, err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/mediapipe/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(context.Context) error
}

type waiter interface {
	Wait()
}

type ServiceParams struct {
	Logger    *logger.Logger
	DB        pinger
	Scheduler runner
	// Cron, Uploads, HTTP and Notifier are optional.
	Cron     runner
	Uploads  runner
	HTTP     *http.Server
	Notifier waiter
}

// Service runs the worker's long-lived components until shutdown.
type Service struct {
	logg      *logger.Logger
	db        pinger
	scheduler runner
	cron      runner
	uploads   runner
	http      *http.Server
	notifier  waiter
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	return &Service{
		logg:      params.Logger,
		db:        params.DB,
		scheduler: params.Scheduler,
		cron:      params.Cron,
		uploads:   params.Uploads,
		http:      params.HTTP,
		notifier:  params.Notifier,
	}, nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is cancelled or a component fails. Pending ready
// signals are flushed before it returns.
func (s *Service) Run(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	s.start(g, gctx, "scheduler", s.scheduler)
	if s.cron != nil {
		s.start(g, gctx, "cron", s.cron)
	}
	if s.uploads != nil {
		s.start(g, gctx, "uploads consumer", s.uploads)
	}
	if s.http != nil {
		g.Go(func() error {
			s.logg.Info(s.logg.WithField(gctx, "addr", s.http.Addr), "ops server listening")
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return s.http.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if s.notifier != nil {
		s.notifier.Wait()
	}
	return err
}

func (s *Service) start(g *errgroup.Group, ctx context.Context, name string, r runner) {
	g.Go(func() error {
		err := r.Run(ctx)
		if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
			return nil
		}
		if err == nil {
			return fmt.Errorf("%s exited unexpectedly", name)
		}
		return fmt.Errorf("%s: %w", name, err)
	})
}

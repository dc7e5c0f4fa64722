// Package pipeline runs one claim-to-commit cycle for a media class.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mediapipe/internal/claim"
	"github.com/angelmondragon/mediapipe/internal/derive"
	"github.com/angelmondragon/mediapipe/internal/notify"
	"github.com/angelmondragon/mediapipe/pkg/enums"
	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
	"github.com/angelmondragon/mediapipe/pkg/logger"
	"github.com/angelmondragon/mediapipe/pkg/metrics"
)

// Outcome is the terminal state committed for a claimed item.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeInvalidMedia    Outcome = "invalid_media"
	OutcomeMissingOriginal Outcome = "missing_original"
)

const missingOriginalMsg = "bytes recorded as uploaded but storage is empty; uploader contract violated"

// Result reports what a Process call did. Processed is false only when no
// eligible item existed.
type Result struct {
	Processed bool
	ItemID    uuid.UUID
	Outcome   Outcome
}

// ItemError is returned when a claimed item failed and its transaction was
// rolled back.
type ItemError struct {
	Class  enums.Class
	ItemID uuid.UUID
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Class, e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type claimer interface {
	Claim(ctx context.Context, tx *gorm.DB, class enums.Class, exclude []uuid.UUID) (*claim.Item, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, class enums.Class, id uuid.UUID, success bool, at time.Time) error
}

type objectStore interface {
	DownloadOriginal(ctx context.Context, library enums.Library, id uuid.UUID, kind enums.FileKind) ([]byte, bool, error)
	UploadDerivatives(ctx context.Context, library enums.Library, id uuid.UUID, resized, thumbnail []byte) error
	CopyProcessed(ctx context.Context, library enums.Library, id uuid.UUID, kind enums.FileKind) error
}

type engine interface {
	DeriveImage(ctx context.Context, data []byte, kind enums.ImageKind) (derive.Derivatives, error)
	ValidateGif(ctx context.Context, data []byte) error
}

// Params wires a Coordinator.
type Params struct {
	DB       txRunner
	Claimer  claimer
	Store    objectStore
	Engine   engine
	Notifier notify.Notifier
	Logger   *logger.Logger
	Metrics  *metrics.PipelineMetrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator processes at most one item per Process call.
type Coordinator struct {
	db       txRunner
	claimer  claimer
	store    objectStore
	engine   engine
	notifier notify.Notifier
	logg     *logger.Logger
	metrics  *metrics.PipelineMetrics
	now      func() time.Time
}

func NewCoordinator(p Params) (*Coordinator, error) {
	if p.DB == nil {
		return nil, errors.New("db required")
	}
	if p.Claimer == nil {
		return nil, errors.New("claimer required")
	}
	if p.Store == nil {
		return nil, errors.New("object store required")
	}
	if p.Engine == nil {
		return nil, errors.New("decode engine required")
	}
	if p.Notifier == nil {
		return nil, errors.New("notifier required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		db:       p.DB,
		claimer:  p.Claimer,
		store:    p.Store,
		engine:   p.Engine,
		notifier: p.Notifier,
		logg:     p.Logger,
		metrics:  p.Metrics,
		now:      now,
	}, nil
}

type committed struct {
	item        *claim.Item
	outcome     Outcome
	processedAt time.Time
}

// Process claims one eligible item of class, skipping exclude, and drives it
// to a terminal state inside a single transaction.
func (c *Coordinator) Process(ctx context.Context, class enums.Class, exclude []uuid.UUID) (Result, error) {
	desc, ok := DescriptorFor(class)
	if !ok {
		return Result{}, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("no pipeline for class %q", class))
	}

	start := time.Now()
	var done *committed
	var claimedID uuid.UUID

	err := c.db.WithTx(ctx, func(tx *gorm.DB) error {
		item, err := c.claimer.Claim(ctx, tx, class, exclude)
		if err != nil {
			return err
		}
		if item == nil {
			return nil
		}
		claimedID = item.ID

		outcome, at, err := c.processItem(c.logg.WithItem(ctx, class.String(), item.ID.String()), tx, desc, item)
		if err != nil {
			return &ItemError{Class: class, ItemID: item.ID, Err: err}
		}
		done = &committed{item: item, outcome: outcome, processedAt: at}
		return nil
	})
	if err != nil {
		err = classifyTxError(class, claimedID, err)
		c.metrics.IncFailure(class.String(), string(pkgerrors.CodeOf(err)))
		return Result{ItemID: claimedID}, err
	}
	if done == nil {
		c.metrics.IncIdle(class.String())
		return Result{}, nil
	}

	c.metrics.IncProcessed(class.String(), string(done.outcome))
	c.metrics.ObserveDuration(class.String(), time.Since(start))

	itemCtx := c.logg.WithItem(ctx, class.String(), done.item.ID.String())
	itemCtx = c.logg.WithFields(itemCtx, map[string]any{
		"outcome":      string(done.outcome),
		"processed_at": done.processedAt,
	})
	c.logg.Info(itemCtx, "media item processed")

	if desc.SignalReady {
		sig := notify.Signal{
			Library:     desc.Library(),
			Class:       class,
			ItemID:      done.item.ID,
			Success:     done.outcome == OutcomeSucceeded,
			ProcessedAt: done.processedAt,
		}
		if err := c.notifier.SignalReady(itemCtx, sig); err != nil {
			c.logg.Error(itemCtx, "ready signal failed", err)
		}
	}

	return Result{Processed: true, ItemID: done.item.ID, Outcome: done.outcome}, nil
}

// classifyTxError types the begin and commit failures the store returns
// untyped. They count against the claimed item when there is one.
func classifyTxError(class enums.Class, claimedID uuid.UUID, err error) error {
	var itemErr *ItemError
	if errors.As(err, &itemErr) || pkgerrors.As(err) != nil {
		return err
	}
	wrapped := pkgerrors.Wrap(pkgerrors.CodeTransient, err, "media transaction failed")
	if claimedID == uuid.Nil {
		return wrapped
	}
	return &ItemError{Class: class, ItemID: claimedID, Err: wrapped}
}

func (c *Coordinator) processItem(ctx context.Context, tx *gorm.DB, desc Descriptor, item *claim.Item) (Outcome, time.Time, error) {
	plan, err := desc.Plan(item.Kind)
	if err != nil {
		return "", time.Time{}, err
	}
	library := desc.Library()

	data, found, err := c.store.DownloadOriginal(ctx, library, item.ID, plan.Source)
	if err != nil {
		return "", time.Time{}, err
	}
	if !found {
		c.logg.Warn(ctx, missingOriginalMsg)
		at, err := c.finish(ctx, tx, item, false)
		return OutcomeMissingOriginal, at, err
	}

	var derived derive.Derivatives
	switch plan.Job {
	case JobDeriveImage:
		derived, err = c.engine.DeriveImage(ctx, data, plan.ImageKind)
	case JobValidateGif:
		err = c.engine.ValidateGif(ctx, data)
	case JobPassThrough:
		if plan.Expect != "" && !derive.SniffMatches(data, plan.Expect) {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"expected_mime": plan.Expect,
				"detected_mime": derive.Sniff(data),
			}), "pass-through bytes do not match their media kind")
		}
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeInvalidMedia) {
		c.logg.Info(c.logg.WithField(ctx, "reason", err.Error()), "media rejected as invalid")
		at, err := c.finish(ctx, tx, item, false)
		return OutcomeInvalidMedia, at, err
	}
	if err != nil {
		return "", time.Time{}, err
	}

	switch plan.Persist {
	case PersistDerivatives:
		err = c.store.UploadDerivatives(ctx, library, item.ID, derived.Resized, derived.Thumbnail)
	case PersistCopy:
		err = c.store.CopyProcessed(ctx, library, item.ID, plan.Source)
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		// Downloaded moments ago; treat the disappearance as a retryable race.
		return "", time.Time{}, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "original vanished during processing")
	}
	if err != nil {
		return "", time.Time{}, err
	}

	at, err := c.finish(ctx, tx, item, true)
	return OutcomeSucceeded, at, err
}

// finish records the outcome. processed_at never precedes uploaded_at so a
// skewed clock cannot leave a finished row eligible.
func (c *Coordinator) finish(ctx context.Context, tx *gorm.DB, item *claim.Item, success bool) (time.Time, error) {
	at := c.now().UTC()
	if at.Before(item.UploadedAt) {
		at = item.UploadedAt.UTC()
	}
	if err := c.claimer.MarkProcessed(ctx, tx, item.Class, item.ID, success, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

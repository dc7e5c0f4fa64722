package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/mediapipe/pkg/backoff"
	"github.com/angelmondragon/mediapipe/pkg/idempotency"
	"github.com/angelmondragon/mediapipe/pkg/logger"
)

const publishTimeout = 30 * time.Second

type retryPolicy struct {
	attempts int
	min      time.Duration
	max      time.Duration
}

var defaultRetry = retryPolicy{attempts: 4, min: 500 * time.Millisecond, max: 8 * time.Second}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type deduper interface {
	CheckAndMark(ctx context.Context, scope, key string) (bool, error)
	Delete(ctx context.Context, scope, key string) error
}

type message struct {
	Library     string    `json:"library"`
	Class       string    `json:"class"`
	ID          string    `json:"id"`
	Success     bool      `json:"success"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PubSubNotifier publishes ready signals to a topic. Publishing is
// asynchronous; a background waiter retries failed publishes and logs the
// final failure.
//
// With a deduper, a generation stays marked only while a publish for it is
// pending or has succeeded, so retries and concurrent senders never publish
// the same generation twice.
type PubSubNotifier struct {
	pub   publisher
	dedup deduper
	logg  *logger.Logger
	retry retryPolicy
	wg    sync.WaitGroup
}

// NewPubSubNotifier wraps a v2 publisher. dedup may be nil.
func NewPubSubNotifier(pub *gcppubsub.Publisher, dedup *idempotency.Manager, logg *logger.Logger) (*PubSubNotifier, error) {
	if pub == nil {
		return nil, errors.New("pubsub publisher required")
	}
	n := &PubSubNotifier{pub: &gcpPublisher{Publisher: pub}, logg: logg, retry: defaultRetry}
	if dedup != nil {
		n.dedup = dedup
	}
	return n, nil
}

func (n *PubSubNotifier) SignalReady(ctx context.Context, sig Signal) error {
	if n.isDuplicate(ctx, sig) {
		return nil
	}

	body, err := json.Marshal(message{
		Library:     sig.Library.String(),
		Class:       sig.Class.String(),
		ID:          sig.ItemID.String(),
		Success:     sig.Success,
		ProcessedAt: sig.ProcessedAt.UTC(),
	})
	if err != nil {
		n.release(ctx, sig)
		return fmt.Errorf("encode ready signal: %w", err)
	}

	result := n.pub.Publish(ctx, readyMessage(sig, body))
	if result == nil {
		n.release(ctx, sig)
		return errors.New("publisher returned no result")
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		n.await(waitCtx, sig, body, result)
	}()
	return nil
}

// await observes a publish result and republishes on failure until the
// retry budget runs out.
func (n *PubSubNotifier) await(ctx context.Context, sig Signal, body []byte, result publishResult) {
	policy := n.policy()
	var delay time.Duration
	for attempt := 1; ; attempt++ {
		_, err := result.Get(ctx)
		if err == nil {
			return
		}
		// A failed publish must not keep the generation marked as delivered.
		n.release(ctx, sig)

		if attempt >= policy.attempts {
			n.logError(ctx, "ready signal publish failed", err)
			return
		}
		if delay == 0 {
			delay = policy.min
		} else {
			delay = backoff.Next(delay, policy.min, policy.max)
		}
		if n.logg != nil {
			n.logg.Warn(n.logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			}), "ready signal publish retrying")
		}
		if err := backoff.Sleep(ctx, backoff.WithJitter(delay)); err != nil {
			n.logError(ctx, "ready signal publish failed", err)
			return
		}
		if n.isDuplicate(ctx, sig) {
			return
		}
		result = n.pub.Publish(ctx, readyMessage(sig, body))
		if result == nil {
			n.release(ctx, sig)
			n.logError(ctx, "ready signal publish failed", errors.New("publisher returned no result"))
			return
		}
	}
}

func (n *PubSubNotifier) policy() retryPolicy {
	if n.retry.attempts <= 0 {
		return defaultRetry
	}
	return n.retry
}

func readyMessage(sig Signal, body []byte) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"library": sig.Library.String(),
			"class":   sig.Class.String(),
			"id":      sig.ItemID.String(),
			"success": strconv.FormatBool(sig.Success),
		},
	}
}

// isDuplicate reports whether this generation was already signalled. Redis
// errors count as not seen so the signal still goes out.
func (n *PubSubNotifier) isDuplicate(ctx context.Context, sig Signal) bool {
	if n.dedup == nil {
		return false
	}
	dup, err := n.dedup.CheckAndMark(ctx,
		idempotency.ReadyScope(sig.Library.String()),
		idempotency.Generation(sig.ItemID.String(), sig.ProcessedAt))
	if err != nil {
		if n.logg != nil {
			n.logg.Warn(n.logg.WithField(ctx, "error", err.Error()), "ready signal dedupe unavailable")
		}
		return false
	}
	return dup
}

// release clears the delivery mark of a generation.
func (n *PubSubNotifier) release(ctx context.Context, sig Signal) {
	if n.dedup == nil {
		return
	}
	err := n.dedup.Delete(ctx,
		idempotency.ReadyScope(sig.Library.String()),
		idempotency.Generation(sig.ItemID.String(), sig.ProcessedAt))
	if err != nil && n.logg != nil {
		n.logg.Warn(n.logg.WithField(ctx, "error", err.Error()), "ready signal mark not cleared")
	}
}

func (n *PubSubNotifier) logError(ctx context.Context, msg string, err error) {
	if n.logg != nil {
		n.logg.Error(ctx, msg, err)
	}
}

// Wait blocks until every pending publish result has been observed.
func (n *PubSubNotifier) Wait() {
	n.wg.Wait()
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

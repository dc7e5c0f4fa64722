// Package notify tells downstream observers that a media item reached a
// terminal processing state.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	"github.com/angelmondragon/mediapipe/pkg/logger"
)

// Signal describes one terminal transition.
type Signal struct {
	Library     enums.Library
	Class       enums.Class
	ItemID      uuid.UUID
	Success     bool
	ProcessedAt time.Time
}

// Notifier delivers ready signals. Callers log failures and move on.
type Notifier interface {
	SignalReady(ctx context.Context, sig Signal) error
}

// LogNotifier only records the signal in the log.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) SignalReady(ctx context.Context, sig Signal) error {
	if n.logg == nil {
		return nil
	}
	ctx = n.logg.WithFields(ctx, map[string]any{
		"library": sig.Library.String(),
		"success": sig.Success,
	})
	n.logg.Info(ctx, "ready signal (no topic configured)")
	return nil
}

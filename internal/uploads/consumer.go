// Package uploads records uploaded_at from storage OBJECT_FINALIZE
// notifications so new originals become eligible for processing.
package uploads

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mediapipe/pkg/db"
	"github.com/angelmondragon/mediapipe/pkg/enums"
	"github.com/angelmondragon/mediapipe/pkg/logger"
	"github.com/angelmondragon/mediapipe/pkg/storage"
)

const (
	objectFinalizeEvent  = "OBJECT_FINALIZE"
	payloadFormatJSONAPI = "JSON_API_V1"
)

type repository interface {
	MarkUploaded(ctx context.Context, class enums.Class, id uuid.UUID) (time.Time, error)
}

// Consumer processes GCS OBJECT_FINALIZE notifications from Pub/Sub.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	layout       storage.Layout
	logg         *logger.Logger
}

// NewConsumer constructs a consumer that watches the provided subscription.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, layout storage.Layout, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, errors.New("upload repository is required")
	}
	if subscription == nil {
		return nil, errors.New("uploads subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		layout:       layout,
		logg:         logg,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	attrs := parseAttributes(msg.Attributes)
	logCtx := c.logg.WithFields(ctx, buildLogFields(msg.ID, attrs, nil))
	if attrs.EventType != objectFinalizeEvent {
		c.logg.Debug(logCtx, "skipping non-finalize event")
		return processResult{ack: true}
	}
	if attrs.PayloadFormat != payloadFormatJSONAPI {
		c.logg.Warn(logCtx, "unsupported payload format")
		return processResult{ack: true}
	}

	payload, err := decodePayload(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return processResult{ack: true}
	}

	var obj objectPayload
	if err := json.Unmarshal(payload, &obj); err != nil {
		fields := buildLogFields(msg.ID, attrs, nil)
		fields["payload_preview"] = previewBytes(payload, 800)
		fields["payload_len"] = len(payload)
		c.logg.Error(c.logg.WithFields(ctx, fields), "failed to unmarshal payload", err)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(ctx, buildLogFields(msg.ID, attrs, &obj))
	if strings.TrimSpace(obj.Name) == "" {
		c.logg.Error(logCtx, "payload missing object name", fmt.Errorf("empty name"))
		return processResult{ack: true}
	}
	if attrs.ObjectID != "" && attrs.ObjectID != obj.Name {
		c.logg.Warn(logCtx, "attribute object_id differs from payload name")
	}

	key, inUploads, err := c.layout.ParseUploadKey(obj.Name)
	if err != nil {
		c.logg.Debug(c.logg.WithField(logCtx, "reason", err.Error()), "object outside media key grammar")
		return processResult{ack: true}
	}
	if !inUploads {
		return processResult{ack: true}
	}
	class, ok := ClassForKey(key)
	if !ok {
		return processResult{ack: true}
	}

	logCtx = c.logg.WithItem(logCtx, class.String(), key.ID.String())
	at, err := c.repo.MarkUploaded(logCtx, class, key.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logg.Warn(logCtx, "upload row not found")
			return processResult{ack: true}
		}
		return c.handleDBError(logCtx, err)
	}

	c.logg.Info(c.logg.WithField(logCtx, "uploaded_at", at), "media marked as uploaded")
	return processResult{ack: true}
}

func (c *Consumer) handleDBError(ctx context.Context, err error) processResult {
	c.logg.Error(ctx, "upload persistence error", err)
	if db.IsTransient(err) {
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func buildLogFields(messageID string, attrs objectAttributes, payload *objectPayload) map[string]any {
	fields := map[string]any{
		"message_id": messageID,
		"event_type": attrs.EventType,
		"bucket":     firstNonEmpty(attrs.BucketID, payloadBucket(payload)),
	}
	if payload != nil {
		fields["object_key"] = payload.Name
	}
	return fields
}

func payloadBucket(p *objectPayload) string {
	if p == nil {
		return ""
	}
	return p.Bucket
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseAttributes(attrs map[string]string) objectAttributes {
	return objectAttributes{
		EventType:     attrs["eventType"],
		BucketID:      attrs["bucketId"],
		ObjectID:      attrs["objectId"],
		PayloadFormat: attrs["payloadFormat"],
	}
}

type objectAttributes struct {
	EventType     string
	BucketID      string
	ObjectID      string
	PayloadFormat string
}

type objectPayload struct {
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Generation  string `json:"generation"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

func decodePayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("payload empty")
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		return decoded, nil
	}
	return data, nil
}

func previewBytes(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "...(truncated)"
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	"github.com/angelmondragon/mediapipe/pkg/idempotency"
	"github.com/angelmondragon/mediapipe/pkg/logger"
)

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return "id", r.err }

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*gcppubsub.Message
	err  error
	// failFirst makes only the first n publishes fail.
	failFirst int
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	if p.failFirst > 0 {
		if len(p.msgs) <= p.failFirst {
			return fakeResult{err: errors.New("publish deadline exceeded")}
		}
		return fakeResult{}
	}
	return fakeResult{err: p.err}
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fakeDeduper struct {
	mu      sync.Mutex
	seen    map[string]bool
	deletes int
	err     error
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: map[string]bool{}}
}

func (d *fakeDeduper) CheckAndMark(_ context.Context, scope, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	k := scope + "|" + key
	if d.seen[k] {
		return true, nil
	}
	d.seen[k] = true
	return false, nil
}

func (d *fakeDeduper) Delete(_ context.Context, scope, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.deletes++
	delete(d.seen, scope+"|"+key)
	return nil
}

func (d *fakeDeduper) deleted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deletes
}

func (d *fakeDeduper) marked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

var fastRetry = retryPolicy{attempts: 3, min: time.Millisecond, max: 2 * time.Millisecond}

func testSignal() Signal {
	return Signal{
		Library:     enums.LibraryGlobal,
		Class:       enums.ClassGlobalImage,
		ItemID:      uuid.MustParse("0b9d8f5e-3f1e-4a4e-9a55-2a3f7c1d0e11"),
		Success:     true,
		ProcessedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSignalReadyPublishesMessage(t *testing.T) {
	pub := &fakePublisher{}
	n := &PubSubNotifier{pub: pub}

	require.NoError(t, n.SignalReady(context.Background(), testSignal()))
	n.Wait()

	require.Equal(t, 1, pub.count())
	msg := pub.msgs[0]
	assert.Equal(t, "global", msg.Attributes["library"])
	assert.Equal(t, "true", msg.Attributes["success"])

	var body message
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "global_image", body.Class)
	assert.Equal(t, "0b9d8f5e-3f1e-4a4e-9a55-2a3f7c1d0e11", body.ID)
	assert.True(t, body.ProcessedAt.Equal(testSignal().ProcessedAt))
}

func TestSignalReadyDedupesSameGeneration(t *testing.T) {
	pub := &fakePublisher{}
	n := &PubSubNotifier{pub: pub, dedup: newFakeDeduper()}
	ctx := context.Background()

	sig := testSignal()
	require.NoError(t, n.SignalReady(ctx, sig))
	require.NoError(t, n.SignalReady(ctx, sig))
	sig.ProcessedAt = sig.ProcessedAt.Add(time.Minute)
	require.NoError(t, n.SignalReady(ctx, sig))
	n.Wait()

	assert.Equal(t, 2, pub.count())
}

func TestSignalReadySendsWhenDedupeFails(t *testing.T) {
	pub := &fakePublisher{}
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("info"), Output: &out})
	n := &PubSubNotifier{pub: pub, dedup: &fakeDeduper{err: errors.New("redis down")}, logg: logg}

	require.NoError(t, n.SignalReady(context.Background(), testSignal()))
	n.Wait()
	assert.Equal(t, 1, pub.count())
	assert.Contains(t, out.String(), "ready signal dedupe unavailable")
}

func TestPublishFailureIsLoggedNotReturned(t *testing.T) {
	pub := &fakePublisher{err: errors.New("topic gone")}
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("info"), Output: &out})
	n := &PubSubNotifier{pub: pub, logg: logg, retry: fastRetry}

	require.NoError(t, n.SignalReady(context.Background(), testSignal()))
	n.Wait()
	assert.Equal(t, 3, pub.count())
	assert.Contains(t, out.String(), "ready signal publish retrying")
	assert.Contains(t, out.String(), "ready signal publish failed")
	assert.Contains(t, out.String(), "topic gone")
}

func TestFailedPublishIsRetriedAndMarkedOnce(t *testing.T) {
	pub := &fakePublisher{failFirst: 1}
	dedup := newFakeDeduper()
	n := &PubSubNotifier{pub: pub, dedup: dedup, retry: fastRetry}
	ctx := context.Background()

	require.NoError(t, n.SignalReady(ctx, testSignal()))
	n.Wait()
	assert.Equal(t, 2, pub.count())
	assert.Equal(t, 1, dedup.deleted())
	assert.Equal(t, 1, dedup.marked())

	// The delivered generation stays marked.
	require.NoError(t, n.SignalReady(ctx, testSignal()))
	n.Wait()
	assert.Equal(t, 2, pub.count())
}

func TestExhaustedPublishReleasesMark(t *testing.T) {
	pub := &fakePublisher{err: errors.New("topic gone")}
	dedup := newFakeDeduper()
	n := &PubSubNotifier{pub: pub, dedup: dedup, retry: fastRetry}
	ctx := context.Background()

	require.NoError(t, n.SignalReady(ctx, testSignal()))
	n.Wait()
	assert.Equal(t, 3, pub.count())
	assert.Zero(t, dedup.marked())

	require.NoError(t, n.SignalReady(ctx, testSignal()))
	n.Wait()
	assert.Equal(t, 6, pub.count(), "an undelivered generation can be signalled again")
}

func TestRetrySkipsGenerationClaimedElsewhere(t *testing.T) {
	pub := &fakePublisher{failFirst: 1}
	dedup := newFakeDeduper()
	n := &PubSubNotifier{pub: pub, dedup: dedup, retry: retryPolicy{attempts: 3, min: 50 * time.Millisecond, max: 50 * time.Millisecond}}
	ctx := context.Background()
	sig := testSignal()

	require.NoError(t, n.SignalReady(ctx, sig))
	require.Eventually(t, func() bool { return dedup.deleted() == 1 }, time.Second, time.Millisecond)
	// Another sender delivers the generation while this one backs off.
	dup, err := dedup.CheckAndMark(ctx,
		idempotency.ReadyScope(sig.Library.String()),
		idempotency.Generation(sig.ItemID.String(), sig.ProcessedAt))
	require.NoError(t, err)
	require.False(t, dup)
	n.Wait()

	assert.Equal(t, 1, pub.count())
}

func TestLogNotifier(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("info"), Output: &out})
	require.NoError(t, NewLogNotifier(logg).SignalReady(context.Background(), testSignal()))
	assert.Contains(t, out.String(), "ready signal")
	require.NoError(t, NewLogNotifier(nil).SignalReady(context.Background(), testSignal()))
}

func TestNewPubSubNotifierRequiresPublisher(t *testing.T) {
	_, err := NewPubSubNotifier(nil, nil, nil)
	require.Error(t, err)
}

func TestPubSubNotifierAgainstFakeServer(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := gcppubsub.NewClient(ctx, "media-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic := "projects/media-test/topics/media-ready"
	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
	require.NoError(t, err)

	pub := client.Publisher(topic)
	t.Cleanup(pub.Stop)

	n, err := NewPubSubNotifier(pub, nil, nil)
	require.NoError(t, err)
	require.NoError(t, n.SignalReady(ctx, testSignal()))
	n.Wait()

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "global_image", msgs[0].Attributes["class"])

	var body message
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.True(t, body.Success)
}

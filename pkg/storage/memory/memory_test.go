package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/angelmondragon/mediapipe/pkg/storage"
)

func TestStoreCopyAndCounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Put(ctx, "a", strings.NewReader("hello"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Copy(ctx, "a", "b"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := s.Copy(ctx, "a", "a"); err != nil {
		t.Fatalf("self copy: %v", err)
	}
	if got := s.PutCount("a"); got != 1 {
		t.Fatalf("self copy must not count as a write, got %d", got)
	}
	data, ok := s.Bytes("b")
	if !ok || string(data) != "hello" {
		t.Fatalf("unexpected copy %q ok=%v", data, ok)
	}
	if s.ContentType("b") != "text/plain" {
		t.Fatalf("content type not carried over")
	}

	rc, err := s.Open(ctx, "b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	if b, _ := io.ReadAll(rc); string(b) != "hello" {
		t.Fatalf("unexpected read %q", b)
	}

	if err := s.Copy(ctx, "missing", "c"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if keys := s.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()
	if err := s.Put(ctx, "a", strings.NewReader("x"), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

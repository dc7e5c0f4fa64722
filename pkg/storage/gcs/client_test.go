package gcs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/angelmondragon/mediapipe/pkg/storage"
)

// fakeGCS implements the subset of the JSON API the client uses.
type fakeGCS struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	types   map[string]string
	auth    []string
}

func newFakeGCS(bucket string) *fakeGCS {
	return &fakeGCS{bucket: bucket, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeGCS) object(name string) ([]byte, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[name], f.types[name]
}

func (f *fakeGCS) seed(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = data
}

func (f *fakeGCS) authHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.auth...)
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	path := r.URL.EscapedPath()
	uploadPrefix := "/upload/storage/v1/b/" + f.bucket + "/o"
	objectPrefix := "/storage/v1/b/" + f.bucket + "/o"

	switch {
	case r.Method == http.MethodPost && path == uploadPrefix:
		name := r.URL.Query().Get("name")
		data, _ := io.ReadAll(r.Body)
		f.objects[name] = data
		f.types[name] = r.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode(map[string]string{"name": name})
	case r.Method == http.MethodGet && path == objectPrefix:
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	case strings.HasPrefix(path, objectPrefix+"/"):
		rest := strings.TrimPrefix(path, objectPrefix+"/")
		if src, dst, ok := strings.Cut(rest, "/copyTo/b/"+f.bucket+"/o/"); ok && r.Method == http.MethodPost {
			srcName, _ := url.PathUnescape(src)
			dstName, _ := url.PathUnescape(dst)
			data, found := f.objects[srcName]
			if !found {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			f.objects[dstName] = append([]byte(nil), data...)
			f.types[dstName] = f.types[srcName]
			_ = json.NewEncoder(w).Encode(map[string]string{"name": dstName})
			return
		}
		name, _ := url.PathUnescape(rest)
		data, found := f.objects[name]
		switch r.Method {
		case http.MethodGet:
			if !found {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if r.URL.Query().Get("alt") == "media" {
				_, _ = w.Write(data)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"name": name, "size": len(data)})
		case http.MethodDelete:
			if !found {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.objects, name)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeGCS) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return newClient(srv.Client(), fake.bucket, srv.URL, newStaticTokenSource("test-token"))
}

func TestClientObjectLifecycle(t *testing.T) {
	t.Parallel()

	fake := newFakeGCS("media")
	client := newTestClient(t, fake)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := "user/0b9a3e4c-6f0e-4e0a-9d7a-3a5b2c1d0e9f/audio.mp3"
	if err := client.Put(ctx, key, strings.NewReader("ID3..."), "audio/mpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ct := fake.object(key); ct != "audio/mpeg" {
		t.Fatalf("content type not forwarded: %q", ct)
	}

	ok, err := client.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}

	rc, err := client.Open(ctx, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "ID3..." {
		t.Fatalf("unexpected body %q", data)
	}

	dst := "processed/" + key
	if err := client.Copy(ctx, key, dst); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if copied, _ := fake.object(dst); string(copied) != "ID3..." {
		t.Fatalf("copy did not land at %s", dst)
	}

	if err := client.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := client.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := client.Open(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, header := range fake.authHeaders() {
		if header != "Bearer test-token" {
			t.Fatalf("unexpected auth header %q", header)
		}
	}
}

func TestClientSelfCopyOnlyChecksExistence(t *testing.T) {
	t.Parallel()

	fake := newFakeGCS("media")
	client := newTestClient(t, fake)
	ctx := context.Background()

	key := "global/0b9a3e4c-6f0e-4e0a-9d7a-3a5b2c1d0e9f/animation.gif"
	if err := client.Copy(ctx, key, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing self copy, got %v", err)
	}
	fake.seed(key, []byte("GIF89a"))
	before := len(fake.authHeaders())
	if err := client.Copy(ctx, key, key); err != nil {
		t.Fatalf("self copy: %v", err)
	}
	if got := len(fake.authHeaders()) - before; got != 1 {
		t.Fatalf("expected a single stat request, got %d", got)
	}
}

func TestClientCopyMissingSource(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, newFakeGCS("media"))
	err := client.Copy(context.Background(), "user/a/document.pdf", "user/b/document.pdf")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend exploded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	client := newClient(srv.Client(), "media", srv.URL, newStaticTokenSource("t"))

	_, err := client.Open(context.Background(), "global/x/original.png")
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "backend exploded") {
		t.Fatalf("expected body in error, got %v", err)
	}
}

func TestParsePrivateKeyFormats(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if _, err := parsePrivateKey(string(pkcs1)); err != nil {
		t.Fatalf("pkcs1: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if _, err := parsePrivateKey(string(pkcs8)); err != nil {
		t.Fatalf("pkcs8: %v", err)
	}
	if _, err := parsePrivateKey("not pem"); err == nil {
		t.Fatal("expected invalid pem to fail")
	}
}

func TestServiceAccountTokenSourceRejectsIncompleteCredentials(t *testing.T) {
	t.Parallel()

	if _, err := newServiceAccountTokenSource(http.DefaultClient, `{"client_email":""}`); err == nil {
		t.Fatal("expected missing key to fail")
	}
	if _, err := newServiceAccountTokenSource(http.DefaultClient, `not json`); err == nil {
		t.Fatal("expected bad json to fail")
	}
}

// Package objectstore moves media bytes between the pipeline and the object store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
	"github.com/angelmondragon/mediapipe/pkg/storage"
)

// Gateway addresses objects by (library, id, file-kind) and applies per-operation deadlines.
type Gateway struct {
	provider        storage.Provider
	layout          storage.Layout
	downloadTimeout time.Duration
	uploadTimeout   time.Duration
}

// NewGateway builds a gateway over provider.
func NewGateway(provider storage.Provider, layout storage.Layout, downloadTimeout, uploadTimeout time.Duration) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("storage provider required")
	}
	if downloadTimeout <= 0 {
		return nil, fmt.Errorf("download timeout must be positive")
	}
	if uploadTimeout <= 0 {
		return nil, fmt.Errorf("upload timeout must be positive")
	}
	return &Gateway{
		provider:        provider,
		layout:          layout,
		downloadTimeout: downloadTimeout,
		uploadTimeout:   uploadTimeout,
	}, nil
}

// DownloadOriginal fetches the uploaded object. The bool is false when nothing is stored.
func (g *Gateway) DownloadOriginal(ctx context.Context, library enums.Library, id uuid.UUID, kind enums.FileKind) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.downloadTimeout)
	defer cancel()

	key := g.layout.UploadKey(library, id, kind)
	rc, err := g.provider.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("download %s", key))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("read %s", key))
	}
	return data, true, nil
}

// UploadDerivatives writes the resized and thumbnail variants and then makes
// sure the original sits at its processed location.
func (g *Gateway) UploadDerivatives(ctx context.Context, library enums.Library, id uuid.UUID, resized, thumbnail []byte) error {
	if err := g.UploadBlob(ctx, library, id, enums.FileKindResizedPng, resized); err != nil {
		return err
	}
	if err := g.UploadBlob(ctx, library, id, enums.FileKindThumbnailPng, thumbnail); err != nil {
		return err
	}
	return g.CopyProcessed(ctx, library, id, enums.FileKindOriginalPng)
}

// UploadBlob writes data to the processed key of kind.
func (g *Gateway) UploadBlob(ctx context.Context, library enums.Library, id uuid.UUID, kind enums.FileKind, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, g.uploadTimeout)
	defer cancel()

	key := g.layout.ProcessedKey(library, id, kind)
	if err := g.provider.Put(ctx, key, bytes.NewReader(data), ContentType(kind, data)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("upload %s", key))
	}
	return nil
}

// CopyProcessed moves the uploaded object of kind to its processed key. When
// both keys are the same only presence is checked.
func (g *Gateway) CopyProcessed(ctx context.Context, library enums.Library, id uuid.UUID, kind enums.FileKind) error {
	ctx, cancel := context.WithTimeout(ctx, g.uploadTimeout)
	defer cancel()

	src := g.layout.UploadKey(library, id, kind)
	dst := g.layout.ProcessedKey(library, id, kind)
	err := g.provider.Copy(ctx, src, dst)
	if errors.Is(err, storage.ErrNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("copy %s", src))
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("copy %s to %s", src, dst))
	}
	return nil
}

// ContentType sniffs data and falls back to the canonical type of kind when
// the bytes are not recognised.
func ContentType(kind enums.FileKind, data []byte) string {
	detected := mimetype.Detect(data)
	if detected.Is("application/octet-stream") || detected.Is("text/plain") {
		return kind.ContentType()
	}
	return detected.String()
}

package storage

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	"github.com/google/uuid"
)

// Key addresses one stored object: {library}/{id}/{file-name}.
type Key struct {
	Library  enums.Library
	ID       uuid.UUID
	FileKind enums.FileKind
}

// String renders the key using the object key grammar.
func (k Key) String() string {
	return BuildKey(k.Library, k.ID, k.FileKind)
}

// BuildKey renders {library}/{uuid}/{file-name}.
func BuildKey(library enums.Library, id uuid.UUID, kind enums.FileKind) string {
	return fmt.Sprintf("%s/%s/%s", library, id, kind.FileName())
}

// ParseKey parses a key produced by BuildKey.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("object key %q: expected library/id/file", raw)
	}
	library, err := enums.ParseLibrary(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("object key %q: %w", raw, err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("object key %q: invalid id: %w", raw, err)
	}
	kind, err := enums.FileKindForName(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("object key %q: %w", raw, err)
	}
	return Key{Library: library, ID: id, FileKind: kind}, nil
}

// Layout resolves where originals are uploaded versus where processed
// objects live. With no staging prefix both locations are the same key.
type Layout struct {
	StagingPrefix string
}

// NewLayout normalizes the staging prefix (no leading or trailing slash).
func NewLayout(stagingPrefix string) Layout {
	return Layout{StagingPrefix: strings.Trim(strings.TrimSpace(stagingPrefix), "/")}
}

// Staged reports whether uploads land under a separate prefix.
func (l Layout) Staged() bool {
	return l.StagingPrefix != ""
}

// UploadKey is where the uploader writes the original bytes.
func (l Layout) UploadKey(library enums.Library, id uuid.UUID, kind enums.FileKind) string {
	key := BuildKey(library, id, kind)
	if !l.Staged() {
		return key
	}
	return l.StagingPrefix + "/" + key
}

// ProcessedKey is where consumers read the object after processing.
func (l Layout) ProcessedKey(library enums.Library, id uuid.UUID, kind enums.FileKind) string {
	return BuildKey(library, id, kind)
}

// ParseUploadKey parses an object name seen by the uploads consumer. The
// second return value is false when the object is outside the upload
// location (processed copies when a staging prefix is configured).
func (l Layout) ParseUploadKey(raw string) (Key, bool, error) {
	name := strings.Trim(raw, "/")
	if l.Staged() {
		prefix := l.StagingPrefix + "/"
		if !strings.HasPrefix(name, prefix) {
			return Key{}, false, nil
		}
		name = strings.TrimPrefix(name, prefix)
	}
	key, err := ParseKey(name)
	if err != nil {
		return Key{}, false, err
	}
	return key, true, nil
}

// Package testsupport opens throwaway databases carrying the media schema and
// seeds fixture rows for package tests.
package testsupport

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mediapipe/internal/claim"
	"github.com/angelmondragon/mediapipe/pkg/config"
	"github.com/angelmondragon/mediapipe/pkg/db"
	"github.com/angelmondragon/mediapipe/pkg/enums"
	"github.com/angelmondragon/mediapipe/pkg/migrate"
)

// OpenSQLite returns a private in-memory database with the migrated schema.
func OpenSQLite(t *testing.T) *db.Client {
	t.Helper()
	cfg := config.DBConfig{
		Driver: config.DBDriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
	}
	client, err := db.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := ApplySchema(client.DB()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return client
}

// ApplySchema runs the Up section of every embedded migration. Postgres-only
// column types are mapped to ones sqlite understands.
func ApplySchema(conn *gorm.DB) error {
	files, err := fs.Glob(migrate.Embedded, "migrations/*.sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		raw, err := fs.ReadFile(migrate.Embedded, name)
		if err != nil {
			return err
		}
		up := upSection(string(raw))
		if conn.Dialector.Name() == "sqlite" {
			up = strings.ReplaceAll(up, "TIMESTAMPTZ", "TIMESTAMP")
		}
		if err := conn.Exec(up).Error; err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func upSection(sql string) string {
	_, after, _ := strings.Cut(sql, "-- +goose Up")
	before, _, _ := strings.Cut(after, "-- +goose Down")
	var lines []string
	for _, line := range strings.Split(before, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "-- +goose") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Fixture describes one metadata row and its upload row.
type Fixture struct {
	ID          uuid.UUID
	Kind        string
	UserID      uuid.UUID
	UploadedAt  *time.Time
	ProcessedAt *time.Time
	Result      *bool
	// NoUpload skips the upload row entirely.
	NoUpload bool
}

// Seed inserts f for class and returns its id.
func Seed(t *testing.T, conn *gorm.DB, class enums.Class, f Fixture) uuid.UUID {
	t.Helper()
	tables, err := claim.TablesFor(class)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if tables.HasUser {
		if f.UserID == uuid.Nil {
			f.UserID = uuid.New()
		}
		err = conn.Exec(fmt.Sprintf("INSERT INTO %s (id, kind, user_id) VALUES (?, ?, ?)", tables.Metadata),
			f.ID.String(), f.Kind, f.UserID.String()).Error
	} else {
		err = conn.Exec(fmt.Sprintf("INSERT INTO %s (id, kind) VALUES (?, ?)", tables.Metadata),
			f.ID.String(), f.Kind).Error
	}
	if err != nil {
		t.Fatalf("insert metadata: %v", err)
	}
	if f.NoUpload {
		return f.ID
	}
	err = conn.Exec(fmt.Sprintf("INSERT INTO %s (id, uploaded_at, processed_at, processing_result) VALUES (?, ?, ?, ?)", tables.Upload),
		f.ID.String(), utcPtr(f.UploadedAt), utcPtr(f.ProcessedAt), f.Result).Error
	if err != nil {
		t.Fatalf("insert upload: %v", err)
	}
	return f.ID
}

// UploadRow is the persisted state of one upload row.
type UploadRow struct {
	UploadedAt       *time.Time `gorm:"column:uploaded_at"`
	ProcessedAt      *time.Time `gorm:"column:processed_at"`
	ProcessingResult *bool      `gorm:"column:processing_result"`
}

// LoadUpload reads the upload row for id.
func LoadUpload(t *testing.T, conn *gorm.DB, class enums.Class, id uuid.UUID) UploadRow {
	t.Helper()
	tables, err := claim.TablesFor(class)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	var rows []UploadRow
	err = conn.Raw(fmt.Sprintf("SELECT uploaded_at, processed_at, processing_result FROM %s WHERE id = ?", tables.Upload),
		id.String()).Scan(&rows).Error
	if err != nil {
		t.Fatalf("load upload: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one upload row for %s, got %d", id, len(rows))
	}
	return rows[0]
}

// SetUploadedAt simulates the uploader recording a new upload for id.
func SetUploadedAt(t *testing.T, conn *gorm.DB, class enums.Class, id uuid.UUID, at time.Time) {
	t.Helper()
	tables, err := claim.TablesFor(class)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if err := conn.Exec(fmt.Sprintf("UPDATE %s SET uploaded_at = ? WHERE id = ?", tables.Upload), at.UTC(), id.String()).Error; err != nil {
		t.Fatalf("set uploaded_at: %v", err)
	}
}

// Time returns a pointer to t in UTC.
func Time(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

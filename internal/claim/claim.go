// Package claim selects and locks one eligible upload of a class inside the
// caller's transaction and records the terminal outcome on the same row.
package claim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mediapipe/pkg/enums"
	pkgerrors "github.com/angelmondragon/mediapipe/pkg/errors"
)

const eligible = "u.uploaded_at IS NOT NULL AND (u.processed_at IS NULL OR u.processed_at < u.uploaded_at)"

// postgresLocking keeps the upload row exclusive to this transaction and the
// metadata row stable while it is read. Rows locked elsewhere are skipped.
const postgresLocking = " FOR UPDATE OF u SKIP LOCKED FOR SHARE OF m SKIP LOCKED"

// Item is a claimed upload joined with its metadata.
type Item struct {
	ID          uuid.UUID
	Class       enums.Class
	Kind        string
	UserID      *uuid.UUID
	UploadedAt  time.Time
	ProcessedAt *time.Time
}

type itemRow struct {
	ID          uuid.UUID  `gorm:"column:id"`
	Kind        string     `gorm:"column:kind"`
	UserID      *uuid.UUID `gorm:"column:user_id"`
	UploadedAt  time.Time  `gorm:"column:uploaded_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

// Claimer issues the claim and terminal-update statements.
type Claimer struct{}

func NewClaimer() *Claimer {
	return &Claimer{}
}

// Claim locks one eligible item of class or returns nil when none is available.
// IDs in exclude are never returned. The lock lives until tx ends.
func (c *Claimer) Claim(ctx context.Context, tx *gorm.DB, class enums.Class, exclude []uuid.UUID) (*Item, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	tables, err := TablesFor(class)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve tables")
	}

	query, args := claimQuery(tables, tx.Dialector.Name(), exclude)
	var rows []itemRow
	if err := tx.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("claim %s", class))
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &Item{
		ID:          row.ID,
		Class:       class,
		Kind:        row.Kind,
		UserID:      row.UserID,
		UploadedAt:  row.UploadedAt,
		ProcessedAt: row.ProcessedAt,
	}, nil
}

func claimQuery(tables Tables, dialect string, exclude []uuid.UUID) (string, []any) {
	cols := "m.id, m.kind, u.uploaded_at, u.processed_at"
	if tables.HasUser {
		cols = "m.id, m.kind, m.user_id, u.uploaded_at, u.processed_at"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s m JOIN %s u ON u.id = m.id WHERE %s",
		cols, tables.Metadata, tables.Upload, eligible)

	var args []any
	if len(exclude) > 0 {
		ids := make([]string, 0, len(exclude))
		for _, id := range exclude {
			ids = append(ids, id.String())
		}
		b.WriteString(" AND u.id NOT IN ?")
		args = append(args, ids)
	}
	b.WriteString(" LIMIT 1")
	if dialect == "postgres" {
		b.WriteString(postgresLocking)
	}
	return b.String(), args
}

// MarkProcessed writes the terminal outcome of id inside tx.
func (c *Claimer) MarkProcessed(ctx context.Context, tx *gorm.DB, class enums.Class, id uuid.UUID, success bool, at time.Time) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	tables, err := TablesFor(class)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve tables")
	}

	res := tx.WithContext(ctx).Exec(
		fmt.Sprintf("UPDATE %s SET processed_at = ?, processing_result = ? WHERE id = ?", tables.Upload),
		at.UTC(), success, id.String(),
	)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, res.Error, fmt.Sprintf("mark %s processed", class))
	}
	if res.RowsAffected != 1 {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("mark %s processed: %d rows updated", class, res.RowsAffected))
	}
	return nil
}

// Backlog counts eligible items of class. It takes no locks.
func (c *Claimer) Backlog(ctx context.Context, db *gorm.DB, class enums.Class) (int64, error) {
	tables, err := TablesFor(class)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve tables")
	}
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s m JOIN %s u ON u.id = m.id WHERE %s",
		tables.Metadata, tables.Upload, eligible)
	if err := db.WithContext(ctx).Raw(query).Scan(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("count %s backlog", class))
	}
	return count, nil
}

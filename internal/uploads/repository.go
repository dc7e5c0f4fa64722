package uploads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mediapipe/internal/claim"
	"github.com/angelmondragon/mediapipe/pkg/enums"
)

// Repository records uploader timestamps on the per-class upload tables.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

type uploadState struct {
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

// MarkUploaded stamps uploaded_at for id and returns the recorded time. It
// returns gorm.ErrRecordNotFound when the class has no upload row for id.
//
// The clock is read once the row lock is held. The stamp always lands after
// a processed_at already committed on the row, so a worker that finished the
// previous bytes never hides the new ones.
func (r *Repository) MarkUploaded(ctx context.Context, class enums.Class, id uuid.UUID) (time.Time, error) {
	tables, err := claim.TablesFor(class)
	if err != nil {
		return time.Time{}, err
	}

	var stamp time.Time
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := fmt.Sprintf("SELECT processed_at FROM %s WHERE id = ?", tables.Upload)
		if tx.Dialector.Name() == "postgres" {
			query += " FOR UPDATE"
		}
		var rows []uploadState
		if err := tx.Raw(query, id.String()).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return gorm.ErrRecordNotFound
		}

		stamp = r.now().UTC()
		if p := rows[0].ProcessedAt; p != nil && !stamp.After(*p) {
			stamp = p.UTC().Add(time.Microsecond)
		}
		return tx.Table(tables.Upload).
			Where("id = ?", id.String()).
			Update("uploaded_at", stamp).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, err
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark %s uploaded: %w", class, err)
	}
	return stamp, nil
}

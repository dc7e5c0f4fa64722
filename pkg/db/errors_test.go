package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: true},
		{name: "bad conn", err: driver.ErrBadConn, want: true},
		{name: "pgx serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "pgx connection class", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "pgx unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "pq deadlock", err: &pq.Error{Code: "40P01"}, want: true},
		{name: "pq syntax", err: &pq.Error{Code: "42601"}, want: false},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "plain", err: errors.New("no such column"), want: false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Fatalf("%s: expected %v got %v", tt.name, tt.want, got)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := errors.New(`ERROR: duplicate key value violates unique constraint "global_images_pkey"`)
	if !IsUniqueViolation(err, "") {
		t.Fatal("expected duplicate key to be detected")
	}
	if !IsUniqueViolation(err, "global_images_pkey") {
		t.Fatal("expected constraint name match")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil error is not a violation")
	}
}

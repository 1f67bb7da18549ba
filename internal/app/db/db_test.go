package db

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"100%", `100\%`},
		{"snake_case", `snake\_case`},
		{`C:\temp`, `C:\\temp`},
		{`%_\`, `\%\_\\`},
	}

	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(dup) {
		t.Fatal("wrapped 23505 should be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation reported as unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) || IsUniqueViolation(nil) {
		t.Fatal("non-postgres errors are not unique violations")
	}
}

func TestMigrationsAreEmbedded(t *testing.T) {
	files, err := fs.Glob(embedMigrations, "migrations/*.sql")
	if err != nil || len(files) == 0 {
		t.Fatalf("no embedded migrations: %v", err)
	}

	data, _ := embedMigrations.ReadFile(files[0])
	for _, want := range []string{"-- +goose Up", "-- +goose Down", "CREATE TABLE IF NOT EXISTS messages", "CREATE TABLE IF NOT EXISTS devices"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("%s missing %q", files[0], want)
		}
	}
}

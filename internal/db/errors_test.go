package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestConstraintErrors(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "modalities_name_key"})
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "classes_modality_id_fkey"}

	if !IsUniqueViolation(unique) || !IsUniqueViolation(unique, "modalities_name_key") {
		t.Fatalf("wrapped unique violation not detected")
	}
	if IsUniqueViolation(unique, "teachers_national_id_key") {
		t.Fatalf("constraint filter ignored")
	}
	if IsUniqueViolation(fk) || !IsForeignKeyViolation(fk) {
		t.Fatalf("codes mixed up")
	}
	if IsUniqueViolation(errors.New("boom")) || IsUniqueViolation(nil) {
		t.Fatalf("plain errors are not violations")
	}
}

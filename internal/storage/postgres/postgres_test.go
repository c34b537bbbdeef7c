package postgres

import (
	"context"
	"testing"
)

func TestNewErrorsAndHelpers(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error on empty conn string")
	}
	if _, err := New(context.Background(), Config{ConnString: "://broken"}); err == nil {
		t.Fatal("expected error on malformed conn string")
	}

	if !IsPostgresURL("postgres://localhost/plotter") || !IsPostgresURL("postgresql://host/db") {
		t.Fatal("IsPostgresURL failed on valid inputs")
	}
	if IsPostgresURL("sqlite://library.db") || IsPostgresURL("clickhouse://host") || IsPostgresURL("") {
		t.Fatal("IsPostgresURL false positive")
	}
}

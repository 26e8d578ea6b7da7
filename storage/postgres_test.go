package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestActionForVerb(t *testing.T) {
	cases := map[string]Action{
		"POST":   ActionCreate,
		"create": ActionCreate,
		"PATCH":  ActionUpdate,
		"put":    ActionUpdate,
		"DELETE": ActionDelete,
	}
	for verb, want := range cases {
		got, err := ActionForVerb(verb)
		if err != nil {
			t.Fatalf("ActionForVerb(%q) failed: %v", verb, err)
		}
		if got != want {
			t.Errorf("ActionForVerb(%q) = %s, want %s", verb, got, want)
		}
	}

	if _, err := ActionForVerb("GET"); !errors.Is(err, ErrUnsupportedVerb) {
		t.Fatalf("Expected ErrUnsupportedVerb, got %v", err)
	}
}

func TestBuildWriteInsert(t *testing.T) {
	sql, args, err := BuildWrite("usuarios", "POST", map[string]any{"nome": "Ana", "email": "ana@x.org"})
	if err != nil {
		t.Fatalf("BuildWrite failed: %v", err)
	}

	want := `INSERT INTO "usuarios" ("email", "nome") VALUES ($1, $2) RETURNING to_jsonb("usuarios".*)`
	if sql != want {
		t.Fatalf("Unexpected SQL:\n got %s\nwant %s", sql, want)
	}
	if len(args) != 2 || args[0] != "ana@x.org" || args[1] != "Ana" {
		t.Fatalf("Unexpected args %v", args)
	}
}

func TestBuildWriteUpdate(t *testing.T) {
	sql, args, err := BuildWrite("turmas", "PATCH", map[string]any{"id": 9, "nome": "6A"})
	if err != nil {
		t.Fatalf("BuildWrite failed: %v", err)
	}

	want := `UPDATE "turmas" SET "nome" = $1 WHERE "id" = $2 RETURNING to_jsonb("turmas".*)`
	if sql != want {
		t.Fatalf("Unexpected SQL:\n got %s\nwant %s", sql, want)
	}
	if len(args) != 2 || args[1] != 9 {
		t.Fatalf("Unexpected args %v", args)
	}

	if _, _, err := BuildWrite("turmas", "PATCH", map[string]any{"nome": "6A"}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("Expected ErrMissingID, got %v", err)
	}
}

func TestBuildWriteDelete(t *testing.T) {
	sql, args, err := BuildWrite("escolas", "DELETE", map[string]any{"id": "e-1"})
	if err != nil {
		t.Fatalf("BuildWrite failed: %v", err)
	}
	if sql != `DELETE FROM "escolas" WHERE "id" = $1 RETURNING to_jsonb("escolas".*)` {
		t.Fatalf("Unexpected SQL %s", sql)
	}
	if len(args) != 1 || args[0] != "e-1" {
		t.Fatalf("Unexpected args %v", args)
	}
}

func TestBuildWriteRejectsUnsafeIdentifiers(t *testing.T) {
	if _, _, err := BuildWrite("users; drop table x", "POST", nil); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("Expected ErrInvalidIdentifier for endpoint, got %v", err)
	}
	if _, _, err := BuildWrite("usuarios", "POST", map[string]any{`nome"`: 1}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("Expected ErrInvalidIdentifier for column, got %v", err)
	}
}

func TestPostgresGatewayRoundTrip(t *testing.T) {
	dsn := os.Getenv("SYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SYNC_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gw, err := NewPostgresGateway(ctx, dsn)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer gw.Close()

	if _, err := gw.pool.Exec(ctx, `CREATE TABLE sync_test_escolas (id serial PRIMARY KEY, nome text)`); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	defer gw.pool.Exec(context.Background(), `DROP TABLE sync_test_escolas`)

	if _, err := gw.Write(ctx, "sync_test_escolas", "POST", map[string]any{"nome": "Central"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rows, err := gw.QueryFetcher(`SELECT id, nome FROM sync_test_escolas ORDER BY id`)(ctx)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if list := rows.([]any); len(list) != 1 {
		t.Fatalf("Expected 1 row, got %v", rows)
	}

	if _, err := gw.Write(ctx, "sync_test_escolas", "DELETE", map[string]any{"id": 999}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound deleting a missing row, got %v", err)
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUnsupportedVerb is returned for write verbs that map to no action.
	ErrUnsupportedVerb = errors.New("unsupported write verb")

	// ErrInvalidIdentifier is returned when an endpoint or column name is not a plain identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrMissingID is returned when an update or delete payload carries no id.
	ErrMissingID = errors.New("payload has no id")
)

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Action is the normalized kind of a write.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ActionForVerb maps an HTTP-ish or named verb to a write action.
func ActionForVerb(verb string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(verb)) {
	case "POST", "CREATE", "INSERT":
		return ActionCreate, nil
	case "PUT", "PATCH", "UPDATE":
		return ActionUpdate, nil
	case "DELETE", "REMOVE":
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVerb, verb)
	}
}

// PostgresGateway is the remote data access layer over a relational store.
// Endpoints are table names; payloads are column maps.
type PostgresGateway struct {
	pool *pgxpool.Pool
}

// NewPostgresGateway opens a pool and verifies the connection.
func NewPostgresGateway(ctx context.Context, dsn string) (*PostgresGateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresGateway{pool: pool}, nil
}

// NewPostgresGatewayFromPool wraps an existing pool.
func NewPostgresGatewayFromPool(pool *pgxpool.Pool) *PostgresGateway {
	return &PostgresGateway{pool: pool}
}

// Write runs one create/update/delete against the endpoint table and
// returns the affected row as JSON.
func (g *PostgresGateway) Write(ctx context.Context, endpoint, verb string, payload map[string]any) (json.RawMessage, error) {
	sql, args, err := BuildWrite(endpoint, verb, payload)
	if err != nil {
		return nil, err
	}

	var row []byte
	if err := g.pool.QueryRow(ctx, sql, args...).Scan(&row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", verb, endpoint, ErrNotFound)
		}
		return nil, err
	}
	return json.RawMessage(row), nil
}

// QueryFetcher returns a fetcher that aggregates the rows of query into a
// JSON array. The query is wrapped, so it must be a plain SELECT.
func (g *PostgresGateway) QueryFetcher(query string, args ...any) func(ctx context.Context) (any, error) {
	wrapped := "SELECT coalesce(jsonb_agg(q), '[]'::jsonb) FROM (" + query + ") q"
	return func(ctx context.Context) (any, error) {
		var raw []byte
		if err := g.pool.QueryRow(ctx, wrapped, args...).Scan(&raw); err != nil {
			return nil, err
		}
		var rows []any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
}

// Ping checks the connection.
func (g *PostgresGateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// Close closes the pool.
func (g *PostgresGateway) Close() {
	g.pool.Close()
}

// BuildWrite renders the SQL statement for a write. Column names come from
// payload keys and are emitted in sorted order.
func BuildWrite(endpoint, verb string, payload map[string]any) (string, []any, error) {
	action, err := ActionForVerb(verb)
	if err != nil {
		return "", nil, err
	}
	if !identifierRe.MatchString(endpoint) {
		return "", nil, fmt.Errorf("%w: endpoint %q", ErrInvalidIdentifier, endpoint)
	}
	table := pgx.Identifier{endpoint}.Sanitize()

	cols := make([]string, 0, len(payload))
	for k := range payload {
		if !identifierRe.MatchString(k) {
			return "", nil, fmt.Errorf("%w: column %q", ErrInvalidIdentifier, k)
		}
		if action != ActionCreate && k == "id" {
			continue
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)

	returning := " RETURNING to_jsonb(" + table + ".*)"

	switch action {
	case ActionCreate:
		if len(cols) == 0 {
			return "INSERT INTO " + table + " DEFAULT VALUES" + returning, nil, nil
		}
		names := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			names[i] = pgx.Identifier{c}.Sanitize()
			marks[i] = fmt.Sprintf("$%d", i+1)
			args[i] = payload[c]
		}
		return "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ") VALUES (" +
			strings.Join(marks, ", ") + ")" + returning, args, nil

	case ActionUpdate:
		id, ok := payload["id"]
		if !ok {
			return "", nil, ErrMissingID
		}
		if len(cols) == 0 {
			return "", nil, fmt.Errorf("%w: nothing to update", ErrInvalidIdentifier)
		}
		sets := make([]string, len(cols))
		args := make([]any, 0, len(cols)+1)
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
			args = append(args, payload[c])
		}
		args = append(args, id)
		return fmt.Sprintf("UPDATE %s SET %s WHERE \"id\" = $%d", table, strings.Join(sets, ", "), len(args)) +
			returning, args, nil

	default:
		id, ok := payload["id"]
		if !ok {
			return "", nil, ErrMissingID
		}
		return "DELETE FROM " + table + " WHERE \"id\" = $1" + returning, []any{id}, nil
	}
}

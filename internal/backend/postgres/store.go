// Package postgres implements the backend contract on PostgreSQL. Reads and
// writes go through database/sql with the pgx driver; the change feed rides
// on LISTEN/NOTIFY.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/lib/pq"

	"govportal/internal/backend"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/platform/tx"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL backend.
type Store struct {
	db   *sql.DB
	feed *Feed
}

// Option configures a Store.
type Option func(*Store)

// WithFeed attaches the change feed used by Subscribe.
func WithFeed(feed *Feed) Option {
	return func(s *Store) {
		s.feed = feed
	}
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *Store) exec(ctx context.Context) executor {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

// Query runs a filtered, ordered read. Rows are returned as decoded JSON, so
// timestamps arrive as RFC 3339 strings and numbers as float64.
func (s *Store) Query(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	if err := checkIdent(q.Table); err != nil {
		return nil, backend.Errorf(backend.OpQuery, q.Table, err, "invalid table")
	}
	var (
		sb   strings.Builder
		args []any
	)
	fmt.Fprintf(&sb, "SELECT row_to_json(t) FROM %s AS t", pq.QuoteIdentifier(q.Table))
	for i, f := range q.Filters {
		if err := checkIdent(f.Column); err != nil {
			return nil, backend.Errorf(backend.OpQuery, q.Table, err, "invalid filter column")
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(&sb, "t.%s = $%d", pq.QuoteIdentifier(f.Column), len(args))
	}
	if q.OrderBy != "" {
		if err := checkIdent(q.OrderBy); err != nil {
			return nil, backend.Errorf(backend.OpQuery, q.Table, err, "invalid order column")
		}
		fmt.Fprintf(&sb, " ORDER BY t.%s DESC", pq.QuoteIdentifier(q.OrderBy))
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.exec(ctx).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify(backend.OpQuery, q.Table, err)
	}
	defer rows.Close()

	var out []backend.Row
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, classify(backend.OpQuery, q.Table, err)
		}
		row, err := decodeRow(raw)
		if err != nil {
			return nil, backend.Errorf(backend.OpQuery, q.Table, err, "decode row")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(backend.OpQuery, q.Table, err)
	}
	return out, nil
}

// Insert writes one row and returns it as stored.
func (s *Store) Insert(ctx context.Context, table string, record backend.Row) (backend.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, backend.Errorf(backend.OpInsert, table, err, "invalid table")
	}
	cols := sortedColumns(record)
	quoted := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		if err := checkIdent(c); err != nil {
			return nil, backend.Errorf(backend.OpInsert, table, err, "invalid column")
		}
		quoted = append(quoted, pq.QuoteIdentifier(c))
		args = append(args, record[c])
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s AS t DEFAULT VALUES RETURNING row_to_json(t.*)", pq.QuoteIdentifier(table))
	} else {
		query = fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) RETURNING row_to_json(t.*)",
			pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	}
	return s.returning(ctx, backend.OpInsert, table, query, args)
}

// Update merges patch into the row with the given id.
func (s *Store) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, backend.Errorf(backend.OpUpdate, table, err, "invalid table")
	}
	cols := sortedColumns(patch)
	args := []any{id}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == backend.IDColumn {
			continue
		}
		if err := checkIdent(c); err != nil {
			return nil, backend.Errorf(backend.OpUpdate, table, err, "invalid column")
		}
		args = append(args, patch[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), len(args)))
	}
	if len(sets) == 0 {
		return nil, backend.Errorf(backend.OpUpdate, table, sentinel.ErrInvalidState, "empty patch")
	}
	query := fmt.Sprintf("UPDATE %s AS t SET %s WHERE t.id = $1 RETURNING row_to_json(t.*)",
		pq.QuoteIdentifier(table), strings.Join(sets, ", "))
	return s.returning(ctx, backend.OpUpdate, table, query, args)
}

// Subscribe opens a change feed subscription; it requires WithFeed.
func (s *Store) Subscribe(ctx context.Context, table string) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.feed == nil {
		return nil, backend.Errorf(backend.OpSubscribe, table, sentinel.ErrUnavailable, "change feed not configured")
	}
	return s.feed.Subscribe(table), nil
}

func (s *Store) returning(ctx context.Context, op backend.Op, table, query string, args []any) (backend.Row, error) {
	var raw []byte
	if err := s.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return nil, classify(op, table, err)
	}
	row, err := decodeRow(raw)
	if err != nil {
		return nil, backend.Errorf(op, table, err, "decode row")
	}
	return row, nil
}

func decodeRow(raw []byte) (backend.Row, error) {
	var row backend.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func sortedColumns(r backend.Row) []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func checkIdent(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

var _ backend.Backend = (*Store)(nil)

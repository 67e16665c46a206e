package record

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect selects the SQL flavor of a SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const table = "call_records"

var summaryColumns = []string{"summary"}

// SQLStore keeps records in a SQL table.
type SQLStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewSQLStore wraps an open database. The schema must already be migrated.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	return &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

// OpenSQL opens dsn with the dialect's driver and applies migrations.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "pgx"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLStore(db, dialect), nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	gooseDialect := database.DialectSQLite3
	if dialect == DialectPostgres {
		gooseDialect = database.DialectPostgres
	}
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	provider, err := goose.NewProvider(gooseDialect, db, migrations)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Save upserts rec.
func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	if rec.ID() == "" {
		return core.NewInvalidRequestError("record has no session id")
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query, args, err := s.builder.Insert(table).
		Columns("id", "started_at", "ended_at", "end_reason", "final_stage", "turn_count", "guidance_count", "summary", "body").
		Values(rec.ID(), rec.Summary.StartedAt.UTC(), rec.Summary.EndedAt.UTC(), rec.Summary.Reason,
			string(rec.Summary.FinalStage), rec.Summary.Turns, rec.Summary.GuidanceCount, string(summary), string(body)).
		Suffix("ON CONFLICT (id) DO UPDATE SET ended_at = EXCLUDED.ended_at, end_reason = EXCLUDED.end_reason, " +
			"final_stage = EXCLUDED.final_stage, turn_count = EXCLUDED.turn_count, " +
			"guidance_count = EXCLUDED.guidance_count, summary = EXCLUDED.summary, body = EXCLUDED.body").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving call record: %w", err)
	}
	return nil
}

// Get loads one record.
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	query, args, err := s.builder.Select("body").From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	var body string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError(id)
		}
		return nil, fmt.Errorf("loading call record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decoding call record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns summaries newest first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]types.CallSummary, error) {
	qb := s.builder.Select(summaryColumns...).From(table).OrderBy("started_at DESC", "id ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing call records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.CallSummary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning call record: %w", err)
		}
		var sum types.CallSummary
		if err := json.Unmarshal([]byte(raw), &sum); err != nil {
			return nil, fmt.Errorf("decoding call summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call records: %w", err)
	}
	return out, nil
}

// Delete removes one record.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	query, args, err := s.builder.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting call record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFoundError(id)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

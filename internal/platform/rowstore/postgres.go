package rowstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS sheet_table (
    name       TEXT PRIMARY KEY,
    header     TEXT[] NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS sheet_row (
    table_name TEXT NOT NULL REFERENCES sheet_table(name) ON DELETE CASCADE,
    seq        BIGSERIAL,
    cells      TEXT[] NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (table_name, seq)
)`

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Postgres stores each table as a header array plus rows of cell arrays,
// ordered by insertion sequence.
type Postgres struct {
	db querier
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

// EnsureSchema creates the backing tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, pgSchema); err != nil {
		return unavailable("create row store schema", err)
	}
	return nil
}

func (p *Postgres) Header(ctx context.Context, table string) ([]string, error) {
	var header []string
	err := p.db.QueryRow(ctx, `SELECT header FROM sheet_table WHERE name = $1`, table).Scan(&header)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", table, ErrTableNotFound)
	}
	if err != nil {
		return nil, unavailable("read header of "+table, err)
	}
	return header, nil
}

func (p *Postgres) FetchAll(ctx context.Context, table string) ([]Record, error) {
	header, err := p.Header(ctx, table)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, `SELECT cells FROM sheet_row WHERE table_name = $1 ORDER BY seq`, table)
	if err != nil {
		return nil, unavailable("read rows of "+table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var cells []string
		if err := rows.Scan(&cells); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, NewRecord(len(out)+1, header, cells))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read rows of "+table, err)
	}
	return out, nil
}

func (p *Postgres) AppendRow(ctx context.Context, table string, values []string) error {
	if values == nil {
		values = []string{}
	}
	tag, err := p.db.Exec(ctx, `
		INSERT INTO sheet_row (table_name, cells)
		SELECT name, $2::text[] FROM sheet_table WHERE name = $1`, table, values)
	if err != nil {
		return unavailable("append to "+table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", table, ErrTableNotFound)
	}
	return nil
}

func (p *Postgres) DeleteRow(ctx context.Context, table string, row int) error {
	if row < 1 {
		return fmt.Errorf("%s row %d: %w", table, row, ErrRowNotFound)
	}
	tag, err := p.db.Exec(ctx, `
		DELETE FROM sheet_row WHERE table_name = $1 AND seq = (
			SELECT seq FROM sheet_row WHERE table_name = $1
			ORDER BY seq OFFSET $2 LIMIT 1
		)`, table, row-1)
	if err != nil {
		return unavailable("delete from "+table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s row %d: %w", table, row, ErrRowNotFound)
	}
	return nil
}

func (p *Postgres) EnsureTable(ctx context.Context, table string, header []string) error {
	if err := validateHeader(header); err != nil {
		return fmt.Errorf("ensure %s: %w", table, err)
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO sheet_table (name, header) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`, table, header)
	if err != nil {
		return unavailable("ensure "+table, err)
	}
	return nil
}

func (p *Postgres) UpdateHeader(ctx context.Context, table string, header []string) error {
	if err := validateHeader(header); err != nil {
		return fmt.Errorf("update header of %s: %w", table, err)
	}
	tag, err := p.db.Exec(ctx, `UPDATE sheet_table SET header = $2, updated_at = NOW() WHERE name = $1`, table, header)
	if err != nil {
		return unavailable("update header of "+table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", table, ErrTableNotFound)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller that created it.
func (p *Postgres) Close() error { return nil }

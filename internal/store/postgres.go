package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"orderbridge/internal/events"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded migrations. No pending migrations is not an error.
func (p *Postgres) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	drv, err := pgxmigrate.WithInstance(p.db, &pgxmigrate.Config{MigrationsTable: "bridge_schema_migrations"})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (p *Postgres) RecordEvent(ctx context.Context, e events.Event) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		id = uuid.New()
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO bridge_events (id, type, order_id, reference, outcome, detail, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7::timestamptz, now()))
        ON CONFLICT (id) DO NOTHING`,
		id, e.Type, e.OrderID, e.Reference, e.Outcome, e.Detail, nullTime(e))
	return err
}

func (p *Postgres) ListEvents(ctx context.Context, q Query) ([]events.Event, string, error) {
	limit := q.limit()
	where, args := eventFilter(q)
	if q.Cursor != "" {
		var seq int64
		err := p.db.QueryRowContext(ctx, `SELECT seq FROM bridge_events WHERE id::text=$1`, q.Cursor).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		if err != nil {
			return nil, "", err
		}
		args = append(args, seq)
		where = append(where, "seq < $"+strconv.Itoa(len(args)))
	}
	query := `SELECT id::text, type, order_id, reference, outcome, detail, created_at FROM bridge_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += " ORDER BY seq DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []events.Event{}
	for rows.Next() {
		var e events.Event
		if err := rows.Scan(&e.ID, &e.Type, &e.OrderID, &e.Reference, &e.Outcome, &e.Detail, &e.At); err != nil {
			return nil, "", err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// eventFilter builds the WHERE clauses for q, numbering placeholders from $1.
func eventFilter(q Query) ([]string, []any) {
	var where []string
	var args []any
	if q.Type != "" {
		args = append(args, q.Type)
		where = append(where, "type = $"+strconv.Itoa(len(args)))
	}
	if q.OrderID != "" {
		args = append(args, q.OrderID)
		where = append(where, "order_id = $"+strconv.Itoa(len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, "created_at >= $"+strconv.Itoa(len(args)))
	}
	return where, args
}

func nullTime(e events.Event) any {
	if e.At.IsZero() {
		return nil
	}
	return e.At
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahrav/go-arena/infrastructure/store/migrations"
	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

const migrationTable = "schema_migrations"

var _ ports.RatingLedger = (*SQLiteLedger)(nil)

// SQLiteLedger persists ratings in a SQLite database.
type SQLiteLedger struct {
	db  *sql.DB
	elo domain.Elo
	now func() time.Time
}

// OpenSQLiteLedger opens the database at path, applies migrations and
// returns a ledger using elo for updates.
func OpenSQLiteLedger(path string, elo domain.Elo) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// A single connection serializes writers and keeps in-memory databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite ledger: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite ledger: %w", err)
	}

	return &SQLiteLedger{db: db, elo: elo, now: time.Now}, nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Get implements ports.RatingLedger.
func (l *SQLiteLedger) Get(ctx context.Context, id string) (domain.Rating, error) {
	r, err := l.load(ctx, l.db, id)
	if err != nil {
		return domain.Rating{}, ports.NewStoreError("ratings:"+id, "get", err)
	}
	return r, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *SQLiteLedger) load(ctx context.Context, q queryer, id string) (domain.Rating, error) {
	row := q.QueryRowContext(ctx,
		`SELECT contender, score, battles, wins, losses, ties, updated_at FROM ratings WHERE contender = ?`, id)
	r, err := scanRating(row)
	if errors.Is(err, sql.ErrNoRows) {
		return l.elo.NewRating(id), nil
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRating(s scanner) (domain.Rating, error) {
	var (
		r         domain.Rating
		updatedAt int64
	)
	if err := s.Scan(&r.Contender, &r.Score, &r.Battles, &r.Wins, &r.Losses, &r.Ties, &updatedAt); err != nil {
		return domain.Rating{}, err
	}
	if updatedAt > 0 {
		r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	}
	return r, nil
}

// Update implements ports.RatingLedger. Both ratings are read and written in
// one transaction.
func (l *SQLiteLedger) Update(ctx context.Context, a, b string, outcome domain.Outcome) (domain.Rating, domain.Rating, error) {
	if a == b {
		return domain.Rating{}, domain.Rating{}, fmt.Errorf("%w: cannot rate %q against itself", domain.ErrInvalidRequest, a)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rating{}, domain.Rating{}, ports.NewStoreError("ratings", "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	ra, err := l.load(ctx, tx, a)
	if err != nil {
		return domain.Rating{}, domain.Rating{}, ports.NewStoreError("ratings:"+a, "get", err)
	}
	rb, err := l.load(ctx, tx, b)
	if err != nil {
		return domain.Rating{}, domain.Rating{}, ports.NewStoreError("ratings:"+b, "get", err)
	}

	ra, rb = l.elo.Apply(ra, rb, outcome, l.now().UTC())
	for _, r := range []domain.Rating{ra, rb} {
		if err := upsertRating(ctx, tx, r); err != nil {
			return domain.Rating{}, domain.Rating{}, ports.NewStoreError("ratings:"+r.Contender, "update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Rating{}, domain.Rating{}, ports.NewStoreError("ratings", "commit", err)
	}
	return ra, rb, nil
}

func upsertRating(ctx context.Context, tx *sql.Tx, r domain.Rating) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO ratings (contender, score, battles, wins, losses, ties, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(contender) DO UPDATE SET
    score = excluded.score,
    battles = excluded.battles,
    wins = excluded.wins,
    losses = excluded.losses,
    ties = excluded.ties,
    updated_at = excluded.updated_at`,
		r.Contender, r.Score, r.Battles, r.Wins, r.Losses, r.Ties, r.UpdatedAt.UnixMilli())
	return err
}

// All implements ports.RatingLedger. Ratings are ordered by contender id.
func (l *SQLiteLedger) All(ctx context.Context) ([]domain.Rating, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT contender, score, battles, wins, losses, ties, updated_at FROM ratings ORDER BY contender`)
	if err != nil {
		return nil, ports.NewStoreError("ratings", "list", err)
	}
	defer rows.Close()

	var out []domain.Rating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, ports.NewStoreError("ratings", "list", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, ports.NewStoreError("ratings", "list", err)
	}
	return out, nil
}

// applyMigrations executes each embedded migration at most once, in file
// name order.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var count int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE name = ?", migrationTable), file).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if count > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := extractUpMigration(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// extractUpMigration returns the SQL in the "-- +migrate Up" section.
func extractUpMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len(up):]
	if downIdx := strings.Index(rest, down); downIdx != -1 {
		return rest[:downIdx]
	}
	return rest
}

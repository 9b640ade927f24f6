package subsets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"videoxt/internal/services"
)

// DefaultKind is used for entries saved without an annotation kind.
const DefaultKind = "Undefined"

// Entry is one tuple of a subset.
type Entry struct {
	Dataset string `json:"videoset"`
	Camera  string `json:"camera"`
	Kind    string `json:"annotation_suffix"`
}

// Summary describes a stored subset.
type Summary struct {
	Name      string    `json:"name"`
	Entries   int       `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages subset persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the subset database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure subset db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the sqlite database file backing the store.
func (s *Store) Path() string { return s.path }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", services.Wrap(services.ErrInvalidInput, "subsets", "validate", "subset name is required", nil)
	}
	return name, nil
}

// Save stores entries under name, replacing any previous content.
func (s *Store) Save(ctx context.Context, name string, entries []Entry) error {
	name, err := validateName(name)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Dataset) == "" || strings.TrimSpace(e.Camera) == "" {
			return services.Wrap(services.ErrInvalidInput, "subsets", "save", fmt.Sprintf("entry %d needs a dataset and a camera", i), nil)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subsets (name, created_at, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`,
		name, now, now,
	); err != nil {
		return fmt.Errorf("upsert subset: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM subset_entries WHERE subset = ?", name); err != nil {
		return fmt.Errorf("clear subset entries: %w", err)
	}
	for i, e := range entries {
		kind := strings.TrimSpace(e.Kind)
		if kind == "" {
			kind = DefaultKind
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO subset_entries (subset, position, dataset, camera, annotation_kind) VALUES (?, ?, ?, ?, ?)",
			name, i, e.Dataset, e.Camera, kind,
		); err != nil {
			return fmt.Errorf("insert subset entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subset: %w", err)
	}
	return nil
}

// Load returns the entries of a subset in saved order.
func (s *Store) Load(ctx context.Context, name string) ([]Entry, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM subsets WHERE name = ?", name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup subset: %w", err)
	}
	if exists == 0 {
		return nil, services.Wrap(services.ErrNotFound, "subsets", "load", fmt.Sprintf("subset %q not found", name), nil)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT dataset, camera, annotation_kind FROM subset_entries WHERE subset = ? ORDER BY position",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("query subset entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Dataset, &e.Camera, &e.Kind); err != nil {
			return nil, fmt.Errorf("scan subset entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns stored subsets sorted by name.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.name, s.updated_at, COUNT(e.position)
         FROM subsets s LEFT JOIN subset_entries e ON e.subset = s.name
         GROUP BY s.name ORDER BY s.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subsets: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			updated string
		)
		if err := rows.Scan(&sum.Name, &updated, &sum.Entries); err != nil {
			return nil, fmt.Errorf("scan subset: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			sum.UpdatedAt = ts
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a subset. Unknown names are not found.
func (s *Store) Delete(ctx context.Context, name string) error {
	name, err := validateName(name)
	if err != nil {
		return err
	}
	// Pragmas apply per connection, so entries are removed explicitly rather
	// than through the cascade.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, "DELETE FROM subset_entries WHERE subset = ?", name); err != nil {
		return fmt.Errorf("delete subset entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM subsets WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete subset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return services.Wrap(services.ErrNotFound, "subsets", "delete", fmt.Sprintf("subset %q not found", name), nil)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a missing-subset error.
func IsNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no group has the requested id.
	ErrNotFound = errors.New("storage: not found")
	// ErrStoreUnavailable wraps failures reaching the backing store.
	ErrStoreUnavailable = errors.New("storage: unavailable")
)

// Group is a chat registered for reminders.
type Group struct {
	ID        string    `json:"id" db:"id"`
	Location  string    `json:"location" db:"location"`
	Country   string    `json:"country" db:"country"`
	Name      string    `json:"name,omitempty" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

//go:embed migrations
var migrations embed.FS

// Storage keeps groups in Postgres or SQLite.
type Storage struct {
	db      *sqlx.DB
	dialect string
	now     func() time.Time
}

func New(db *sqlx.DB, dialect string) *Storage {
	return &Storage{db: db, dialect: dialect, now: time.Now}
}

// Open connects with driver "postgres" (pgx) or "sqlite" (modernc).
func Open(driver, dsn string) (*sqlx.DB, error) {
	var name string
	switch driver {
	case "postgres":
		name = "pgx"
	case "sqlite":
		name = "sqlite"
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := sqlx.Open(name, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// a single connection keeps ":memory:" databases shared
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", driver, err)
	}
	return db, nil
}

// Migrate applies the embedded *.up.sql files for the dialect in name order.
func (s *Storage) Migrate(ctx context.Context) error {
	dir := path.Join("migrations", s.dialect)
	files, err := fs.Glob(migrations, path.Join(dir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations for dialect %q", s.dialect)
	}
	sort.Strings(files)
	for _, file := range files {
		stmt, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %q: %w", file, err)
		}
		if strings.TrimSpace(string(stmt)) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, string(stmt)); err != nil {
			return fmt.Errorf("execute migration %q: %w", file, err)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

const groupColumns = `id, location, country, name, active, created_at, updated_at`

func (s *Storage) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	err := s.db.SelectContext(ctx, &groups, `SELECT `+groupColumns+` FROM chat_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list groups: %v", ErrStoreUnavailable, err)
	}
	return groups, nil
}

func (s *Storage) GetGroup(ctx context.Context, id string) (*Group, error) {
	var g Group
	err := s.db.GetContext(ctx, &g, s.db.Rebind(`SELECT `+groupColumns+` FROM chat_groups WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: group %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get group: %v", ErrStoreUnavailable, err)
	}
	return &g, nil
}

// UpsertGroup inserts a group or replaces its fields, keeping created_at.
func (s *Storage) UpsertGroup(ctx context.Context, g Group) (*Group, error) {
	now := s.now().UTC()
	query := s.db.Rebind(`INSERT INTO chat_groups (` + groupColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    location = excluded.location,
    country = excluded.country,
    name = excluded.name,
    active = excluded.active,
    updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, g.ID, g.Location, g.Country, g.Name, g.Active, now, now); err != nil {
		return nil, fmt.Errorf("%w: upsert group: %v", ErrStoreUnavailable, err)
	}
	return s.GetGroup(ctx, g.ID)
}

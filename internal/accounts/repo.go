// Package accounts manages staff accounts allowed to issue IDs.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"boacid/internal/store"
)

// User is a staff account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

var schemas = map[string]string{
	store.DialectSQLite: `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL
		)`,
	store.DialectPostgres: `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		)`,
}

// Repository persists staff accounts.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the users table if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	schema, ok := schemas[r.db.Dialect]
	if !ok {
		return fmt.Errorf("accounts: unsupported dialect %q", r.db.Dialect)
	}
	_, err := r.db.Client.ExecContext(ctx, schema)
	return err
}

// Create inserts a user, assigning its id and creation time.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now().UTC().Truncate(time.Second)
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`), u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, err
	}
	return u, nil
}

// GetByUsername returns the user with that username, or nil when none exists.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, username, password_hash, created_at FROM users WHERE username = ?
	`), username)
	return scanUser(row)
}

// GetByID returns the user with that id, or nil when none exists.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, username, password_hash, created_at FROM users WHERE id = ?
	`), id)
	return scanUser(row)
}

// Count returns the number of accounts.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

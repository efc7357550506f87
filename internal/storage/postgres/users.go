package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Tyrowin/gamehub/internal/account"
)

const userColumns = `id, username, email, password_hash, role, created_at, updated_at`

// UserStore persists users in the users table.
type UserStore struct {
	db *sql.DB
}

// NewUserStore returns a UserStore using db.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*account.User, error) {
	var u account.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = account.Role(role)
	return &u, nil
}

func (s *UserStore) getOne(ctx context.Context, query string, arg any) (*account.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetByID returns the user for id, or nil if not found.
func (s *UserStore) GetByID(ctx context.Context, id string) (*account.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername matches username case-insensitively.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*account.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
}

// GetByEmail matches email case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

func (s *UserStore) Create(ctx context.Context, u *account.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

func (s *UserStore) List(ctx context.Context, limit, offset int) ([]*account.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*account.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) UpdateRole(ctx context.Context, id string, role account.Role, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, id, string(role), at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// requireRow reports account.ErrNotFound when res affected no rows.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return account.ErrNotFound
	}
	return nil
}

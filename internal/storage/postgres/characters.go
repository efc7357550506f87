package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Tyrowin/gamehub/internal/account"
)

const characterColumns = `id, user_id, name, class, level, created_at, updated_at`

// CharacterStore persists characters in the characters table.
type CharacterStore struct {
	db *sql.DB
}

// NewCharacterStore returns a CharacterStore using db.
func NewCharacterStore(db *sql.DB) *CharacterStore {
	return &CharacterStore{db: db}
}

func scanCharacter(row rowScanner) (*account.Character, error) {
	var c account.Character
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Class, &c.Level, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CharacterStore) query(ctx context.Context, query string, args ...any) ([]*account.Character, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*account.Character, 0)
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (s *CharacterStore) Create(ctx context.Context, c *account.Character) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO characters (`+characterColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, c.Name, c.Class, c.Level, c.CreatedAt, c.UpdatedAt)
	return mapWriteErr(err)
}

// GetByID returns the character for id, or nil if not found.
func (s *CharacterStore) GetByID(ctx context.Context, id string) (*account.Character, error) {
	c, err := scanCharacter(s.db.QueryRowContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *CharacterStore) ListByUser(ctx context.Context, userID string) ([]*account.Character, error) {
	return s.query(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (s *CharacterStore) List(ctx context.Context, limit, offset int) ([]*account.Character, error) {
	return s.query(ctx,
		`SELECT `+characterColumns+` FROM characters ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
}

func (s *CharacterStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM characters WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func (s *CharacterStore) Update(ctx context.Context, c *account.Character) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET name = $2, class = $3, level = $4, updated_at = $5 WHERE id = $1`,
		c.ID, c.Name, c.Class, c.Level, c.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return requireRow(res)
}

func (s *CharacterStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM characters WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Package postgres implements the account and refresh token repositories on
// top of database/sql with the pgx driver.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Tyrowin/gamehub/internal/account"
)

const uniqueViolation = "23505"

// mapWriteErr turns unique violations into account.ErrDuplicate.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return account.ErrDuplicate
	}
	return err
}

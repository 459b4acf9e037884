// Package repository persists the local job ledger in SQLite.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"millq/internal/domain"
)

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	return err
}

func mapNotFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound(format, args...)
	}
	return mapDBError(err)
}

func requireAffected(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound(format, args...)
	}
	return nil
}

package sqlstore

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"residencial.org/internal/auth"
)

const pgErrUniqueViolation = "23505"

var constraintFields = map[string]string{
	"persons_document_number_key":     "document_number",
	"persons_username_key":            "username",
	"person_emails_email_key":         "email",
	"roles_name_key":                  "name",
	"permissions_code_key":            "code",
	"sessions_token_hash_key":         "token",
	"sessions_refresh_token_hash_key": "refresh_token",
}

// mapWriteError turns unique violations from either driver into *auth.DuplicateFieldError.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		field := constraintFields[pgErr.ConstraintName]
		return &auth.DuplicateFieldError{Field: field}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && isSQLiteUnique(liteErr) {
		return &auth.DuplicateFieldError{Field: sqliteColumn(liteErr.Error())}
	}
	return err
}

// sqliteColumn extracts "col" from "... UNIQUE constraint failed: table.col".
func sqliteColumn(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	rest := msg[i+len(marker):]
	if j := strings.IndexAny(rest, ", )"); j >= 0 {
		rest = rest[:j]
	}
	if k := strings.LastIndexByte(rest, '.'); k >= 0 {
		rest = rest[k+1:]
	}
	if f, ok := map[string]string{"token_hash": "token", "refresh_token_hash": "refresh_token"}[rest]; ok {
		return f
	}
	return rest
}

func isSQLiteUnique(e *sqlite.Error) bool {
	switch e.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(e.Error(), "UNIQUE constraint failed")
	}
	return false
}

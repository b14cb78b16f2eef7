// Package pgerr classifies PostgreSQL error codes the finance core cares
// about.
package pgerr

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsUniqueViolation reports a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsContention reports transient lock/serialization failures that a caller
// should retry with backoff rather than surface immediately.
func IsContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	}
	return false
}

// IsUndefinedTable reports a missing relation. The overlap detector treats
// this as "no history" rather than a hard failure.
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

// IsUnreachable reports that the server could not be reached at all:
// refused or failed dials, network errors mid-query, or a query timeout.
// Lenient read paths treat these as "no history", like a missing table.
func IsUnreachable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

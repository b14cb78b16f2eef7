package pgerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsContention(t *testing.T) {
	assert.True(t, IsContention(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsContention(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsContention(&pgconn.PgError{Code: "55P03"}))
	assert.False(t, IsContention(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsContention(errors.New("plain")))
}

func TestIsUnreachable(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	assert.True(t, IsUnreachable(refused))
	assert.True(t, IsUnreachable(fmt.Errorf("query overlapping records: %w", refused)))
	assert.True(t, IsUnreachable(context.DeadlineExceeded))

	assert.False(t, IsUnreachable(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, IsUnreachable(errors.New("plain")))
	assert.False(t, IsUnreachable(nil))
}

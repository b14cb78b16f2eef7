package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/clinic-finance/internal/fault"
	"github.com/example/clinic-finance/internal/pgerr"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// ErrBadCredentials is returned for both unknown users and wrong
// passwords so callers cannot probe for usernames.
var ErrBadCredentials = errors.New("invalid username or password")

// User is a back-office login. The password hash never leaves this
// package.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// UserStore persists back-office users.
type UserStore struct {
	Pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{Pool: pool}
}

const userColumns = `id, username, display_name, role, status, created_at::text`

func validRole(role string) bool {
	return role == RoleAdmin || role == RoleStaff
}

// CreateUser stores a new user with a bcrypt-hashed password.
func (s *UserStore) CreateUser(ctx context.Context, username, password, displayName, role string) (*User, error) {
	if username == "" {
		return nil, fault.New(fault.Validation, "username is required")
	}
	if len(password) < 8 {
		return nil, fault.New(fault.Validation, "password must be at least 8 characters")
	}
	if !validRole(role) {
		return nil, fault.New(fault.Validation, "role must be %q or %q", RoleAdmin, RoleStaff)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var u User
	err = s.Pool.QueryRow(queryCtx, `
		INSERT INTO users (username, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		username, string(hash), displayName, role).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Status, &u.CreatedAt)
	if err != nil {
		if pgerr.IsUniqueViolation(err) {
			return nil, fault.New(fault.Conflict, "username %q is taken", username)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

// Authenticate checks a username/password pair against the stored hash.
// Inactive users cannot log in.
func (s *UserStore) Authenticate(ctx context.Context, username, password string) (*User, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		u    User
		hash string
	)
	err := s.Pool.QueryRow(queryCtx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE username = $1 AND status = 'active'`, username).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Status, &u.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Burn a comparison anyway to keep timing flat.
			bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("load user %q: %w", username, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return &u, nil
}

// GetUser loads a user by id.
func (s *UserStore) GetUser(ctx context.Context, id int64) (*User, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var u User
	err := s.Pool.QueryRow(queryCtx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Status, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "user %d not found", id)
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// ListUsers returns all users by username.
func (s *UserStore) ListUsers(ctx context.Context) ([]*User, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx,
		`SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Status, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// SetPassword replaces a user's password.
func (s *UserStore) SetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < 8 {
		return fault.New(fault.Validation, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx,
		`UPDATE users SET password_hash = $1 WHERE id = $2`, string(hash), id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "user %d not found", id)
	}
	return nil
}

// DeactivateUser blocks further logins without deleting history.
func (s *UserStore) DeactivateUser(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx,
		`UPDATE users SET status = 'inactive' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate user %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.NotFound, "user %d not found", id)
	}
	return nil
}

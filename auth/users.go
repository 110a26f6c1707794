package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/pagemark/dbopen"
	"github.com/hazyhaar/pagemark/idgen"
)

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	handle        TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	created_at    INTEGER NOT NULL
);
`

var (
	// ErrBadCredentials covers unknown handles, disabled accounts and wrong
	// passwords alike.
	ErrBadCredentials = errors.New("auth: bad credentials")
	ErrUserExists     = errors.New("auth: user exists")
)

// MinPassword is the shortest accepted password.
const MinPassword = 10

// Users keeps the hub accounts that may exchange a password for a token.
type Users struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
	cost  int
}

// NewUsers applies the users table to db.
func NewUsers(db *sql.DB) (*Users, error) {
	if _, err := db.Exec(usersSchema); err != nil {
		return nil, fmt.Errorf("auth: users schema: %w", err)
	}
	return &Users{db: db, newID: idgen.Prefixed("usr_", idgen.Default), now: time.Now, cost: bcrypt.DefaultCost}, nil
}

// Create adds an active account. role is "reviewer" or "viewer".
func (u *Users) Create(ctx context.Context, handle, name, password, role string) (*Claims, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if handle == "" {
		return nil, errors.New("auth: handle is required")
	}
	if role != "reviewer" && role != "viewer" {
		return nil, fmt.Errorf("auth: unknown role %q", role)
	}
	if len(password) < MinPassword {
		return nil, fmt.Errorf("auth: password shorter than %d characters", MinPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	id := u.newID()
	_, err = dbopen.Exec(ctx, u.db,
		`INSERT INTO users (id, handle, name, role, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, handle, name, role, string(hash), u.now().UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, handle)
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return &Claims{UserID: id, Handle: handle, Name: name, Role: role}, nil
}

// Authenticate checks password against the account of handle and returns
// the claims to sign.
func (u *Users) Authenticate(ctx context.Context, handle, password string) (*Claims, error) {
	var c Claims
	var hash string
	err := u.db.QueryRowContext(ctx,
		`SELECT id, handle, name, role, password_hash FROM users WHERE handle = ? AND status = 'active'`,
		strings.ToLower(strings.TrimSpace(handle))).
		Scan(&c.UserID, &c.Handle, &c.Name, &c.Role, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return &c, nil
}

// Disable keeps the account but refuses its logins.
func (u *Users) Disable(ctx context.Context, handle string) error {
	res, err := dbopen.Exec(ctx, u.db, `UPDATE users SET status = 'disabled' WHERE handle = ?`,
		strings.ToLower(strings.TrimSpace(handle)))
	if err != nil {
		return fmt.Errorf("auth: disable user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("auth: disable user: no account %q", handle)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Environment is one configured AWX instance. The credential fields hold
// AES-GCM sealed blobs; the store never sees plaintext secrets.
type Environment struct {
	Name               string
	URL                string
	InsecureSkipVerify bool
	UsernameEnc        []byte
	PasswordEnc        []byte
	TokenEnc           []byte
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SaveEnvironment inserts or replaces an environment by name. The active
// flag is preserved on replacement.
func (s *Store) SaveEnvironment(ctx context.Context, env *Environment) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO environments (name, url, insecure_skip_verify, username_enc, password_enc, token_enc, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			insecure_skip_verify = excluded.insecure_skip_verify,
			username_enc = excluded.username_enc,
			password_enc = excluded.password_enc,
			token_enc = excluded.token_enc,
			updated_at = excluded.updated_at
	`, env.Name, env.URL, boolToInt(env.InsecureSkipVerify),
		env.UsernameEnc, env.PasswordEnc, env.TokenEnc, now, now)
	if err != nil {
		return fmt.Errorf("save environment %q: %w", env.Name, err)
	}
	return nil
}

// GetEnvironment fetches one environment by name.
func (s *Store) GetEnvironment(ctx context.Context, name string) (*Environment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, url, insecure_skip_verify, username_enc, password_enc, token_enc, is_active, created_at, updated_at
		FROM environments WHERE name = ?
	`, name)

	env, err := scanEnvironment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get environment %q: %w", name, err)
	}
	return env, nil
}

// ListEnvironments returns all environments ordered by name.
func (s *Store) ListEnvironments(ctx context.Context) ([]*Environment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, url, insecure_skip_verify, username_enc, password_enc, token_enc, is_active, created_at, updated_at
		FROM environments ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	var out []*Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate environments: %w", err)
	}
	return out, nil
}

// ActiveEnvironment returns the currently selected environment, or
// ErrNotFound when none is active.
func (s *Store) ActiveEnvironment(ctx context.Context) (*Environment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, url, insecure_skip_verify, username_enc, password_enc, token_enc, is_active, created_at, updated_at
		FROM environments WHERE is_active = 1
	`)

	env, err := scanEnvironment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active environment: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("active environment: %w", err)
	}
	return env, nil
}

// SetActiveEnvironment marks name as the active environment and clears the
// flag on every other row, atomically.
func (s *Store) SetActiveEnvironment(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set active environment: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE environments SET is_active = 0 WHERE is_active = 1"); err != nil {
		return fmt.Errorf("clear active flag: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE environments SET is_active = 1, updated_at = ? WHERE name = ?",
		time.Now(), name)
	if err != nil {
		return fmt.Errorf("set active flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set active flag: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("environment %q: %w", name, ErrNotFound)
	}

	return tx.Commit()
}

// DeleteEnvironment removes an environment by name.
func (s *Store) DeleteEnvironment(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM environments WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete environment %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete environment %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("environment %q: %w", name, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*Environment, error) {
	var env Environment
	var insecure, active int
	if err := row.Scan(
		&env.Name, &env.URL, &insecure,
		&env.UsernameEnc, &env.PasswordEnc, &env.TokenEnc,
		&active, &env.CreatedAt, &env.UpdatedAt,
	); err != nil {
		return nil, err
	}
	env.InsecureSkipVerify = insecure != 0
	env.Active = active != 0
	return &env, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

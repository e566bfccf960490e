package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// Authenticate checks email and password against users.password_hash.
func (c *PostgresClient) Authenticate(ctx context.Context, email, password string) (string, error) {
	var id, hash string
	err := c.db.QueryRow(ctx,
		`SELECT id::text, password_hash FROM users WHERE email = $1`, email,
	).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", common.ErrorUnauthorized
	}
	if err != nil {
		return "", mapError(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", common.ErrorUnauthorized
	}
	return id, nil
}

// Register creates an account and returns its id.
func (c *PostgresClient) Register(ctx context.Context, email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	var id string
	err = c.db.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id::text`,
		email, string(hash),
	).Scan(&id)
	if err != nil {
		return "", mapError(err)
	}
	return id, nil
}

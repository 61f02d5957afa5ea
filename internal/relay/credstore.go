package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUnknownPixel means no credential is registered for the pixel id.
var ErrUnknownPixel = errors.New("no credential registered for pixel")

// CredentialStore resolves the server-held access token for a pixel id.
// Lookup happens server-side so the secret never has to come from the caller.
type CredentialStore interface {
	Lookup(ctx context.Context, pixelID string) (string, error)
}

// StaticCredentialStore serves credentials from an in-memory map, fed by the
// relay's own configuration. Used when no database is wired.
type StaticCredentialStore struct {
	tokens map[string]string
}

// NewStaticCredentialStore builds a static store from pixel-id → token.
func NewStaticCredentialStore(tokens map[string]string) *StaticCredentialStore {
	if tokens == nil {
		tokens = map[string]string{}
	}
	return &StaticCredentialStore{tokens: tokens}
}

func (s *StaticCredentialStore) Lookup(ctx context.Context, pixelID string) (string, error) {
	tok, ok := s.tokens[pixelID]
	if !ok || tok == "" {
		return "", ErrUnknownPixel
	}
	return tok, nil
}

// PGCredentialStore resolves credentials from the kwai_pixels table managed
// by the settings backend.
type PGCredentialStore struct {
	db *sql.DB
}

// NewPGCredentialStore creates a Postgres-backed credential store.
func NewPGCredentialStore(db *sql.DB) *PGCredentialStore {
	return &PGCredentialStore{db: db}
}

func (s *PGCredentialStore) Lookup(ctx context.Context, pixelID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token
		FROM kwai_pixels
		WHERE pixel_id = $1 AND is_active = true AND access_token <> ''
	`, pixelID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", ErrUnknownPixel
	}
	if err != nil {
		return "", fmt.Errorf("lookup pixel credential: %w", err)
	}
	return token, nil
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/project"
)

// KeyStore looks up API keys by the SHA-256 hash of the presented secret.
type KeyStore interface {
	LookupAPIKey(ctx context.Context, hash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID) error
}

type APIKeyMiddleware struct {
	keys       KeyStore
	headerName string
	directory  Directory
}

func NewAPIKeyMiddleware(keys KeyStore, headerName string, dir Directory) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		keys:       keys,
		headerName: headerName,
		directory:  dir,
	}
}

// Authenticate resolves the project from the API key header. Requests
// without the header pass through untouched.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.headerName)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ak, err := m.keys.LookupAPIKey(r.Context(), HashAPIKey(key))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if ak.ExpiresAt != nil && ak.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "API key expired")
			return
		}

		go func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.keys.TouchAPIKey(ctx, id); err != nil {
				slog.Warn("failed to update api key last use", "key_id", id, "error", err)
			}
		}(ak.ID)

		p, err := m.directory.GetByID(r.Context(), ak.ProjectID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "project not found")
			return
		}

		ctx := project.WithProject(r.Context(), p)
		ctx = context.WithValue(ctx, apiKeyKey, ak)

		if ak.UserID != nil {
			user, err := m.directory.GetUserByID(r.Context(), *ak.UserID)
			if err == nil {
				ctx = project.WithUser(ctx, user)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// GenerateAPIKey returns a new random key secret.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "pl_" + hex.EncodeToString(b), nil
}

// PGKeyStore reads API keys from Postgres.
type PGKeyStore struct {
	db *pgxpool.Pool
}

func NewPGKeyStore(db *pgxpool.Pool) *PGKeyStore {
	return &PGKeyStore{db: db}
}

func (s *PGKeyStore) LookupAPIKey(ctx context.Context, hash string) (*models.APIKey, error) {
	var ak models.APIKey
	err := s.db.QueryRow(ctx,
		`SELECT id, project_id, user_id, key_hash, name, scopes, last_used_at, expires_at, created_at
		 FROM api_keys WHERE key_hash = $1`, hash,
	).Scan(&ak.ID, &ak.ProjectID, &ak.UserID, &ak.KeyHash, &ak.Name, &ak.Scopes, &ak.LastUsedAt, &ak.ExpiresAt, &ak.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	return &ak, nil
}

func (s *PGKeyStore) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, "UPDATE api_keys SET last_used_at = now() WHERE id = $1", id)
	return err
}

// CreateAPIKey issues a key for a project and returns its secret, which is
// not stored.
func (s *PGKeyStore) CreateAPIKey(ctx context.Context, projectID uuid.UUID, name string, scopes []string) (string, *models.APIKey, error) {
	secret, err := GenerateAPIKey()
	if err != nil {
		return "", nil, err
	}

	ak := models.APIKey{ProjectID: projectID, KeyHash: HashAPIKey(secret), Name: name, Scopes: scopes}
	err = s.db.QueryRow(ctx,
		`INSERT INTO api_keys (project_id, key_hash, name, scopes) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		projectID, ak.KeyHash, name, scopes,
	).Scan(&ak.ID, &ak.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	return secret, &ak, nil
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/project"
)

// Directory resolves the project and user an authenticated request acts as.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type Claims struct {
	Sub       string `json:"sub"`
	Email     string `json:"email"`
	ProjectID string `json:"project_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

type JWTMiddleware struct {
	secret    []byte
	directory Directory
}

func NewJWTMiddleware(secret string, dir Directory) *JWTMiddleware {
	return &JWTMiddleware{
		secret:    []byte(secret),
		directory: dir,
	}
}

// Authenticate requires a valid bearer token unless an earlier middleware
// already resolved the project from an API key.
func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if project.FromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "token expired")
			return
		}

		userID, err := uuid.Parse(claims.Sub)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid user ID in token")
			return
		}

		ctx := r.Context()

		user, err := m.directory.GetUserByID(ctx, userID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "user not found")
			return
		}

		p, err := m.directory.GetByID(ctx, user.ProjectID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "project not found")
			return
		}

		ctx = project.WithProject(ctx, p)
		ctx = project.WithUser(ctx, user)
		ctx = context.WithValue(ctx, claimsKey, claims)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey string

const (
	claimsKey ctxKey = "claims"
	apiKeyKey ctxKey = "api_key"
)

func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// APIKeyFromContext returns the key that authenticated the request, if any.
func APIKeyFromContext(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(apiKeyKey).(*models.APIKey)
	return k
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

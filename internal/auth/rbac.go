package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/promptlib/internal/project"
)

type Permission string

const (
	PermPromptsRead     Permission = "prompts:read"
	PermPromptsWrite    Permission = "prompts:write"
	PermPromptsPredict  Permission = "prompts:predict"
	PermPromptsModerate Permission = "prompts:moderate"
	PermWebhooksManage  Permission = "webhooks:manage"
	PermAdminRead       Permission = "admin:read"
	PermWildcard        Permission = "*"
)

// RoleStore returns the permissions granted to a role.
type RoleStore interface {
	RolePermissions(ctx context.Context, roleID uuid.UUID) ([]string, error)
}

type RBAC struct {
	roles RoleStore
}

func NewRBAC(roles RoleStore) *RBAC {
	return &RBAC{roles: roles}
}

// RequirePermission admits requests whose API key scopes or user role grant
// perm. A scoped API key is checked against its scopes only.
func (r *RBAC) RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if ak := APIKeyFromContext(req.Context()); ak != nil && len(ak.Scopes) > 0 {
				if !grants(ak.Scopes, perm) {
					writeError(w, http.StatusForbidden, "insufficient permissions")
					return
				}
				next.ServeHTTP(w, req)
				return
			}

			user := project.UserFromContext(req.Context())
			if user == nil {
				writeError(w, http.StatusForbidden, "no user in context")
				return
			}

			if user.RoleID == nil {
				writeError(w, http.StatusForbidden, "no role assigned")
				return
			}

			perms, err := r.roles.RolePermissions(req.Context(), *user.RoleID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "permission check failed")
				return
			}
			if !grants(perms, perm) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

func grants(perms []string, perm Permission) bool {
	return slices.Contains(perms, string(PermWildcard)) || slices.Contains(perms, string(perm))
}

// PGRoleStore reads role permissions from Postgres.
type PGRoleStore struct {
	db *pgxpool.Pool
}

func NewPGRoleStore(db *pgxpool.Pool) *PGRoleStore {
	return &PGRoleStore{db: db}
}

func (s *PGRoleStore) RolePermissions(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	var permJSON json.RawMessage
	err := s.db.QueryRow(ctx,
		"SELECT permissions FROM roles WHERE id = $1", roleID,
	).Scan(&permJSON)
	if err != nil {
		return nil, fmt.Errorf("get role permissions: %w", err)
	}

	var perms []string
	if err := json.Unmarshal(permJSON, &perms); err != nil {
		return nil, fmt.Errorf("decode role permissions: %w", err)
	}
	return perms, nil
}

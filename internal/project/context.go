package project

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/models"
)

type contextKey string

const (
	projectKey contextKey = "project"
	userKey    contextKey = "user"
)

func WithProject(ctx context.Context, p *models.Project) context.Context {
	return context.WithValue(ctx, projectKey, p)
}

func FromContext(ctx context.Context) *models.Project {
	p, _ := ctx.Value(projectKey).(*models.Project)
	return p
}

// IDFromContext returns the authenticated project's ID, or uuid.Nil.
func IDFromContext(ctx context.Context) uuid.UUID {
	if p := FromContext(ctx); p != nil {
		return p.ID
	}
	return uuid.Nil
}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return uuid.Nil
}

package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/promptlib/internal/models"
)

var ErrNotFound = errors.New("not found")

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow(ctx,
		"SELECT id, name, slug, settings, created_at, updated_at FROM projects WHERE id = $1", id,
	).Scan(&p.ID, &p.Name, &p.Slug, &p.Settings, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *Service) Create(ctx context.Context, name, slug string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow(ctx,
		`INSERT INTO projects (name, slug) VALUES ($1, $2)
		 RETURNING id, name, slug, settings, created_at, updated_at`,
		name, slug,
	).Scan(&p.ID, &p.Name, &p.Slug, &p.Settings, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

// GetUserByID looks up a user regardless of project; prompt versions carry
// author IDs that are resolved through it.
func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		"SELECT id, project_id, role_id, email, full_name, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.ProjectID, &u.RoleID, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

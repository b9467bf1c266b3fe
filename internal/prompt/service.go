package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/project"
)

// ErrVersionLocked is returned when changing the content of a published version.
var ErrVersionLocked = errors.New("prompt version is published and cannot be changed")

// ErrStatusChanged is returned when a version's status changed concurrently.
var ErrStatusChanged = errors.New("prompt version status changed concurrently")

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// VersionInput is the content of a new prompt version.
type VersionInput struct {
	Context       string         `json:"context"`
	Messages      []Message      `json:"messages"`
	Variables     []Variable     `json:"variables"`
	Tags          []string       `json:"tags"`
	ModelSettings *ModelSettings `json:"model_settings,omitempty"`
}

func (in VersionInput) Validate() error {
	if err := validateRoles("messages", in.Messages); err != nil {
		return err
	}
	for i, v := range in.Variables {
		if strings.TrimSpace(v.Name) == "" {
			return &ValidationError{Field: fmt.Sprintf("variables[%d].name", i), Reason: "must not be empty"}
		}
	}
	return nil
}

// declaredVariables returns the input's variables plus an empty default for
// every variable its templates print but do not declare.
func (in VersionInput) declaredVariables() []Variable {
	seen := make(map[string]bool, len(in.Variables))
	vars := make([]Variable, 0, len(in.Variables))
	for _, v := range in.Variables {
		if !seen[v.Name] {
			vars = append(vars, v)
			seen[v.Name] = true
		}
	}

	texts := []string{in.Context}
	for _, m := range in.Messages {
		texts = append(texts, m.Content)
	}
	for _, name := range ExtractVariables(strings.Join(texts, "\n")) {
		if !seen[name] {
			vars = append(vars, Variable{Name: name})
			seen[name] = true
		}
	}
	return vars
}

type CreateRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Version     VersionInput `json:"version"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Prompt, *models.PromptVersion, error) {
	projectID := project.IDFromContext(ctx)
	authorID := project.UserIDFromContext(ctx)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var p models.Prompt
	err = tx.QueryRow(ctx,
		`INSERT INTO prompts (project_id, owner_id, name, description, current_version)
		 VALUES ($1, $2, $3, $4, 1)
		 RETURNING id, project_id, owner_id, name, description, current_version, created_at`,
		projectID, authorID, req.Name, req.Description,
	).Scan(&p.ID, &p.ProjectID, &p.OwnerID, &p.Name, &p.Description, &p.CurrentVersion, &p.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert prompt: %w", err)
	}

	v, err := insertVersion(ctx, tx, projectID, p.ID, 1, authorID, req.Version)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return &p, v, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, []models.PromptVersion, error) {
	projectID := project.IDFromContext(ctx)

	var p models.Prompt
	err := s.db.QueryRow(ctx,
		`SELECT id, project_id, owner_id, name, description, current_version, created_at
		 FROM prompts WHERE id = $1 AND project_id = $2`,
		id, projectID,
	).Scan(&p.ID, &p.ProjectID, &p.OwnerID, &p.Name, &p.Description, &p.CurrentVersion, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get prompt: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, prompt_id, version, author_id, context, model_settings, status, reject_details, created_at
		 FROM prompt_versions WHERE prompt_id = $1 ORDER BY version DESC`,
		id,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("get versions: %w", err)
	}
	defer rows.Close()

	var versions []models.PromptVersion
	for rows.Next() {
		var v models.PromptVersion
		if err := scanVersion(rows, &v); err != nil {
			return nil, nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate versions: %w", err)
	}
	return &p, versions, nil
}

type ListQuery struct {
	Limit  int
	Offset int
	Tag    string
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]models.Prompt, error) {
	projectID := project.IDFromContext(ctx)
	if q.Limit <= 0 {
		q.Limit = 20
	}

	query := `SELECT p.id, p.project_id, p.owner_id, p.name, p.description, p.current_version, p.created_at
			  FROM prompts p WHERE p.project_id = $1`
	args := []any{projectID}
	argIdx := 2

	if q.Tag != "" {
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM prompt_versions v
			JOIN prompt_version_tags vt ON vt.version_id = v.id
			JOIN prompt_tags t ON t.id = vt.tag_id
			WHERE v.prompt_id = p.id AND t.name = $%d)`, argIdx)
		args = append(args, strings.ToLower(q.Tag))
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.OwnerID, &p.Name, &p.Description, &p.CurrentVersion, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (s *Service) CreateVersion(ctx context.Context, promptID uuid.UUID, in VersionInput) (*models.PromptVersion, error) {
	projectID := project.IDFromContext(ctx)
	authorID := project.UserIDFromContext(ctx)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentVersion int
	err = tx.QueryRow(ctx,
		"SELECT current_version FROM prompts WHERE id = $1 AND project_id = $2 FOR UPDATE",
		promptID, projectID,
	).Scan(&currentVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get current version: %w", err)
	}

	newVersion := currentVersion + 1
	v, err := insertVersion(ctx, tx, projectID, promptID, newVersion, authorID, in)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, "UPDATE prompts SET current_version = $1 WHERE id = $2", newVersion, promptID); err != nil {
		return nil, fmt.Errorf("update current version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, projectID, promptID uuid.UUID, number int, authorID uuid.UUID, in VersionInput) (*models.PromptVersion, error) {
	var settings []byte
	if in.ModelSettings != nil {
		b, err := json.Marshal(in.ModelSettings)
		if err != nil {
			return nil, fmt.Errorf("marshal model settings: %w", err)
		}
		settings = b
	}

	var v models.PromptVersion
	err := scanVersion(tx.QueryRow(ctx,
		`INSERT INTO prompt_versions (prompt_id, version, author_id, context, model_settings, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, prompt_id, version, author_id, context, model_settings, status, reject_details, created_at`,
		promptID, number, authorID, in.Context, settings, models.StatusDraft,
	), &v)
	if err != nil {
		return nil, fmt.Errorf("insert prompt version: %w", err)
	}

	for i, m := range in.Messages {
		var name *string
		if m.Name != "" {
			name = &m.Name
		}
		pm := models.PromptMessage{PromptVersionID: v.ID, Position: i, Role: m.Role, Name: name, Content: m.Content}
		err := tx.QueryRow(ctx,
			`INSERT INTO prompt_messages (prompt_version_id, position, role, name, content)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			v.ID, i, m.Role, name, m.Content,
		).Scan(&pm.ID)
		if err != nil {
			return nil, fmt.Errorf("insert message %d: %w", i, err)
		}
		v.Messages = append(v.Messages, pm)
	}

	for _, vv := range in.declaredVariables() {
		pv := models.PromptVariable{PromptVersionID: v.ID, Name: vv.Name, Value: vv.Value}
		err := tx.QueryRow(ctx,
			`INSERT INTO prompt_variables (prompt_version_id, name, value)
			 VALUES ($1, $2, $3) RETURNING id`,
			v.ID, vv.Name, vv.Value,
		).Scan(&pv.ID)
		if err != nil {
			return nil, fmt.Errorf("insert variable %s: %w", vv.Name, err)
		}
		v.Variables = append(v.Variables, pv)
	}

	for _, name := range in.Tags {
		var tag models.PromptTag
		err := tx.QueryRow(ctx,
			`INSERT INTO prompt_tags (project_id, name) VALUES ($1, $2)
			 ON CONFLICT (project_id, name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id, name, data`,
			projectID, strings.ToLower(strings.TrimSpace(name)),
		).Scan(&tag.ID, &tag.Name, &tag.Data)
		if err != nil {
			return nil, fmt.Errorf("upsert tag %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO prompt_version_tags (version_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			v.ID, tag.ID,
		); err != nil {
			return nil, fmt.Errorf("tag version: %w", err)
		}
		v.Tags = append(v.Tags, tag)
	}

	return &v, nil
}

// GetVersion loads a version of a prompt owned by projectID, with the
// relations selected by opts.
func (s *Service) GetVersion(ctx context.Context, projectID, versionID uuid.UUID, opts LoadOptions) (*models.PromptVersion, error) {
	var v models.PromptVersion
	err := scanVersion(s.db.QueryRow(ctx,
		`SELECT v.id, v.prompt_id, v.version, v.author_id, v.context, v.model_settings, v.status, v.reject_details, v.created_at
		 FROM prompt_versions v JOIN prompts p ON p.id = v.prompt_id
		 WHERE v.id = $1 AND p.project_id = $2`,
		versionID, projectID,
	), &v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	if opts.Messages {
		if v.Messages, err = s.versionMessages(ctx, v.ID); err != nil {
			return nil, err
		}
	}
	if opts.Variables {
		if v.Variables, err = s.versionVariables(ctx, v.ID); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

// GetPromptVersion loads a version with every relation, checking that it
// belongs to promptID.
func (s *Service) GetPromptVersion(ctx context.Context, promptID, versionID uuid.UUID) (*models.PromptVersion, error) {
	v, err := s.GetVersion(ctx, project.IDFromContext(ctx), versionID, FullLoad)
	if err != nil {
		return nil, err
	}
	if v.PromptID != promptID {
		return nil, ErrNotFound
	}
	if v.Tags, err = s.versionTags(ctx, v.ID); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) versionMessages(ctx context.Context, versionID uuid.UUID) ([]models.PromptMessage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, prompt_version_id, position, role, name, content
		 FROM prompt_messages WHERE prompt_version_id = $1 ORDER BY position`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.PromptMessage{}
	for rows.Next() {
		var m models.PromptMessage
		if err := rows.Scan(&m.ID, &m.PromptVersionID, &m.Position, &m.Role, &m.Name, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Service) versionVariables(ctx context.Context, versionID uuid.UUID) ([]models.PromptVariable, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, prompt_version_id, name, value
		 FROM prompt_variables WHERE prompt_version_id = $1 ORDER BY seq`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get variables: %w", err)
	}
	defer rows.Close()

	vars := []models.PromptVariable{}
	for rows.Next() {
		var v models.PromptVariable
		if err := rows.Scan(&v.ID, &v.PromptVersionID, &v.Name, &v.Value); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

func (s *Service) versionTags(ctx context.Context, versionID uuid.UUID) ([]models.PromptTag, error) {
	rows, err := s.db.Query(ctx,
		`SELECT t.id, t.name, t.data FROM prompt_tags t
		 JOIN prompt_version_tags vt ON vt.tag_id = t.id
		 WHERE vt.version_id = $1 ORDER BY t.name`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get version tags: %w", err)
	}
	defer rows.Close()

	var tags []models.PromptTag
	for rows.Next() {
		var t models.PromptTag
		if err := rows.Scan(&t.ID, &t.Name, &t.Data); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// CreateVariables adds variable defaults to a version that is not yet published.
func (s *Service) CreateVariables(ctx context.Context, promptID, versionID uuid.UUID, vars []Variable) ([]models.PromptVariable, error) {
	v, err := s.GetVersion(ctx, project.IDFromContext(ctx), versionID, LoadOptions{})
	if err != nil {
		return nil, err
	}
	if v.PromptID != promptID {
		return nil, ErrNotFound
	}
	if v.Published() {
		return nil, ErrVersionLocked
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result := make([]models.PromptVariable, 0, len(vars))
	for _, in := range vars {
		pv := models.PromptVariable{PromptVersionID: versionID, Name: in.Name, Value: in.Value}
		err := tx.QueryRow(ctx,
			`INSERT INTO prompt_variables (prompt_version_id, name, value) VALUES ($1, $2, $3)
			 ON CONFLICT (prompt_version_id, name) DO UPDATE SET value = EXCLUDED.value
			 RETURNING id`,
			versionID, in.Name, in.Value,
		).Scan(&pv.ID)
		if err != nil {
			return nil, fmt.Errorf("insert variable %s: %w", in.Name, err)
		}
		result = append(result, pv)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// SetStatus moves a version from status from to status to, recording details
// when it is rejected. It returns ErrStatusChanged if the version is no longer
// in from.
func (s *Service) SetStatus(ctx context.Context, versionID uuid.UUID, from, to models.PublishStatus, details *string) (*models.PromptVersion, error) {
	var v models.PromptVersion
	err := scanVersion(s.db.QueryRow(ctx,
		`UPDATE prompt_versions SET status = $3, reject_details = $4
		 WHERE id = $1 AND status = $2
		 RETURNING id, prompt_id, version, author_id, context, model_settings, status, reject_details, created_at`,
		versionID, from, to, details,
	), &v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("update version status: %w", err)
	}
	return &v, nil
}

// PromptTags lists the tags of every version of a prompt, oldest version first.
func (s *Service) PromptTags(ctx context.Context, promptID uuid.UUID) ([]models.PromptTag, error) {
	rows, err := s.db.Query(ctx,
		`SELECT t.id, t.name, t.data FROM prompt_tags t
		 JOIN prompt_version_tags vt ON vt.tag_id = t.id
		 JOIN prompt_versions v ON v.id = vt.version_id
		 JOIN prompts p ON p.id = v.prompt_id
		 WHERE v.prompt_id = $1 AND p.project_id = $2
		 ORDER BY v.version`,
		promptID, project.IDFromContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("get prompt tags: %w", err)
	}
	defer rows.Close()

	var tags []models.PromptTag
	for rows.Next() {
		var t models.PromptTag
		if err := rows.Scan(&t.ID, &t.Name, &t.Data); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// RankedTags returns the topN tags ordered by how many distinct prompts use them.
func (s *Service) RankedTags(ctx context.Context, topN int) ([]models.RankedTag, error) {
	if topN <= 0 {
		topN = 20
	}
	rows, err := s.db.Query(ctx,
		`SELECT t.id, t.name, t.data, COUNT(DISTINCT v.prompt_id) AS prompt_count
		 FROM prompt_tags t
		 JOIN prompt_version_tags vt ON vt.tag_id = t.id
		 JOIN prompt_versions v ON v.id = vt.version_id
		 WHERE t.project_id = $1
		 GROUP BY t.id, t.name, t.data
		 ORDER BY prompt_count DESC, t.name
		 LIMIT $2`,
		project.IDFromContext(ctx), topN,
	)
	if err != nil {
		return nil, fmt.Errorf("rank tags: %w", err)
	}
	defer rows.Close()

	var tags []models.RankedTag
	for rows.Next() {
		var t models.RankedTag
		if err := rows.Scan(&t.ID, &t.Name, &t.Data, &t.PromptCount); err != nil {
			return nil, fmt.Errorf("scan ranked tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Service) AuthorStats(ctx context.Context, authorID uuid.UUID) (*models.AuthorStats, error) {
	projectID := project.IDFromContext(ctx)

	var st models.AuthorStats
	err := s.db.QueryRow(ctx,
		`SELECT
			COUNT(DISTINCT p.id),
			COUNT(DISTINCT p.id) FILTER (WHERE v.status = $3)
		 FROM prompts p JOIN prompt_versions v ON v.prompt_id = p.id
		 WHERE p.project_id = $1 AND p.id IN (
			SELECT prompt_id FROM prompt_versions WHERE author_id = $2)`,
		projectID, authorID, models.StatusPublished,
	).Scan(&st.TotalPrompts, &st.PublicPrompts)
	if err != nil {
		return nil, fmt.Errorf("count prompts: %w", err)
	}

	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $3)
		 FROM collections WHERE project_id = $1 AND author_id = $2`,
		projectID, authorID, models.StatusPublished,
	).Scan(&st.TotalCollections, &st.PublicCollections)
	if err != nil {
		return nil, fmt.Errorf("count collections: %w", err)
	}
	return &st, nil
}

func scanVersion(row pgx.Row, v *models.PromptVersion) error {
	return row.Scan(&v.ID, &v.PromptID, &v.Version, &v.AuthorID, &v.Context, &v.ModelSettings, &v.Status, &v.RejectDetails, &v.CreatedAt)
}

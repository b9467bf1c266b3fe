package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptlib/internal/audit"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/project"
	"github.com/nikhilbhutani/promptlib/internal/prompt"
)

type memStore struct {
	versions map[uuid.UUID]*models.PromptVersion
	race     bool
}

func (m *memStore) GetVersion(_ context.Context, _, id uuid.UUID, _ prompt.LoadOptions) (*models.PromptVersion, error) {
	v, ok := m.versions[id]
	if !ok {
		return nil, prompt.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) SetStatus(_ context.Context, id uuid.UUID, from, to models.PublishStatus, details *string) (*models.PromptVersion, error) {
	v := m.versions[id]
	if m.race || v.Status != from {
		return nil, prompt.ErrStatusChanged
	}
	v.Status = to
	v.RejectDetails = details
	cp := *v
	return &cp, nil
}

type recorder struct {
	events      []models.NotificationEvent
	payloads    []any
	audits      []audit.LogEntry
	invalidated []uuid.UUID
}

func (r *recorder) Dispatch(_ context.Context, e models.NotificationEvent, p any) error {
	r.events = append(r.events, e)
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recorder) Log(_ context.Context, e audit.LogEntry) error {
	r.audits = append(r.audits, e)
	return nil
}

func (r *recorder) Invalidate(_ context.Context, _, id uuid.UUID) error {
	r.invalidated = append(r.invalidated, id)
	return errors.New("redis down")
}

func newFixture(status models.PublishStatus) (*Service, *memStore, *recorder, uuid.UUID, context.Context) {
	id := uuid.New()
	store := &memStore{versions: map[uuid.UUID]*models.PromptVersion{
		id: {ID: id, PromptID: uuid.New(), Version: 2, Status: status},
	}}
	rec := &recorder{}
	ctx := project.WithProject(context.Background(), &models.Project{ID: uuid.New()})
	return NewService(store, rec, rec, rec), store, rec, id, ctx
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.PublishStatus
		want     bool
	}{
		{models.StatusDraft, models.StatusOnModeration, true},
		{models.StatusRejected, models.StatusOnModeration, true},
		{models.StatusOnModeration, models.StatusPublished, true},
		{models.StatusOnModeration, models.StatusRejected, true},
		{models.StatusPublished, models.StatusRejected, true},
		{models.StatusDraft, models.StatusPublished, false},
		{models.StatusPublished, models.StatusDraft, false},
		{models.StatusRejected, models.StatusPublished, false},
		{models.StatusPublished, models.StatusPublished, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestApprove(t *testing.T) {
	svc, store, rec, id, ctx := newFixture(models.StatusOnModeration)

	res, err := svc.Approve(ctx, id)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, models.StatusPublished, res.Result.Status)
	assert.Equal(t, models.StatusPublished, store.versions[id].Status)

	assert.Equal(t, []models.NotificationEvent{models.EventModerationApprove}, rec.events)
	ev := rec.payloads[0].(Event)
	assert.Equal(t, id, ev.PromptVersionID)
	assert.Equal(t, 2, ev.Version)

	require.Len(t, rec.audits, 1)
	assert.Equal(t, audit.ActionVersionStatus, rec.audits[0].Action)
	assert.Equal(t, []uuid.UUID{id}, rec.invalidated)
}

func TestRejectRequiresDetails(t *testing.T) {
	svc, store, rec, id, ctx := newFixture(models.StatusPublished)

	res, err := svc.Reject(ctx, id, "   ")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, CodeDetailsRequired, res.ErrorCode)
	assert.Empty(t, rec.events)

	res, err = svc.Reject(ctx, id, "contains a leaked API key")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotNil(t, store.versions[id].RejectDetails)
	assert.Equal(t, "contains a leaked API key", *store.versions[id].RejectDetails)
	assert.Equal(t, []models.NotificationEvent{models.EventModerationReject}, rec.events)
}

func TestSubmitClearsRejection(t *testing.T) {
	svc, store, _, id, ctx := newFixture(models.StatusRejected)
	reason := "old"
	store.versions[id].RejectDetails = &reason

	res, err := svc.Submit(ctx, store.versions[id].PromptID, id)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Nil(t, res.Result.RejectDetails)
}

func TestSetVersionStatusFailures(t *testing.T) {
	svc, store, rec, id, ctx := newFixture(models.StatusDraft)

	res, err := svc.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidTransition, res.ErrorCode)
	assert.Nil(t, res.Result)

	res, err = svc.SetVersionStatus(ctx, id, "archived", "", "")
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidStatus, res.ErrorCode)

	promptID := store.versions[id].PromptID
	res, err = svc.Submit(ctx, promptID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, CodeNotFound, res.ErrorCode)

	res, err = svc.Submit(ctx, uuid.New(), id)
	require.NoError(t, err)
	assert.Equal(t, CodeNotFound, res.ErrorCode)
	assert.Equal(t, models.StatusDraft, store.versions[id].Status)

	store.race = true
	res, err = svc.Submit(ctx, promptID, id)
	require.NoError(t, err)
	assert.Equal(t, CodeConflict, res.ErrorCode)

	assert.Empty(t, rec.events)
	assert.Empty(t, rec.audits)
}

func TestDefaultEvent(t *testing.T) {
	svc, _, rec, id, ctx := newFixture(models.StatusDraft)

	res, err := svc.SetVersionStatus(ctx, id, models.StatusOnModeration, "", "")
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, []models.NotificationEvent{models.EventModerationSubmit}, rec.events)
}

func TestNilCollaborators(t *testing.T) {
	id := uuid.New()
	store := &memStore{versions: map[uuid.UUID]*models.PromptVersion{id: {ID: id, Status: models.StatusDraft}}}
	svc := NewService(store, nil, nil, nil)

	res, err := svc.Submit(context.Background(), uuid.Nil, id)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

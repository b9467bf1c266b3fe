package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptlib/internal/models"
)

type fakeStore struct {
	versions map[uuid.UUID]*models.PromptVersion
	calls    []LoadOptions
	err      error
}

func (f *fakeStore) GetVersion(_ context.Context, _, versionID uuid.UUID, opts LoadOptions) (*models.PromptVersion, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.versions[versionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	if !opts.Messages {
		cp.Messages = nil
	}
	if !opts.Variables {
		cp.Variables = nil
	}
	return &cp, nil
}

func newFakeStore(vs ...*models.PromptVersion) *fakeStore {
	f := &fakeStore{versions: map[uuid.UUID]*models.PromptVersion{}}
	for _, v := range vs {
		f.versions[v.ID] = v
	}
	return f
}

func TestMergeWithoutVersionPassesThrough(t *testing.T) {
	store := newFakeStore()
	pipeline := NewPipeline(store)

	in := &PredictPayload{UserInput: Some("hi")}
	out, err := pipeline.Merge(context.Background(), uuid.New(), in)
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.Empty(t, store.calls)
}

func TestMergeLoadsOnlyMissingRelations(t *testing.T) {
	v := storedVersion()
	store := newFakeStore(v)
	pipeline := NewPipeline(store)

	raw := []byte(`{"prompt_version_id": "` + v.ID.String() + `", "messages": [{"role": "user", "content": "{{ topic }}?"}]}`)
	merged, err := pipeline.PreparePayload(context.Background(), uuid.New(), raw)
	require.NoError(t, err)

	require.Len(t, store.calls, 1)
	assert.Equal(t, LoadOptions{Variables: true, Messages: false}, store.calls[0])
	assert.Equal(t, []Message{{Role: models.RoleUser, Content: "{{ topic }}?"}}, merged.Messages.Value)
	assert.Len(t, merged.Variables.Value, 2)
	assert.Equal(t, "You are {{persona}}", merged.Context.Value)
}

func TestMergeEmptyRequestMatchesSnapshot(t *testing.T) {
	v := storedVersion()
	pipeline := NewPipeline(newFakeStore(v))

	id := v.ID
	merged, err := pipeline.Merge(context.Background(), uuid.New(), &PredictPayload{PromptVersionID: &id})
	require.NoError(t, err)
	assert.Equal(t, Snapshot(v), merged)
}

func TestMergeMissingVersion(t *testing.T) {
	pipeline := NewPipeline(newFakeStore())
	id := uuid.New()

	_, err := pipeline.Merge(context.Background(), uuid.New(), &PredictPayload{PromptVersionID: &id})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), id.String())
}

func TestMergeStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	id := uuid.New()

	_, err := NewPipeline(store).Merge(context.Background(), uuid.New(), &PredictPayload{PromptVersionID: &id})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPreparePayloadRejectsInvalid(t *testing.T) {
	store := newFakeStore()
	_, err := NewPipeline(store).PreparePayload(context.Background(), uuid.New(), []byte(`[]`))

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, store.calls)
}

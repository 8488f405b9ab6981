package access

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemosyne-core/mnemosyne/internal/embedding"
	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/store/sqlite"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

func newControl(t *testing.T, user string) (*Control, *sqlite.Store) {
	t.Helper()
	t.Setenv(adminEnvVar, "")
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := sqlite.Open(context.Background(), path, sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewControl(st, events.NewBus(), embedding.NewFallbackAdapter(32), user), st
}

func TestCreateAppliesDefaultsAndAudits(t *testing.T) {
	c, st := newControl(t, "agent")
	ctx := context.Background()

	id, err := c.Create(ctx, RoleExecutor, "always pin dependency versions", Metadata{
		Namespace:  model.ProjectNS("demo"),
		MemoryType: model.MemoryTypeConstraint,
		Importance: 7,
	})
	require.NoError(t, err)

	note, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(RoleExecutor), note.CreatedBy)
	assert.Equal(t, []string{string(RoleReviewer)}, note.VisibleTo)
	assert.Equal(t, model.MemoryTypeConstraint, note.MemoryType)
	assert.Equal(t, 7, note.Importance)
	assert.NotEmpty(t, note.Embedding, "create embeds through the adapter")

	trail, err := c.AuditTrail(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.AuditCreate, trail[0].Operation)
	assert.Equal(t, string(RoleExecutor), trail[0].Role)
}

func TestCreateVisibilityOverride(t *testing.T) {
	c, st := newControl(t, "agent")
	ctx := context.Background()

	id, err := c.Create(ctx, RoleOrchestrator, "plan for the week", Metadata{
		VisibleTo: []Role{RoleExecutor, RoleReviewer},
	})
	require.NoError(t, err)

	note, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"executor", "reviewer"}, note.VisibleTo)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	c, _ := newControl(t, "agent")
	ctx := context.Background()

	_, err := c.Create(ctx, Role("manager"), "content", Metadata{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = c.Create(ctx, RoleExecutor, "   ", Metadata{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestUpdateOwnershipRule(t *testing.T) {
	c, st := newControl(t, "agent")
	ctx := context.Background()

	id, err := c.Create(ctx, RoleExecutor, "original content", Metadata{})
	require.NoError(t, err)

	// Another role may not update it.
	newContent := "tampered"
	err = c.Update(ctx, RoleReviewer, id, Updates{Content: &newContent})
	assert.ErrorIs(t, err, model.ErrForbidden)

	// The owner may, and only the supplied fields change.
	imp := 9
	require.NoError(t, c.Update(ctx, RoleExecutor, id, Updates{Importance: &imp}))

	note, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "original content", note.Content)
	assert.Equal(t, 9, note.Importance)

	trail, err := c.AuditTrail(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, model.AuditUpdate, trail[0].Operation)
	assert.Equal(t, "importance", trail[0].Metadata["fields"])
}

func TestUpdateWithNoFieldsIsNoop(t *testing.T) {
	c, _ := newControl(t, "agent")
	ctx := context.Background()

	id, err := c.Create(ctx, RoleExecutor, "content", Metadata{})
	require.NoError(t, err)

	require.NoError(t, c.Update(ctx, RoleExecutor, id, Updates{}))

	trail, err := c.AuditTrail(ctx, id)
	require.NoError(t, err)
	assert.Len(t, trail, 1, "no-op update writes no audit event")
}

func TestAdminModeShortCircuits(t *testing.T) {
	c, _ := newControl(t, "human")
	ctx := context.Background()

	id, err := c.Create(ctx, RoleExecutor, "owned by executor", Metadata{})
	require.NoError(t, err)

	assert.True(t, c.IsAdmin())
	summary := "updated by another role under admin"
	assert.NoError(t, c.Update(ctx, RoleOptimizer, id, Updates{Summary: &summary}))
}

func TestAdminEnvFlag(t *testing.T) {
	c, _ := newControl(t, "agent")
	assert.False(t, c.IsAdmin())
	t.Setenv(adminEnvVar, "1")
	assert.True(t, c.IsAdmin())
}

func TestDeleteIsSoftArchive(t *testing.T) {
	c, st := newControl(t, "agent")
	ctx := context.Background()

	id, err := c.Create(ctx, RoleReviewer, "to delete", Metadata{})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, RoleReviewer, id))

	// The note is retained, archived, and the audit reason says delete.
	note, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, note.IsArchived)

	trail, err := c.AuditTrail(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, model.AuditArchive, trail[0].Operation)
	assert.Equal(t, "delete", trail[0].Metadata["reason"])
}

func TestCanRead(t *testing.T) {
	c, _ := newControl(t, "agent")

	note := &model.MemoryNote{CreatedBy: "executor", VisibleTo: []string{"reviewer"}}
	assert.True(t, c.CanRead(RoleExecutor, note))
	assert.True(t, c.CanRead(RoleReviewer, note))
	assert.False(t, c.CanRead(RoleOptimizer, note))
	assert.False(t, c.CanRead(RoleOrchestrator, note))

	// Notes created outside the role system are open to all.
	open := &model.MemoryNote{}
	assert.True(t, c.CanRead(RoleOptimizer, open))
}

func TestModificationStats(t *testing.T) {
	c, _ := newControl(t, "agent")
	ctx := context.Background()

	id, err := c.Create(ctx, RoleExecutor, "stats subject", Metadata{})
	require.NoError(t, err)
	require.NoError(t, c.Archive(ctx, RoleExecutor, id))

	stats, err := c.ModificationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.AuditCreate])
	assert.Equal(t, 1, stats[model.AuditArchive])
}

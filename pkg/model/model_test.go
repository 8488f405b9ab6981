package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateScalarBounds(t *testing.T) {
	valid := &MemoryNote{
		MemoryType: MemoryTypeInsight,
		Importance: 5,
		Confidence: 0.5,
	}
	assert.NoError(t, valid.Validate())

	low := *valid
	low.Importance = 0
	assert.ErrorIs(t, low.Validate(), ErrValidation)

	high := *valid
	high.Importance = 11
	assert.ErrorIs(t, high.Validate(), ErrValidation)

	conf := *valid
	conf.Confidence = 1.5
	assert.ErrorIs(t, conf.Validate(), ErrValidation)

	unknown := *valid
	unknown.MemoryType = "vibe"
	assert.ErrorIs(t, unknown.Validate(), ErrValidation)

	badLink := *valid
	badLink.Links = []MemoryLink{{Strength: 1.2}}
	assert.ErrorIs(t, badLink.Validate(), ErrValidation)
}

func TestNamespaceRoundTrip(t *testing.T) {
	cases := []Namespace{
		Global(),
		ProjectNS("demo"),
		SessionNS("demo", "s-42"),
	}
	for _, ns := range cases {
		parsed, err := ParseNamespace(ns.String())
		require.NoError(t, err)
		assert.True(t, ns.Equal(parsed), "round trip failed for %s", ns.String())
	}
}

func TestParseNamespaceErrors(t *testing.T) {
	_, err := ParseNamespace("galaxy:andromeda")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseNamespace("session:missing-id")
	assert.ErrorIs(t, err, ErrValidation)

	ns, err := ParseNamespace("")
	require.NoError(t, err)
	assert.True(t, ns.Equal(Global()))
}

func TestNamespaceIsZero(t *testing.T) {
	var zero Namespace
	assert.True(t, zero.IsZero())
	assert.True(t, Global().IsZero(), "Global and zero are indistinguishable by design")
	assert.False(t, ProjectNS("p").IsZero())
}

func TestErrorWrapping(t *testing.T) {
	err := NotFoundError("abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "abc")

	err = DatabaseNotFoundError("/tmp/x.db")
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
	assert.Contains(t, err.Error(), "init")

	err = EmbeddingDimMismatchError(384, 768)
	assert.ErrorIs(t, err, ErrEmbeddingDimMismatch)
	assert.Contains(t, err.Error(), "384")
	assert.Contains(t, err.Error(), "768")
}

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

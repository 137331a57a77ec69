package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDocumentSingleObject(t *testing.T) {
	doc := map[string]any{
		"name":        "a",
		"kind":        "container",
		"api_version": "v1",
		"year":        float64(2020),
	}

	objs, err := normalizeDocument(doc)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].Name)
	assert.Equal(t, "container", objs[0].Kind)
	assert.Equal(t, float64(2020), objs[0].Spec["year"])
}

func TestNormalizeDocumentArray(t *testing.T) {
	doc := []any{
		map[string]any{"name": "a", "kind": "container", "api_version": "v1"},
		map[string]any{"name": "b", "kind": "container", "api_version": "v1"},
	}

	objs, err := normalizeDocument(doc)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "a", objs[0].Name)
	assert.Equal(t, "b", objs[1].Name)
}

func TestNormalizeDocumentListEnvelope(t *testing.T) {
	doc := map[string]any{
		"kind":               "List",
		"object_kind":        "container",
		"object_api_version": "v2",
		"list": []any{
			map[string]any{"name": "a", "kind": "should-be-overridden"},
			map[string]any{"name": "b"},
		},
	}

	objs, err := normalizeDocument(doc)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "container", objs[0].Kind)
	assert.Equal(t, "v2", objs[0].APIVersion)
	assert.Equal(t, "container", objs[1].Kind)
	assert.Equal(t, "v2", objs[1].APIVersion)
}

func TestNormalizeDocumentListEnvelopeMissingListField(t *testing.T) {
	doc := map[string]any{"kind": "List"}

	_, err := normalizeDocument(doc)
	assert.ErrorIs(t, err, ErrInvalidInputObjectMissingKindField)
}

func TestNormalizeDocumentMissingKindField(t *testing.T) {
	doc := map[string]any{"name": "a"}

	_, err := normalizeDocument(doc)
	assert.ErrorIs(t, err, ErrInvalidInputObjectMissingKindField)
}

func TestNormalizeDocumentInvalidRoot(t *testing.T) {
	_, err := normalizeDocument("not an object")
	assert.ErrorIs(t, err, ErrInvalidRootInputObject)

	_, err = normalizeDocument(float64(42))
	assert.ErrorIs(t, err, ErrInvalidRootInputObject)
}

func TestLookupPath(t *testing.T) {
	spec := map[string]any{
		"network": map[string]any{
			"gateway": "default/gateway/g1",
		},
		"items": []any{"a", "b"},
	}

	v, ok := lookupPath(spec, "network.gateway")
	assert.True(t, ok)
	assert.Equal(t, "default/gateway/g1", v)

	_, ok = lookupPath(spec, "network.missing")
	assert.False(t, ok)

	// Traversing through an array is not supported: treated as absent.
	_, ok = lookupPath(spec, "items.name")
	assert.False(t, ok)

	_, ok = lookupPath(spec, "missing")
	assert.False(t, ok)
}

func TestParseForeignKeyReference(t *testing.T) {
	t.Run("full triple", func(t *testing.T) {
		ns, kind, name, err := parseForeignKeyReference("prod/container/p", "default", "container")
		require.NoError(t, err)
		assert.Equal(t, "prod", ns)
		assert.Equal(t, "container", kind)
		assert.Equal(t, "p", name)
	})

	t.Run("kind and name, inherit namespace", func(t *testing.T) {
		ns, kind, name, err := parseForeignKeyReference("gateway/g1", "default", "container")
		require.NoError(t, err)
		assert.Equal(t, "default", ns)
		assert.Equal(t, "gateway", kind)
		assert.Equal(t, "g1", name)
	})

	t.Run("name only, inherit namespace and kind", func(t *testing.T) {
		ns, kind, name, err := parseForeignKeyReference("p", "default", "container")
		require.NoError(t, err)
		assert.Equal(t, "default", ns)
		assert.Equal(t, "container", kind)
		assert.Equal(t, "p", name)
	})

	t.Run("wrong arity", func(t *testing.T) {
		_, _, _, err := parseForeignKeyReference("a/b/c/d", "default", "container")
		assert.Error(t, err)
	})
}

func TestResolveForeignKeyOneOptionalAbsent(t *testing.T) {
	in := InputObject{Name: "c", Kind: "container", APIVersion: "v1", Spec: map[string]any{}}
	fk := ForeignKeyConstraint{KeyPath: "parent", Type: ForeignKeyTypeOneOptional}

	targets, err := resolveForeignKey(in, "default", fk)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestResolveForeignKeyOneRequiredAbsent(t *testing.T) {
	in := InputObject{Name: "c", Kind: "container", APIVersion: "v1", Spec: map[string]any{}}
	fk := ForeignKeyConstraint{KeyPath: "parent", Type: ForeignKeyTypeOne}

	_, err := resolveForeignKey(in, "default", fk)
	var shapeErr *ObjectValidationForeignKeyError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, ForeignKeyMissingEntry, shapeErr.ShapeKind)
}

func TestResolveForeignKeyOneOrManyArray(t *testing.T) {
	in := InputObject{Name: "c", Kind: "container", APIVersion: "v1", Spec: map[string]any{
		"deps": []any{"default/container/a", "b"},
	}}
	fk := ForeignKeyConstraint{KeyPath: "deps", Type: ForeignKeyTypeOneOrMany}

	targets, err := resolveForeignKey(in, "default", fk)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"default/container/a", "default/container/b"}, targets)
}

func TestResolveForeignKeyWrongKind(t *testing.T) {
	wantKind := "gateway"
	in := InputObject{Name: "c", Kind: "container", APIVersion: "v1", Spec: map[string]any{
		"parent": "default/other/x",
	}}
	fk := ForeignKeyConstraint{KeyPath: "parent", Type: ForeignKeyTypeOne, ForeignKeyKind: &wantKind}

	_, err := resolveForeignKey(in, "default", fk)
	var shapeErr *ObjectValidationForeignKeyError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, ForeignKeyWrongKind, shapeErr.ShapeKind)
}

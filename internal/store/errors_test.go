package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMissingError(t *testing.T) {
	err := &KindMissingError{Name: "x"}
	assert.Contains(t, err.Error(), "x")
	assert.Contains(t, err.Error(), "kind")
}

func TestAPIVersionMissingError(t *testing.T) {
	err := &APIVersionMissingError{Name: "x"}
	assert.Contains(t, err.Error(), "x")
	assert.Contains(t, err.Error(), "api_version")
}

func TestNoSchemaForObjectError(t *testing.T) {
	err := &NoSchemaForObjectError{APIVersion: "v1", Kind: "car"}
	assert.Contains(t, err.Error(), "v1")
	assert.Contains(t, err.Error(), "car")
}

func TestObjectValidationError(t *testing.T) {
	err := &ObjectValidationError{APIVersion: "v1", Kind: "car", Name: "x", Detail: "year: expected integer"}
	assert.Contains(t, err.Error(), "car/x")
	assert.Contains(t, err.Error(), "year: expected integer")
}

func TestObjectValidationForeignKeyError(t *testing.T) {
	t.Run("missing entry", func(t *testing.T) {
		err := &ObjectValidationForeignKeyError{Kind: "container", Name: "c", ForeignKeyPath: "parent", ForeignKeyType: ForeignKeyTypeOne, ShapeKind: ForeignKeyMissingEntry}
		assert.Contains(t, err.Error(), "parent")
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("wrong format", func(t *testing.T) {
		err := &ObjectValidationForeignKeyError{Kind: "container", Name: "c", ForeignKeyPath: "parent", ShapeKind: ForeignKeyWrongFormat, Value: "a/b/c/d"}
		assert.Contains(t, err.Error(), "a/b/c/d")
	})

	t.Run("wrong kind", func(t *testing.T) {
		err := &ObjectValidationForeignKeyError{Kind: "container", Name: "c", ForeignKeyPath: "parent", ShapeKind: ForeignKeyWrongKind, Value: "default/other/x"}
		assert.Contains(t, err.Error(), "default/other/x")
	})
}

func TestObjectValidationForeignKeyNotFoundError(t *testing.T) {
	err := &ObjectValidationForeignKeyNotFoundError{Kind: "container", Name: "c", Value: "default/container/ghost"}
	assert.Contains(t, err.Error(), "default/container/ghost")
}

func TestDatabaseErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset")
	err := &DatabaseError{Op: "select", Err: underlying}
	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "select")
}

func TestInternalError(t *testing.T) {
	err := &InternalError{Msg: "unreachable branch"}
	assert.Contains(t, err.Error(), "unreachable branch")
}

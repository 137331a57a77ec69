package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dawnstore-io/dawnstore/internal/store"
	"github.com/dawnstore-io/dawnstore/internal/store/storetest"
)

type ApplySuite struct {
	suite.Suite
	store *store.Store
}

func TestApplySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping apply integration suite in short mode")
	}
	suite.Run(t, new(ApplySuite))
}

func (s *ApplySuite) SetupSuite() {
	s.store = storetest.NewStore(s.T())

	ctx := context.Background()
	require.NoError(s.T(), s.store.SeedResourceDefinition(ctx, "v1", "empty", nil, `{"type":"object"}`, nil))
	require.NoError(s.T(), s.store.SeedResourceDefinition(ctx, "v1", "car", nil,
		`{"type":"object","properties":{"year":{"type":"integer"}},"required":["year"]}`, nil))

	parentKind := "container"
	require.NoError(s.T(), s.store.SeedResourceDefinition(ctx, "v2", "container", nil, `{"type":"object"}`,
		[]store.ForeignKeyConstraint{
			{KeyPath: "parent", Type: store.ForeignKeyTypeOneOptional, ForeignKeyKind: &parentKind},
		}))
}

// S1: apply then re-apply preserves id and created_at; updated_at advances.
func (s *ApplySuite) TestApplyAndReapplyPreservesIdentity() {
	ctx := context.Background()

	first, err := s.store.ApplyRaw(ctx, map[string]any{"kind": "empty", "api_version": "v1", "name": "a"})
	s.Require().NoError(err)
	s.Require().Len(first, 1)

	time.Sleep(5 * time.Millisecond)

	second, err := s.store.ApplyRaw(ctx, map[string]any{"kind": "empty", "api_version": "v1", "name": "a"})
	s.Require().NoError(err)
	s.Require().Len(second, 1)

	s.Equal(first[0].ID, second[0].ID)
	s.Equal(first[0].CreatedAt.UTC(), second[0].CreatedAt.UTC())
	s.True(second[0].UpdatedAt.After(first[0].UpdatedAt))
}

// S2: validation failure surfaces ObjectValidationError.
func (s *ApplySuite) TestApplyValidationFailure() {
	ctx := context.Background()

	_, err := s.store.ApplyRaw(ctx, map[string]any{
		"kind": "car", "api_version": "v1", "name": "x", "year": "oops",
	})

	var validationErr *store.ObjectValidationError
	s.Require().ErrorAs(err, &validationErr)
}

// S3: forward reference within the same batch resolves and produces one edge.
func (s *ApplySuite) TestApplyForwardReferenceWithinBatch() {
	ctx := context.Background()

	doc := []any{
		map[string]any{"name": "p", "kind": "container", "api_version": "v2"},
		map[string]any{"name": "c", "kind": "container", "api_version": "v2", "parent": "default/container/p"},
	}

	objs, err := s.store.ApplyRaw(ctx, doc)
	s.Require().NoError(err)
	s.Require().Len(objs, 2)

	hydrated, err := s.store.GetByFilter(ctx, store.GetObjectsFilter{
		Kind:                 strPtr("container"),
		Name:                 strPtr("c"),
		FillChildForeignKeys: true,
	})
	s.Require().NoError(err)
	s.Require().Len(hydrated, 1)
	s.Require().Len(hydrated[0].ChildForeignKeys, 1)
	s.Equal("p", hydrated[0].ChildForeignKeys[0].Name)
}

// S4: a reference to a target that exists neither in the batch nor the DB fails.
func (s *ApplySuite) TestApplyMissingForeignKeyTarget() {
	ctx := context.Background()

	_, err := s.store.ApplyRaw(ctx, map[string]any{
		"name": "orphan", "kind": "container", "api_version": "v2", "parent": "default/container/ghost",
	})

	var notFound *store.ObjectValidationForeignKeyNotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal("default/container/ghost", notFound.Value)
}

// S5: short-form reference inherits namespace from the owning object.
func (s *ApplySuite) TestApplyShortFormReference() {
	ctx := context.Background()

	_, err := s.store.ApplyRaw(ctx, map[string]any{"name": "p2", "kind": "container", "api_version": "v2"})
	s.Require().NoError(err)

	objs, err := s.store.ApplyRaw(ctx, map[string]any{"name": "c2", "kind": "container", "api_version": "v2", "parent": "p2"})
	s.Require().NoError(err)
	s.Require().Len(objs, 1)
}

// S6: removing a reference on re-apply deletes the stale relation edge.
func (s *ApplySuite) TestApplyReconciliationDeletesStaleEdge() {
	ctx := context.Background()

	_, err := s.store.ApplyRaw(ctx, []any{
		map[string]any{"name": "p3", "kind": "container", "api_version": "v2"},
		map[string]any{"name": "c3", "kind": "container", "api_version": "v2", "parent": "default/container/p3"},
	})
	s.Require().NoError(err)

	_, err = s.store.ApplyRaw(ctx, map[string]any{"name": "c3", "kind": "container", "api_version": "v2"})
	s.Require().NoError(err)

	hydrated, err := s.store.GetByFilter(ctx, store.GetObjectsFilter{
		Kind:                 strPtr("container"),
		Name:                 strPtr("c3"),
		FillChildForeignKeys: true,
	})
	s.Require().NoError(err)
	s.Require().Len(hydrated, 1)
	s.Empty(hydrated[0].ChildForeignKeys)
}

func strPtr(s string) *string { return &s }

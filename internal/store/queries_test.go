package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dawnstore-io/dawnstore/internal/store"
	"github.com/dawnstore-io/dawnstore/internal/store/storetest"
)

type QuerySurfaceSuite struct {
	suite.Suite
	store *store.Store
}

func TestQuerySurfaceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping query surface integration suite in short mode")
	}
	suite.Run(t, new(QuerySurfaceSuite))
}

func (s *QuerySurfaceSuite) SetupSuite() {
	s.store = storetest.NewStore(s.T())
}

func (s *QuerySurfaceSuite) TestSeedResourceDefinitionIsIdempotent() {
	ctx := context.Background()

	require.NoError(s.T(), s.store.SeedResourceDefinition(ctx, "v1", "widget", []string{"w"}, `{"type":"object"}`, nil))
	require.NoError(s.T(), s.store.SeedResourceDefinition(ctx, "v1", "widget", []string{"different-alias"}, `{"type":"object","required":["x"]}`, nil))

	defs, err := s.store.GetResourceDefinitions(ctx)
	s.Require().NoError(err)

	var found *store.ResourceDefinition
	for i := range defs {
		if defs[i].APIVersion == "v1" && defs[i].Kind == "widget" {
			found = &defs[i]
		}
	}
	s.Require().NotNil(found)
	s.Equal([]string{"w"}, found.Aliases)
}

func (s *QuerySurfaceSuite) TestFilterClampsPageSize() {
	ctx := context.Background()
	require.NoError(s.T(), s.store.SeedResourceDefinition(ctx, "v1", "bulk", nil, `{"type":"object"}`, nil))

	doc := make([]any, 0, 300)
	for i := 0; i < 300; i++ {
		doc = append(doc, map[string]any{"name": uuid.NewString(), "kind": "bulk", "api_version": "v1"})
	}
	_, err := s.store.ApplyRaw(ctx, doc)
	s.Require().NoError(err)

	oversized := 1000
	hydrated, err := s.store.GetByFilter(ctx, store.GetObjectsFilter{Kind: strPtr("bulk"), PageSize: &oversized})
	s.Require().NoError(err)
	s.LessOrEqual(len(hydrated), store.MaxPageSize)
}

func (s *QuerySurfaceSuite) TestDeleteIsUnconditional() {
	ctx := context.Background()
	require.NoError(s.T(), s.store.SeedResourceDefinition(ctx, "v1", "disposable", nil, `{"type":"object"}`, nil))

	_, err := s.store.ApplyRaw(ctx, map[string]any{"name": "d1", "kind": "disposable", "api_version": "v1"})
	s.Require().NoError(err)

	err = s.store.Delete(ctx, store.DeleteObject{Kind: "disposable", Name: "d1"})
	s.Require().NoError(err)

	hydrated, err := s.store.GetByFilter(ctx, store.GetObjectsFilter{Kind: strPtr("disposable"), Name: strPtr("d1")})
	s.Require().NoError(err)
	s.Empty(hydrated)

	// Deleting again is silent, not an error.
	err = s.store.Delete(ctx, store.DeleteObject{Kind: "disposable", Name: "d1"})
	s.Require().NoError(err)
}

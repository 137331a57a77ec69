package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dawnstore-io/dawnstore/internal/database"
	"github.com/dawnstore-io/dawnstore/internal/observability"
	"github.com/dawnstore-io/dawnstore/internal/store"
	"github.com/dawnstore-io/dawnstore/internal/store/storetest"
)

type CacheSuite struct {
	suite.Suite
	conn *database.Connection
}

func TestCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping cache integration suite in short mode")
	}
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupSuite() {
	s.conn = storetest.NewConnection(s.T())
}

func (s *CacheSuite) TestSchemaCacheFillsOnceAndHitsAfter() {
	ctx := context.Background()
	metrics := observability.NewMetrics()

	require.NoError(s.T(), store.InsertResourceDefinition(ctx, s.conn, metrics, store.ResourceDefinition{
		ID:         uuid.New(),
		APIVersion: "v1",
		Kind:       "cache-target",
		JSONSchema: `{"type":"object"}`,
	}))

	cache := store.NewSchemaCache(metrics)

	validator, err := cache.Get(ctx, s.conn, "v1", "cache-target")
	s.Require().NoError(err)
	s.Require().NotNil(validator)

	// A second lookup is served from the cache: a fresh fill would compile
	// a new schema, so getting the same pointer back shows no refill ran.
	validatorAgain, err := cache.Get(ctx, s.conn, "v1", "cache-target")
	s.Require().NoError(err)
	s.Same(validator, validatorAgain)
}

func (s *CacheSuite) TestSchemaCacheMissReturnsNoSchemaError() {
	ctx := context.Background()
	cache := store.NewSchemaCache(observability.NewMetrics())

	_, err := cache.Get(ctx, s.conn, "v1", "does-not-exist")
	var noSchema *store.NoSchemaForObjectError
	s.Require().ErrorAs(err, &noSchema)
}

func (s *CacheSuite) TestForeignKeyCacheFillsOnceAndHitsAfter() {
	ctx := context.Background()
	metrics := observability.NewMetrics()

	require.NoError(s.T(), store.InsertResourceDefinition(ctx, s.conn, metrics, store.ResourceDefinition{
		ID:         uuid.New(),
		APIVersion: "v1",
		Kind:       "fk-cache-target",
		JSONSchema: `{"type":"object"}`,
	}))
	require.NoError(s.T(), store.InsertForeignKeyConstraints(ctx, s.conn, metrics, []store.ForeignKeyConstraint{
		{ID: uuid.New(), APIVersion: "v1", Kind: "fk-cache-target", KeyPath: "parent", Type: store.ForeignKeyTypeOneOptional, Behaviour: store.ForeignKeyBehaviourFill},
	}))

	cache := store.NewForeignKeyCache(metrics)

	fks, err := cache.Get(ctx, s.conn, "v1", "fk-cache-target")
	s.Require().NoError(err)
	s.Require().Len(fks, 1)
	s.Equal("parent", fks[0].KeyPath)

	// A refill would return a freshly scanned slice; the same backing
	// element shows the second lookup was a cache hit.
	fksAgain, err := cache.Get(ctx, s.conn, "v1", "fk-cache-target")
	s.Require().NoError(err)
	s.Require().Len(fksAgain, 1)
	s.Same(&fks[0], &fksAgain[0])
}

func (s *CacheSuite) TestForeignKeyCacheEmptyResultIsCacheable() {
	ctx := context.Background()
	cache := store.NewForeignKeyCache(observability.NewMetrics())

	fks, err := cache.Get(ctx, s.conn, "v1", "no-constraints-kind")
	s.Require().NoError(err)
	s.Empty(fks)

	// A constraint added after the first lookup is not seen: the empty
	// result was cached rather than re-fetched.
	require.NoError(s.T(), store.InsertForeignKeyConstraints(ctx, s.conn, observability.NewMetrics(), []store.ForeignKeyConstraint{
		{ID: uuid.New(), APIVersion: "v1", Kind: "no-constraints-kind", KeyPath: "parent", Type: store.ForeignKeyTypeOneOptional, Behaviour: store.ForeignKeyBehaviourFill},
	}))
	fksAgain, err := cache.Get(ctx, s.conn, "v1", "no-constraints-kind")
	s.Require().NoError(err)
	s.Empty(fksAgain)
}

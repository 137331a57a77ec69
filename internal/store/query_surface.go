package store

import (
	"context"

	"github.com/google/uuid"
)

// HydratedObject is an object returned by GetByFilter, optionally carrying
// the objects on either end of its relation edges when hydration was
// requested. Traversal is single-level: hydrated targets are not
// themselves recursively hydrated.
type HydratedObject struct {
	ReturnObject
	ChildForeignKeys  []ReturnObject `json:"child_foreign_keys,omitempty"`
	ParentForeignKeys []ReturnObject `json:"parent_foreign_keys,omitempty"`
}

// GetByFilter is the filtered, paginated read path. When the filter
// requests foreign-key hydration, every returned object's relations are
// loaded and the referenced objects attached alongside it.
func (s *Store) GetByFilter(ctx context.Context, filter GetObjectsFilter) ([]HydratedObject, error) {
	objects, err := GetObjectsByFilter(ctx, s.db, s.metrics, filter)
	if err != nil {
		return nil, err
	}

	out := make([]HydratedObject, len(objects))
	for i, o := range objects {
		out[i] = HydratedObject{ReturnObject: o.ToReturnObject()}
	}

	if !filter.FillChildForeignKeys && !filter.FillParentForeignKeys {
		return out, nil
	}
	if len(objects) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, len(objects))
	indexByID := make(map[uuid.UUID]int, len(objects))
	for i, o := range objects {
		ids[i] = o.ID
		indexByID[o.ID] = i
	}

	if filter.FillChildForeignKeys {
		relations, err := GetRelationsOfObjects(ctx, s.db, s.metrics, ids)
		if err != nil {
			return nil, err
		}
		if err := s.hydrateChildren(ctx, relations, indexByID, out); err != nil {
			return nil, err
		}
	}

	if filter.FillParentForeignKeys {
		parents, err := s.relationsReferencing(ctx, ids)
		if err != nil {
			return nil, err
		}
		if err := s.hydrateParents(ctx, parents, indexByID, out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (s *Store) hydrateChildren(ctx context.Context, relations []Relation, indexByID map[uuid.UUID]int, out []HydratedObject) error {
	targetIDs := collectDistinct(relations, func(r Relation) uuid.UUID { return r.ForeignObjectID })
	targets, err := GetObjectsByIDs(ctx, s.db, s.metrics, targetIDs)
	if err != nil {
		return err
	}
	targetByID := make(map[uuid.UUID]ReturnObject, len(targets))
	for _, t := range targets {
		targetByID[t.ID] = t.ToReturnObject()
	}
	for _, rel := range relations {
		idx, ok := indexByID[rel.ObjectID]
		if !ok {
			continue
		}
		if target, ok := targetByID[rel.ForeignObjectID]; ok {
			out[idx].ChildForeignKeys = append(out[idx].ChildForeignKeys, target)
		}
	}
	return nil
}

func (s *Store) hydrateParents(ctx context.Context, relations []Relation, indexByID map[uuid.UUID]int, out []HydratedObject) error {
	sourceIDs := collectDistinct(relations, func(r Relation) uuid.UUID { return r.ObjectID })
	sources, err := GetObjectsByIDs(ctx, s.db, s.metrics, sourceIDs)
	if err != nil {
		return err
	}
	sourceByID := make(map[uuid.UUID]ReturnObject, len(sources))
	for _, src := range sources {
		sourceByID[src.ID] = src.ToReturnObject()
	}
	for _, rel := range relations {
		idx, ok := indexByID[rel.ForeignObjectID]
		if !ok {
			continue
		}
		if source, ok := sourceByID[rel.ObjectID]; ok {
			out[idx].ParentForeignKeys = append(out[idx].ParentForeignKeys, source)
		}
	}
	return nil
}

// relationsReferencing returns every relation whose foreign_object_id is
// among targetIDs — the reverse direction of GetRelationsOfObjects, used
// for parent-side hydration.
func (s *Store) relationsReferencing(ctx context.Context, targetIDs []uuid.UUID) ([]Relation, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT object_id, foreign_object_id, foreign_key_id FROM relations WHERE foreign_object_id = ANY($1)`, targetIDs)
	if err != nil {
		return nil, wrapDBErr("relations_referencing", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ObjectID, &r.ForeignObjectID, &r.ForeignKeyID); err != nil {
			return nil, wrapDBErr("relations_referencing", err)
		}
		out = append(out, r)
	}
	return out, wrapDBErr("relations_referencing", rows.Err())
}

func collectDistinct(relations []Relation, key func(Relation) uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(relations))
	out := make([]uuid.UUID, 0, len(relations))
	for _, r := range relations {
		id := key(r)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Delete issues a best-effort delete. A namespace equal to DefaultNamespace
// is treated identically to nil. ON DELETE CASCADE on the relations table
// means any edges touching the deleted object are removed along with it.
func (s *Store) Delete(ctx context.Context, del DeleteObject) error {
	return DeleteObjectRow(ctx, s.db, s.metrics, del)
}

// GetResourceDefinitions lists every registered resource definition.
func (s *Store) GetResourceDefinitions(ctx context.Context) ([]ResourceDefinition, error) {
	return ListResourceDefinitions(ctx, s.db, s.metrics)
}

// SeedResourceDefinition is idempotent: if a row already exists for
// (apiVersion, kind), this is a no-op. Otherwise the schema and its
// foreign-key constraints are inserted in one transaction.
func (s *Store) SeedResourceDefinition(ctx context.Context, apiVersion, kind string, aliases []string, jsonSchema string, foreignKeys []ForeignKeyConstraint) error {
	existing, err := GetResourceDefinition(ctx, s.db, s.metrics, apiVersion, kind)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return &DatabaseError{Op: "begin_tx", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rd := ResourceDefinition{
		ID:         uuid.New(),
		APIVersion: apiVersion,
		Kind:       kind,
		Aliases:    aliases,
		JSONSchema: jsonSchema,
	}
	if err := InsertResourceDefinition(ctx, tx, s.metrics, rd); err != nil {
		return err
	}

	for i := range foreignKeys {
		if foreignKeys[i].ID == uuid.Nil {
			foreignKeys[i].ID = uuid.New()
		}
		foreignKeys[i].APIVersion = apiVersion
		foreignKeys[i].Kind = kind
	}
	if err := InsertForeignKeyConstraints(ctx, tx, s.metrics, foreignKeys); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &DatabaseError{Op: "commit_tx", Err: err}
	}
	return nil
}

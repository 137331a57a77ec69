package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/dawnstore-io/dawnstore/internal/database"
	"github.com/dawnstore-io/dawnstore/internal/observability"
)

// Store wires the persistence layer, both process-wide caches and
// observability together behind the public apply/query operations.
type Store struct {
	db      *database.Connection
	schemas *SchemaCache
	fks     *ForeignKeyCache
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New builds a Store over an already-migrated connection.
func New(db *database.Connection, metrics *observability.Metrics, tracer *observability.Tracer) *Store {
	return &Store{
		db:      db,
		schemas: NewSchemaCache(metrics),
		fks:     NewForeignKeyCache(metrics),
		metrics: metrics,
		tracer:  tracer,
	}
}

// resolvedObject is the per-object bookkeeping accumulated by the
// validation loop (step 2) and consumed by the transactional upsert
// (step 4).
type resolvedObject struct {
	input      InputObject
	apiVersion string
	kind       string
	namespace  string
	stringID   string
	refs       []resolvedRef
}

// resolvedRef is one resolved foreign-key target awaiting translation from
// string_id to database id during the transaction.
type resolvedRef struct {
	targetStringID string
	constraintID   uuid.UUID
}

// ApplyRaw normalizes, validates and transactionally upserts the document,
// reconciling every object's outgoing relation edges in the same
// transaction. Objects are returned in input order.
func (s *Store) ApplyRaw(ctx context.Context, data any) ([]ReturnObject, error) {
	inputs, err := normalizeDocument(data)
	if err != nil {
		return nil, err
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartSpan(ctx, "store.apply_raw")
		defer span.End()
	}

	resolved := make([]resolvedObject, 0, len(inputs))
	existence := make(map[string]struct{}, len(inputs)*2)

	for _, in := range inputs {
		ro, err := s.validateOne(ctx, in)
		if err != nil {
			return nil, err
		}
		existence[ro.stringID] = struct{}{}
		for _, r := range ro.refs {
			existence[r.targetStringID] = struct{}{}
		}
		resolved = append(resolved, ro)
	}

	existenceSet := make([]string, 0, len(existence))
	for id := range existence {
		existenceSet = append(existenceSet, id)
	}

	start := time.Now()
	result, err := s.applyTransaction(ctx, resolved, existenceSet)
	if s.metrics != nil {
		s.metrics.RecordApply(len(resolved), time.Since(start), err)
	}
	if err != nil {
		log.Error().Err(err).Int("object_count", len(resolved)).Msg("apply_raw failed")
		return nil, err
	}
	return result, nil
}

func (s *Store) applyTransaction(ctx context.Context, resolved []resolvedObject, existenceSet []string) ([]ReturnObject, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, &DatabaseError{Op: "begin_tx", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	infos, err := GetObjectInfos(ctx, tx, s.metrics, existenceSet)
	if err != nil {
		return nil, err
	}

	idByStringID := make(map[string]uuid.UUID, len(infos))
	createdAtByStringID := make(map[string]time.Time, len(infos))
	for _, info := range infos {
		idByStringID[info.StringID] = info.ID
		createdAtByStringID[info.StringID] = info.CreatedAt
	}

	now := time.Now().UTC()
	rows := make([]Object, len(resolved))
	for i, ro := range resolved {
		id, existed := idByStringID[ro.stringID]
		createdAt, hasCreatedAt := createdAtByStringID[ro.stringID]
		if !existed {
			id = uuid.New()
		}
		if !hasCreatedAt {
			createdAt = now
		}

		rows[i] = Object{
			ID:          id,
			StringID:    ro.stringID,
			APIVersion:  ro.apiVersion,
			Name:        ro.input.Name,
			Kind:        ro.kind,
			Namespace:   ro.namespace,
			CreatedAt:   createdAt,
			UpdatedAt:   now,
			Annotations: nonNilMap(ro.input.Annotations),
			Labels:      nonNilMap(ro.input.Labels),
			Spec:        nonNilMap(ro.input.Spec),
		}
		// Every row derived here also belongs to the existence set, so
		// later foreign-key resolution sees freshly-minted ids too.
		idByStringID[ro.stringID] = id
	}

	if err := UpsertObjects(ctx, tx, s.metrics, rows); err != nil {
		return nil, err
	}

	objectIDs := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		objectIDs[i] = r.ID
	}

	desired := make([]Relation, 0)
	desiredSet := make(map[Relation]struct{})
	for i, ro := range resolved {
		for _, ref := range ro.refs {
			targetID, ok := idByStringID[ref.targetStringID]
			if !ok {
				return nil, &ObjectValidationForeignKeyNotFoundError{
					APIVersion: ro.apiVersion,
					Kind:       ro.kind,
					Name:       ro.input.Name,
					Value:      ref.targetStringID,
				}
			}
			rel := Relation{ObjectID: rows[i].ID, ForeignObjectID: targetID, ForeignKeyID: ref.constraintID}
			if _, dup := desiredSet[rel]; dup {
				continue
			}
			desiredSet[rel] = struct{}{}
			desired = append(desired, rel)
		}
	}

	existing, err := GetRelationsOfObjects(ctx, tx, s.metrics, objectIDs)
	if err != nil {
		return nil, err
	}

	existingSet := make(map[Relation]struct{}, len(existing))
	stale := make([]Relation, 0)
	for _, rel := range existing {
		existingSet[rel] = struct{}{}
		if _, ok := desiredSet[rel]; !ok {
			stale = append(stale, rel)
		}
	}
	// Desired edges that already exist are skipped by ON CONFLICT DO NOTHING.
	inserted := 0
	for _, rel := range desired {
		if _, ok := existingSet[rel]; !ok {
			inserted++
		}
	}

	if err := DeleteRelations(ctx, tx, s.metrics, stale); err != nil {
		return nil, err
	}
	if err := InsertRelations(ctx, tx, s.metrics, desired); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &DatabaseError{Op: "commit_tx", Err: err}
	}

	if s.metrics != nil {
		s.metrics.RecordRelationsInserted(inserted)
		s.metrics.RecordRelationsDeleted(len(stale))
	}

	out := make([]ReturnObject, len(rows))
	for i, r := range rows {
		out[i] = r.ToReturnObject()
	}
	return out, nil
}

// validateOne runs step 2 of the apply pipeline against one input object:
// schema validation followed by declarative foreign-key resolution.
func (s *Store) validateOne(ctx context.Context, in InputObject) (resolvedObject, error) {
	if in.Kind == "" {
		return resolvedObject{}, &KindMissingError{Name: in.Name}
	}
	if in.APIVersion == "" {
		return resolvedObject{}, &APIVersionMissingError{Name: in.Name}
	}

	namespace := in.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	stringID := StringID(namespace, in.Kind, in.Name)

	validator, err := s.schemas.Get(ctx, s.db, in.APIVersion, in.Kind)
	if err != nil {
		return resolvedObject{}, err
	}

	specForValidation := nonNilMap(in.Spec)
	if err := validator.Validate(specForValidation); err != nil {
		return resolvedObject{}, &ObjectValidationError{
			APIVersion: in.APIVersion,
			Kind:       in.Kind,
			Name:       in.Name,
			Detail:     err.Error(),
		}
	}

	constraints, err := s.fks.Get(ctx, s.db, in.APIVersion, in.Kind)
	if err != nil {
		return resolvedObject{}, err
	}

	refs := make([]resolvedRef, 0, len(constraints))
	for _, fk := range constraints {
		targets, err := resolveForeignKey(in, namespace, fk)
		if err != nil {
			return resolvedObject{}, err
		}
		for _, target := range targets {
			refs = append(refs, resolvedRef{targetStringID: target, constraintID: fk.ID})
		}
	}

	return resolvedObject{
		input:      in,
		apiVersion: in.APIVersion,
		kind:       in.Kind,
		namespace:  namespace,
		stringID:   stringID,
		refs:       refs,
	}, nil
}

// resolveForeignKey walks one constraint's key_path into the object's spec
// and produces the fully-qualified string_id targets it references.
func resolveForeignKey(in InputObject, namespace string, fk ForeignKeyConstraint) ([]string, error) {
	value, present := lookupPath(in.Spec, fk.KeyPath)

	missingErr := func() error {
		return &ObjectValidationForeignKeyError{
			APIVersion:     in.APIVersion,
			Kind:           in.Kind,
			Name:           in.Name,
			ForeignKeyPath: fk.KeyPath,
			ForeignKeyType: fk.Type,
			ShapeKind:      ForeignKeyMissingEntry,
		}
	}

	var refStrings []string

	if !present || value == nil {
		switch fk.Type {
		case ForeignKeyTypeOneOptional, ForeignKeyTypeNoneOrMany:
			return nil, nil
		default:
			if !present {
				return nil, missingErr()
			}
			// present && value == nil falls through to shape handling below
		}
	}

	switch fk.Type {
	case ForeignKeyTypeOne:
		str, ok := value.(string)
		if !ok {
			return nil, missingErr()
		}
		refStrings = []string{str}

	case ForeignKeyTypeOneOptional:
		if value == nil {
			return nil, nil
		}
		str, ok := value.(string)
		if !ok {
			return nil, missingErr()
		}
		refStrings = []string{str}

	case ForeignKeyTypeOneOrMany:
		switch v := value.(type) {
		case string:
			refStrings = []string{v}
		case []any:
			refStrings = make([]string, 0, len(v))
			for _, el := range v {
				str, ok := el.(string)
				if !ok {
					return nil, missingErr()
				}
				refStrings = append(refStrings, str)
			}
		default:
			return nil, missingErr()
		}

	case ForeignKeyTypeNoneOrMany:
		if value == nil {
			return nil, nil
		}
		switch v := value.(type) {
		case string:
			refStrings = []string{v}
		case []any:
			refStrings = make([]string, 0, len(v))
			for _, el := range v {
				str, ok := el.(string)
				if !ok {
					return nil, missingErr()
				}
				refStrings = append(refStrings, str)
			}
		default:
			return nil, missingErr()
		}

	default:
		return nil, missingErr()
	}

	resolved := make([]string, 0, len(refStrings))
	for _, r := range refStrings {
		targetNS, targetKind, targetName, err := parseForeignKeyReference(r, namespace, in.Kind)
		if err != nil {
			return nil, &ObjectValidationForeignKeyError{
				APIVersion:     in.APIVersion,
				Kind:           in.Kind,
				Name:           in.Name,
				ForeignKeyPath: fk.KeyPath,
				ForeignKeyType: fk.Type,
				ShapeKind:      ForeignKeyWrongFormat,
				Value:          r,
			}
		}
		if fk.ForeignKeyKind != nil && targetKind != *fk.ForeignKeyKind {
			return nil, &ObjectValidationForeignKeyError{
				APIVersion:     in.APIVersion,
				Kind:           in.Kind,
				Name:           in.Name,
				ForeignKeyPath: fk.KeyPath,
				ForeignKeyType: fk.Type,
				ShapeKind:      ForeignKeyWrongKind,
				Value:          r,
			}
		}
		resolved = append(resolved, StringID(targetNS, targetKind, targetName))
	}

	return resolved, nil
}

// parseForeignKeyReference splits a reference string on "/" and fills in
// the missing namespace/kind segments by inheriting from the owning
// object, per the arity table in the reference resolution rules.
func parseForeignKeyReference(ref, ownerNamespace, ownerKind string) (namespace, kind, name string, err error) {
	parts := strings.Split(ref, "/")
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2], nil
	case 2:
		return ownerNamespace, parts[0], parts[1], nil
	case 1:
		return ownerNamespace, ownerKind, parts[0], nil
	default:
		return "", "", "", fmt.Errorf("unsupported foreign key reference arity: %q", ref)
	}
}

// lookupPath walks spec by splitting path on ".". Only object-field lookup
// is supported; arrays are not indexed by segment, so traversing through
// one is treated as an absent path.
func lookupPath(spec map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = spec
	for i, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
		if i == len(segments)-1 {
			return cur, true
		}
	}
	return cur, true
}

// normalizeDocument implements step 1 of the apply pipeline: turning an
// arbitrary JSON document into a flat list of InputObject.
func normalizeDocument(data any) ([]InputObject, error) {
	switch v := data.(type) {
	case []any:
		out := make([]InputObject, 0, len(v))
		for _, el := range v {
			obj, err := decodeInputObject(el)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
		}
		return out, nil

	case map[string]any:
		kindVal, hasKind := v["kind"]
		if !hasKind {
			return nil, ErrInvalidInputObjectMissingKindField
		}
		kindStr, _ := kindVal.(string)
		if kindStr != "List" {
			obj, err := decodeInputObject(v)
			if err != nil {
				return nil, err
			}
			return []InputObject{obj}, nil
		}

		listVal, hasList := v["list"]
		if !hasList {
			return nil, ErrInvalidInputObjectMissingKindField
		}
		listItems, ok := listVal.([]any)
		if !ok {
			return nil, ErrInvalidInputObjectMissingKindField
		}

		out := make([]InputObject, 0, len(listItems))
		for _, el := range listItems {
			obj, err := decodeInputObject(el)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
		}

		if objectKind, ok := v["object_kind"].(string); ok {
			for i := range out {
				out[i].Kind = objectKind
			}
		}
		if objectAPIVersion, ok := v["object_api_version"].(string); ok {
			for i := range out {
				out[i].APIVersion = objectAPIVersion
			}
		}
		return out, nil

	default:
		return nil, ErrInvalidRootInputObject
	}
}

// decodeInputObject round-trips a generic JSON value into InputObject,
// separating well-known envelope fields from the free-form spec.
func decodeInputObject(v any) (InputObject, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return InputObject{}, ErrInvalidRootInputObject
	}

	var obj InputObject
	if name, ok := m["name"].(string); ok {
		obj.Name = name
	}
	if kind, ok := m["kind"].(string); ok {
		obj.Kind = kind
	}
	if apiVersion, ok := m["api_version"].(string); ok {
		obj.APIVersion = apiVersion
	}
	if namespace, ok := m["namespace"].(string); ok {
		obj.Namespace = namespace
	}
	if annotations, ok := m["annotations"].(map[string]any); ok {
		obj.Annotations = toStringMap(annotations)
	}
	if labels, ok := m["labels"].(map[string]any); ok {
		obj.Labels = toStringMap(labels)
	}
	if spec, ok := m["spec"].(map[string]any); ok {
		obj.Spec = spec
	} else {
		// spec fields are flattened onto the wire object; anything that
		// isn't a recognized envelope field is part of the spec.
		spec := make(map[string]any, len(m))
		for k, val := range m {
			switch k {
			case "name", "kind", "api_version", "namespace", "annotations", "labels":
				continue
			default:
				spec[k] = val
			}
		}
		obj.Spec = spec
	}
	return obj, nil
}

func toStringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

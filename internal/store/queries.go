package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dawnstore-io/dawnstore/internal/database"
	"github.com/dawnstore-io/dawnstore/internal/observability"
)

// DBTX is the minimal surface the persistence layer needs from a connection
// or an open transaction. *database.Connection and pgx.Tx both satisfy it,
// so every query function below runs identically inside or outside the
// apply transaction.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	dbErr := &DatabaseError{Op: op, Err: err}
	if database.IsUniqueViolation(err) || database.IsForeignKeyViolation(err) || database.IsCheckViolation(err) {
		dbErr.Constraint = database.GetConstraintName(err)
	}
	return dbErr
}

// recordQuery records a query's outcome against m, unless db is a pooled
// *database.Connection — those already record every Query/QueryRow/Exec call
// themselves (see Connection.recordQuery). Recording here too would double
// every sample for reads that never enter a transaction. The apply engine's
// queries run against a pgx.Tx, which has no such auto-recording, so those
// calls still need this explicit record.
func recordQuery(db DBTX, m *observability.Metrics, operation, table string, start time.Time, err error) {
	if m == nil {
		return
	}
	if _, pooled := db.(*database.Connection); pooled {
		return
	}
	m.RecordDBQuery(operation, table, time.Since(start), err)
}

// --- object_schemas -------------------------------------------------------

// GetResourceDefinition fetches the schema row for (api_version, kind), if any.
func GetResourceDefinition(ctx context.Context, db DBTX, m *observability.Metrics, apiVersion, kind string) (*ResourceDefinition, error) {
	start := time.Now()
	row := db.QueryRow(ctx, `
		SELECT id, api_version, kind, aliases, json_schema
		FROM object_schemas
		WHERE api_version = $1 AND kind = $2`, apiVersion, kind)

	var rd ResourceDefinition
	err := row.Scan(&rd.ID, &rd.APIVersion, &rd.Kind, &rd.Aliases, &rd.JSONSchema)
	recordQuery(db, m, "select", "object_schemas", start, err)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErr("get_resource_definition", err)
	}
	return &rd, nil
}

// ListResourceDefinitions returns every registered schema.
func ListResourceDefinitions(ctx context.Context, db DBTX, m *observability.Metrics) ([]ResourceDefinition, error) {
	start := time.Now()
	rows, err := db.Query(ctx, `SELECT id, api_version, kind, aliases, json_schema FROM object_schemas ORDER BY kind, api_version`)
	recordQuery(db, m, "select", "object_schemas", start, err)
	if err != nil {
		return nil, wrapDBErr("list_resource_definitions", err)
	}
	defer rows.Close()

	var out []ResourceDefinition
	for rows.Next() {
		var rd ResourceDefinition
		if err := rows.Scan(&rd.ID, &rd.APIVersion, &rd.Kind, &rd.Aliases, &rd.JSONSchema); err != nil {
			return nil, wrapDBErr("list_resource_definitions", err)
		}
		out = append(out, rd)
	}
	return out, wrapDBErr("list_resource_definitions", rows.Err())
}

// InsertResourceDefinition inserts a single schema row.
func InsertResourceDefinition(ctx context.Context, db DBTX, m *observability.Metrics, rd ResourceDefinition) error {
	start := time.Now()
	_, err := db.Exec(ctx, `
		INSERT INTO object_schemas (id, api_version, kind, aliases, json_schema)
		VALUES ($1, $2, $3, $4, $5)`,
		rd.ID, rd.APIVersion, rd.Kind, rd.Aliases, rd.JSONSchema)
	recordQuery(db, m, "insert", "object_schemas", start, err)
	return wrapDBErr("insert_resource_definition", err)
}

// --- foreign_key_constraints ----------------------------------------------

// GetForeignKeyConstraints returns every constraint owned by (api_version, kind).
func GetForeignKeyConstraints(ctx context.Context, db DBTX, m *observability.Metrics, apiVersion, kind string) ([]ForeignKeyConstraint, error) {
	start := time.Now()
	rows, err := db.Query(ctx, `
		SELECT id, api_version, kind, key_path, parent_key_path, type, behaviour, foreign_key_kind
		FROM foreign_key_constraints
		WHERE api_version = $1 AND kind = $2`, apiVersion, kind)
	recordQuery(db, m, "select", "foreign_key_constraints", start, err)
	if err != nil {
		return nil, wrapDBErr("get_foreign_key_constraints", err)
	}
	defer rows.Close()

	var out []ForeignKeyConstraint
	for rows.Next() {
		var fk ForeignKeyConstraint
		if err := rows.Scan(&fk.ID, &fk.APIVersion, &fk.Kind, &fk.KeyPath, &fk.ParentKeyPath, &fk.Type, &fk.Behaviour, &fk.ForeignKeyKind); err != nil {
			return nil, wrapDBErr("get_foreign_key_constraints", err)
		}
		out = append(out, fk)
	}
	return out, wrapDBErr("get_foreign_key_constraints", rows.Err())
}

// InsertForeignKeyConstraints batch-inserts constraint rows. No-op on an
// empty slice.
func InsertForeignKeyConstraints(ctx context.Context, db DBTX, m *observability.Metrics, rows []ForeignKeyConstraint) error {
	if len(rows) == 0 {
		return nil
	}
	var b strings.Builder
	args := make([]interface{}, 0, len(rows)*8)
	b.WriteString("INSERT INTO foreign_key_constraints (id, api_version, kind, key_path, parent_key_path, type, behaviour, foreign_key_kind) VALUES ")
	for i, fk := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, fk.ID, fk.APIVersion, fk.Kind, fk.KeyPath, fk.ParentKeyPath, fk.Type, fk.Behaviour, fk.ForeignKeyKind)
	}

	start := time.Now()
	_, err := db.Exec(ctx, b.String(), args...)
	recordQuery(db, m, "insert", "foreign_key_constraints", start, err)
	return wrapDBErr("insert_foreign_key_constraints", err)
}

// --- objects ---------------------------------------------------------------

// ObjectExists reports whether a row with the given string_id exists.
func ObjectExists(ctx context.Context, db DBTX, m *observability.Metrics, stringID string) (bool, error) {
	start := time.Now()
	row := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM objects WHERE string_id = $1)`, stringID)
	var exists bool
	err := row.Scan(&exists)
	recordQuery(db, m, "select", "objects", start, err)
	return exists, wrapDBErr("object_exists", err)
}

// GetObjectByID fetches a single object row by primary key.
func GetObjectByID(ctx context.Context, db DBTX, m *observability.Metrics, id uuid.UUID) (*Object, error) {
	start := time.Now()
	row := db.QueryRow(ctx, objectSelectColumns+` FROM objects WHERE id = $1`, id)
	obj, err := scanObject(row)
	recordQuery(db, m, "select", "objects", start, err)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErr("get_object_by_id", err)
	}
	return obj, nil
}

// GetObjectsByIDs batch-fetches objects via ANY($1).
func GetObjectsByIDs(ctx context.Context, db DBTX, m *observability.Metrics, ids []uuid.UUID) ([]Object, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := db.Query(ctx, objectSelectColumns+` FROM objects WHERE id = ANY($1)`, ids)
	recordQuery(db, m, "select", "objects", start, err)
	if err != nil {
		return nil, wrapDBErr("get_objects_by_ids", err)
	}
	defer rows.Close()
	return scanObjects(rows)
}

// GetObjectInfos resolves {id, string_id, created_at} for a set of string
// IDs; callers use this to decide insert-vs-update and to translate
// target strings into IDs.
func GetObjectInfos(ctx context.Context, db DBTX, m *observability.Metrics, stringIDs []string) ([]ObjectInfo, error) {
	if len(stringIDs) == 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := db.Query(ctx, `SELECT id, string_id, created_at FROM objects WHERE string_id = ANY($1)`, stringIDs)
	recordQuery(db, m, "select", "objects", start, err)
	if err != nil {
		return nil, wrapDBErr("get_object_infos", err)
	}
	defer rows.Close()

	var out []ObjectInfo
	for rows.Next() {
		var oi ObjectInfo
		if err := rows.Scan(&oi.ID, &oi.StringID, &oi.CreatedAt); err != nil {
			return nil, wrapDBErr("get_object_infos", err)
		}
		out = append(out, oi)
	}
	return out, wrapDBErr("get_object_infos", rows.Err())
}

// GetObjectsByFilter implements the filtered, paginated read path. Ordering
// is always (kind, name) ascending; page_size is clamped to [0, MaxPageSize].
func GetObjectsByFilter(ctx context.Context, db DBTX, m *observability.Metrics, filter GetObjectsFilter) ([]Object, error) {
	var conds []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Namespace != nil {
		conds = append(conds, "namespace = "+arg(*filter.Namespace))
	}
	if filter.Kind != nil {
		conds = append(conds, "kind = "+arg(*filter.Kind))
	}
	if filter.Name != nil {
		conds = append(conds, "name = "+arg(*filter.Name))
	}
	if len(filter.IDs) > 0 {
		conds = append(conds, "id = ANY("+arg(filter.IDs)+")")
	}

	pageSize := MaxPageSize
	if filter.PageSize != nil {
		pageSize = *filter.PageSize
	}
	if pageSize < 0 {
		pageSize = 0
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	offset := 0
	if filter.Page != nil {
		offset = *filter.Page * pageSize
	}

	sql := objectSelectColumns + ` FROM objects`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += fmt.Sprintf(" ORDER BY kind, name LIMIT %s OFFSET %s", arg(pageSize), arg(offset))

	start := time.Now()
	rows, err := db.Query(ctx, sql, args...)
	recordQuery(db, m, "select", "objects", start, err)
	if err != nil {
		return nil, wrapDBErr("get_objects_by_filter", err)
	}
	defer rows.Close()
	return scanObjects(rows)
}

// UpsertObjects inserts rows and, on primary-key conflict, updates every
// mutable column. created_at is never part of the update set, so it
// survives across updates untouched. No-op on an empty slice.
func UpsertObjects(ctx context.Context, db DBTX, m *observability.Metrics, rows []Object) error {
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	args := make([]interface{}, 0, len(rows)*11)
	b.WriteString(`INSERT INTO objects (id, string_id, api_version, name, kind, namespace, created_at, updated_at, annotations, labels, spec) VALUES `)
	for i, o := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		annotations, err := json.Marshal(nonNilMap(o.Annotations))
		if err != nil {
			return wrapDBErr("upsert_objects", err)
		}
		labels, err := json.Marshal(nonNilMap(o.Labels))
		if err != nil {
			return wrapDBErr("upsert_objects", err)
		}
		spec, err := json.Marshal(nonNilMap(o.Spec))
		if err != nil {
			return wrapDBErr("upsert_objects", err)
		}

		base := i * 11
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11)
		args = append(args, o.ID, o.StringID, o.APIVersion, o.Name, o.Kind, o.Namespace, o.CreatedAt, o.UpdatedAt, annotations, labels, spec)
	}

	b.WriteString(` ON CONFLICT (id) DO UPDATE SET
		string_id = EXCLUDED.string_id,
		api_version = EXCLUDED.api_version,
		name = EXCLUDED.name,
		kind = EXCLUDED.kind,
		namespace = EXCLUDED.namespace,
		updated_at = EXCLUDED.updated_at,
		annotations = EXCLUDED.annotations,
		labels = EXCLUDED.labels,
		spec = EXCLUDED.spec`)

	start := time.Now()
	_, err := db.Exec(ctx, b.String(), args...)
	recordQuery(db, m, "upsert", "objects", start, err)
	return wrapDBErr("upsert_objects", err)
}

// DeleteObjectRow deletes the single row matching every supplied non-nil
// field. Silent (not an error) when zero rows matched.
func DeleteObjectRow(ctx context.Context, db DBTX, m *observability.Metrics, del DeleteObject) error {
	conds := []string{"kind = $1", "name = $2"}
	args := []interface{}{del.Kind, del.Name}

	if del.Namespace != nil && *del.Namespace != DefaultNamespace {
		conds = append(conds, fmt.Sprintf("namespace = $%d", len(args)+1))
		args = append(args, *del.Namespace)
	}

	sql := "DELETE FROM objects WHERE " + strings.Join(conds, " AND ")
	start := time.Now()
	_, err := db.Exec(ctx, sql, args...)
	recordQuery(db, m, "delete", "objects", start, err)
	return wrapDBErr("delete_object", err)
}

// --- relations ---------------------------------------------------------------

// GetRelationsOfObjects returns every relation row whose object_id is in
// the given set.
func GetRelationsOfObjects(ctx context.Context, db DBTX, m *observability.Metrics, objectIDs []uuid.UUID) ([]Relation, error) {
	if len(objectIDs) == 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := db.Query(ctx, `SELECT object_id, foreign_object_id, foreign_key_id FROM relations WHERE object_id = ANY($1)`, objectIDs)
	recordQuery(db, m, "select", "relations", start, err)
	if err != nil {
		return nil, wrapDBErr("get_relations_of_objects", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ObjectID, &r.ForeignObjectID, &r.ForeignKeyID); err != nil {
			return nil, wrapDBErr("get_relations_of_objects", err)
		}
		out = append(out, r)
	}
	return out, wrapDBErr("get_relations_of_objects", rows.Err())
}

// InsertRelations batch-inserts relation edges with conflict-do-nothing.
// No-op on an empty slice.
func InsertRelations(ctx context.Context, db DBTX, m *observability.Metrics, rows []Relation) error {
	if len(rows) == 0 {
		return nil
	}
	var b strings.Builder
	args := make([]interface{}, 0, len(rows)*3)
	b.WriteString("INSERT INTO relations (object_id, foreign_object_id, foreign_key_id) VALUES ")
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 3
		fmt.Fprintf(&b, "($%d, $%d, $%d)", base+1, base+2, base+3)
		args = append(args, r.ObjectID, r.ForeignObjectID, r.ForeignKeyID)
	}
	b.WriteString(" ON CONFLICT DO NOTHING")

	start := time.Now()
	_, err := db.Exec(ctx, b.String(), args...)
	recordQuery(db, m, "insert", "relations", start, err)
	return wrapDBErr("insert_relations", err)
}

// DeleteRelations is a set-based delete driven by three parallel arrays of
// equal length, one tuple per row to remove. No-op on an empty slice.
func DeleteRelations(ctx context.Context, db DBTX, m *observability.Metrics, rows []Relation) error {
	if len(rows) == 0 {
		return nil
	}
	objectIDs := make([]uuid.UUID, len(rows))
	foreignObjectIDs := make([]uuid.UUID, len(rows))
	foreignKeyIDs := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		objectIDs[i] = r.ObjectID
		foreignObjectIDs[i] = r.ForeignObjectID
		foreignKeyIDs[i] = r.ForeignKeyID
	}

	start := time.Now()
	_, err := db.Exec(ctx, `
		DELETE FROM relations
		USING unnest($1::uuid[], $2::uuid[], $3::uuid[]) AS stale(object_id, foreign_object_id, foreign_key_id)
		WHERE relations.object_id = stale.object_id
		  AND relations.foreign_object_id = stale.foreign_object_id
		  AND relations.foreign_key_id = stale.foreign_key_id`,
		objectIDs, foreignObjectIDs, foreignKeyIDs)
	recordQuery(db, m, "delete", "relations", start, err)
	return wrapDBErr("delete_relations", err)
}

// --- scan helpers ------------------------------------------------------------

const objectSelectColumns = `SELECT id, string_id, api_version, name, kind, namespace, created_at, updated_at, annotations, labels, spec`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObject(row rowScanner) (*Object, error) {
	var o Object
	var annotations, labels, spec []byte
	if err := row.Scan(&o.ID, &o.StringID, &o.APIVersion, &o.Name, &o.Kind, &o.Namespace, &o.CreatedAt, &o.UpdatedAt, &annotations, &labels, &spec); err != nil {
		return nil, err
	}
	if err := unmarshalInto(annotations, &o.Annotations); err != nil {
		return nil, err
	}
	if err := unmarshalInto(labels, &o.Labels); err != nil {
		return nil, err
	}
	if err := unmarshalInto(spec, &o.Spec); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanObjects(rows pgx.Rows) ([]Object, error) {
	var out []Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, wrapDBErr("scan_object", err)
		}
		out = append(out, *o)
	}
	return out, wrapDBErr("scan_objects", rows.Err())
}

func unmarshalInto[T any](raw []byte, dst *T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

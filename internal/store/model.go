// Package store implements the schema-governed relational object store:
// resource definitions, declarative foreign-key constraints, objects and
// their materialized relations, plus the apply pipeline that ties them
// together.
package store

import (
	"time"

	"github.com/google/uuid"
)

// DefaultNamespace is substituted whenever an object or delete request
// omits its namespace.
const DefaultNamespace = "default"

// ForeignKeyType is the cardinality of a declarative foreign-key constraint.
type ForeignKeyType string

const (
	ForeignKeyTypeOne         ForeignKeyType = "One"
	ForeignKeyTypeOneOptional ForeignKeyType = "OneOptional"
	ForeignKeyTypeOneOrMany   ForeignKeyType = "OneOrMany"
	ForeignKeyTypeNoneOrMany  ForeignKeyType = "NoneOrMany"
)

// ForeignKeyBehaviour is stored alongside a constraint but never branched on
// by the apply path; see DESIGN.md for the resolved open question.
type ForeignKeyBehaviour string

const (
	ForeignKeyBehaviourFill   ForeignKeyBehaviour = "Fill"
	ForeignKeyBehaviourIgnore ForeignKeyBehaviour = "Ignore"
)

// ResourceDefinition is the schema record for a (api_version, kind) pair.
type ResourceDefinition struct {
	ID         uuid.UUID `json:"id"`
	APIVersion string    `json:"api_version"`
	Kind       string    `json:"kind"`
	Aliases    []string  `json:"aliases"`
	JSONSchema string    `json:"json_schema"`
}

// ForeignKeyConstraint is a declarative reference from a path in one kind's
// spec to another object, typed by cardinality.
type ForeignKeyConstraint struct {
	ID             uuid.UUID           `json:"id"`
	APIVersion     string              `json:"api_version"`
	Kind           string              `json:"kind"`
	KeyPath        string              `json:"key_path"`
	ParentKeyPath  *string             `json:"parent_key_path,omitempty"`
	Type           ForeignKeyType      `json:"type"`
	Behaviour      ForeignKeyBehaviour `json:"behaviour"`
	ForeignKeyKind *string             `json:"foreign_key_kind,omitempty"`
}

// Object is the persisted row for the objects table.
type Object struct {
	ID          uuid.UUID         `json:"id"`
	StringID    string            `json:"string_id"`
	APIVersion  string            `json:"api_version"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Namespace   string            `json:"namespace"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Annotations map[string]string `json:"annotations"`
	Labels      map[string]string `json:"labels"`
	Spec        map[string]any    `json:"spec"`
}

// ObjectInfo is the lightweight projection used during apply to decide
// insert vs update and to translate target strings to IDs.
type ObjectInfo struct {
	ID        uuid.UUID
	StringID  string
	CreatedAt time.Time
}

// Relation is a materialized edge row representing one resolved foreign-key
// reference at apply time.
type Relation struct {
	ObjectID        uuid.UUID `json:"object_id"`
	ForeignObjectID uuid.UUID `json:"foreign_object_id"`
	ForeignKeyID    uuid.UUID `json:"foreign_key_id"`
}

// InputObject is the untyped, partially-populated shape read off the wire,
// before identity resolution and validation.
type InputObject struct {
	Name        string            `json:"name"`
	Kind        string            `json:"kind,omitempty"`
	APIVersion  string            `json:"api_version,omitempty"`
	Namespace   string            `json:"namespace,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Spec        map[string]any    `json:"spec,omitempty"`
}

// ListEnvelope wraps a batch of objects under a single kind/api_version,
// letting the envelope supply the type for every element.
type ListEnvelope struct {
	Kind              string        `json:"kind"`
	ObjectKind        string        `json:"object_kind,omitempty"`
	ObjectAPIVersion  string        `json:"object_api_version,omitempty"`
	List              []InputObject `json:"list"`
}

// ReturnObject is the public projection of an Object handed back from
// apply and the query surface. Owners is reserved for future use and is
// always empty today.
type ReturnObject struct {
	ID          uuid.UUID         `json:"id"`
	Namespace   string            `json:"namespace"`
	APIVersion  string            `json:"api_version"`
	Kind        string            `json:"kind"`
	Name        string            `json:"name"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Owners      []uuid.UUID       `json:"owners,omitempty"`
	Spec        map[string]any    `json:"spec"`
}

// ToReturnObject projects a persisted Object to its wire shape.
func (o Object) ToReturnObject() ReturnObject {
	return ReturnObject{
		ID:          o.ID,
		Namespace:   o.Namespace,
		APIVersion:  o.APIVersion,
		Kind:        o.Kind,
		Name:        o.Name,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		Annotations: o.Annotations,
		Labels:      o.Labels,
		Spec:        o.Spec,
	}
}

// GetObjectsFilter parameterizes get_objects_by_filter / GetByFilter.
type GetObjectsFilter struct {
	Namespace             *string
	Kind                  *string
	Name                  *string
	IDs                   []uuid.UUID
	FillChildForeignKeys  bool
	FillParentForeignKeys bool
	Page                  *int
	PageSize              *int
}

// DeleteObject parameterizes the delete operation. Namespace equal to
// DefaultNamespace is treated identically to nil.
type DeleteObject struct {
	Namespace *string
	Kind      string
	Name      string
}

// MaxPageSize is the hard clamp applied to every filtered read.
const MaxPageSize = 250

// StringID computes the "{namespace}/{kind}/{name}" identity tuple.
func StringID(namespace, kind, name string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + "/" + kind + "/" + name
}

package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra data.
var (
	// ErrInvalidRootInputObject is returned when the document root is
	// neither an object nor an array.
	ErrInvalidRootInputObject = errors.New("unexpected input root object, allowed are object and array")
	// ErrInvalidInputObjectMissingKindField is returned both when a bare
	// top-level object carries no "kind" field and when a List envelope
	// carries no "list" field.
	ErrInvalidInputObjectMissingKindField = errors.New("unexpected input object missing kind field")
)

// KindMissingError reports an input object without a "kind" field.
type KindMissingError struct {
	Name string
}

func (e *KindMissingError) Error() string {
	return fmt.Sprintf("object %q is missing its kind field", e.Name)
}

// APIVersionMissingError reports an input object without an "api_version" field.
type APIVersionMissingError struct {
	Name string
}

func (e *APIVersionMissingError) Error() string {
	return fmt.Sprintf("object %q is missing its api_version field", e.Name)
}

// NoSchemaForObjectError reports that no resource definition is registered
// for the object's (api_version, kind) pair.
type NoSchemaForObjectError struct {
	APIVersion string
	Kind       string
}

func (e *NoSchemaForObjectError) Error() string {
	return fmt.Sprintf("no resource definition found for api_version=%q kind=%q", e.APIVersion, e.Kind)
}

// ObjectValidationError reports that an object's spec failed JSON-Schema
// validation.
type ObjectValidationError struct {
	APIVersion string
	Kind       string
	Name       string
	Detail     string
}

func (e *ObjectValidationError) Error() string {
	return fmt.Sprintf("object %s/%s (api_version=%s) failed schema validation: %s", e.Kind, e.Name, e.APIVersion, e.Detail)
}

// ForeignKeyShapeErrorKind distinguishes the three ways a foreign-key value
// can fail shape checking.
type ForeignKeyShapeErrorKind int

const (
	// ForeignKeyMissingEntry means a required key_path was absent from spec,
	// or the value at key_path was not a string, null, or array-of-strings
	// shape allowed for the constraint's type.
	ForeignKeyMissingEntry ForeignKeyShapeErrorKind = iota
	// ForeignKeyWrongFormat means a reference string did not split on "/"
	// into one, two or three segments.
	ForeignKeyWrongFormat
	// ForeignKeyWrongKind means a resolved reference's kind segment did not
	// match the constraint's declared foreign_key_kind.
	ForeignKeyWrongKind
)

// ObjectValidationForeignKeyError reports a problem resolving one
// declarative foreign-key constraint against an object's spec.
type ObjectValidationForeignKeyError struct {
	APIVersion     string
	Kind           string
	Name           string
	ForeignKeyPath string
	ForeignKeyType ForeignKeyType
	ShapeKind      ForeignKeyShapeErrorKind
	Value          string
}

func (e *ObjectValidationForeignKeyError) Error() string {
	switch e.ShapeKind {
	case ForeignKeyWrongFormat:
		return fmt.Sprintf("object %s/%s: foreign key %q (%s) has an unsupported reference format: %q", e.Kind, e.Name, e.ForeignKeyPath, e.ForeignKeyType, e.Value)
	case ForeignKeyWrongKind:
		return fmt.Sprintf("object %s/%s: foreign key %q resolved to kind mismatch: %q", e.Kind, e.Name, e.ForeignKeyPath, e.Value)
	default:
		return fmt.Sprintf("object %s/%s: foreign key %q (%s) is required but missing from spec", e.Kind, e.Name, e.ForeignKeyPath, e.ForeignKeyType)
	}
}

// ObjectValidationForeignKeyNotFoundError reports a foreign-key target
// string that resolved to neither the current batch nor the database.
type ObjectValidationForeignKeyNotFoundError struct {
	APIVersion string
	Kind       string
	Name       string
	Value      string
}

func (e *ObjectValidationForeignKeyNotFoundError) Error() string {
	return fmt.Sprintf("object %s/%s: foreign key target %q does not exist", e.Kind, e.Name, e.Value)
}

// ForeignKeyNotFoundError signals that an invariant established in the
// existence-set step (§3 of the apply pipeline) was violated during the
// transactional upsert — a programmer error, not a user input error.
type ForeignKeyNotFoundError struct {
	StringID string
}

func (e *ForeignKeyNotFoundError) Error() string {
	return fmt.Sprintf("internal invariant violated: foreign key target %q missing from resolved object info", e.StringID)
}

// DatabaseError wraps an underlying driver/storage failure. Constraint is
// set when the failure is traceable to a named constraint violation (unique,
// foreign key, check) the driver reported.
type DatabaseError struct {
	Op         string
	Constraint string
	Err        error
}

func (e *DatabaseError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("database error during %s: constraint %q: %v", e.Op, e.Constraint, e.Err)
	}
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// InternalError wraps a bookkeeping-invariant violation that should never
// happen in correct operation.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Msg)
}

package validation

import (
	"fmt"
	"unicode"

	"github.com/devrev/entitydb/internal/errors"
)

const (
	// Size limits
	MaxNameSize    = 128
	MaxCommentSize = 4096
	MaxIndexFields = 16

	// Reserved names
	PrimaryIndexName = "PRIMARY"
)

// Validator validates schema names
type Validator struct {
	maxNameSize    int
	maxCommentSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxNameSize:    MaxNameSize,
		maxCommentSize: MaxCommentSize,
	}
}

// ValidateEntityName validates an entity type name
func (v *Validator) ValidateEntityName(name string) error {
	return v.validateIdentifier("entity", name)
}

// ValidateFieldName validates a field name
func (v *Validator) ValidateFieldName(name string) error {
	return v.validateIdentifier("field", name)
}

// ValidateIndexName validates an index name. The primary index name is reserved.
func (v *Validator) ValidateIndexName(name string) error {
	if err := v.validateIdentifier("index", name); err != nil {
		return err
	}
	if name == PrimaryIndexName {
		return errors.InvalidArgument(fmt.Sprintf("index name '%s' is reserved", name), nil).
			WithDetail("index", name)
	}
	return nil
}

// ValidateComment validates a free-text field comment
func (v *Validator) ValidateComment(comment string) error {
	if len(comment) > v.maxCommentSize {
		return errors.InvalidArgument(fmt.Sprintf("comment exceeds maximum size of %d bytes", v.maxCommentSize), nil)
	}
	return nil
}

// ValidateIndexFields checks the field list of an index declaration
func (v *Validator) ValidateIndexFields(fields []string) error {
	if len(fields) == 0 {
		return errors.InvalidArgument("index requires at least one field", nil)
	}
	if len(fields) > MaxIndexFields {
		return errors.InvalidArgument(fmt.Sprintf("index has %d fields, maximum is %d", len(fields), MaxIndexFields), nil)
	}

	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			return errors.InvalidArgument(fmt.Sprintf("field '%s' appears twice in index", f), nil).
				WithDetail("field", f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// validateIdentifier enforces the shared identifier rules:
// non-empty, bounded, starts with a letter or underscore, then letters, digits or underscores.
func (v *Validator) validateIdentifier(kind, name string) error {
	if name == "" {
		return errors.InvalidArgument(fmt.Sprintf("%s name cannot be empty", kind), nil)
	}

	if len(name) > v.maxNameSize {
		return errors.InvalidArgument(fmt.Sprintf("%s name exceeds maximum size of %d bytes", kind, v.maxNameSize), nil).
			WithDetail(kind, name)
	}

	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return errors.InvalidArgument(fmt.Sprintf("%s name '%s' contains invalid character %q", kind, name, r), nil).
				WithDetail(kind, name)
		}
	}

	return nil
}

// Package identifier validates normalized categorical identifiers and carries
// the database id assigned to them once they are persisted.
package identifier

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

// DefaultPattern is the allow-list for project identifiers: lowercase ASCII
// letters, digits, hyphen, underscore and period.
const DefaultPattern = `^[a-z0-9\-_.]+$`

var (
	// ErrInvalidFormat is matched by every *FormatError.
	ErrInvalidFormat = errors.New("identifier: invalid format")
	// ErrDBIDAssigned is returned when a database id is assigned twice.
	ErrDBIDAssigned = errors.New("identifier: database id already assigned")
)

// FormatError reports a raw value that does not satisfy a validator's pattern.
type FormatError struct {
	Value   string
	Pattern string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid identifier %q: must match %s", e.Value, e.Pattern)
}

// Is reports whether target is ErrInvalidFormat.
func (e *FormatError) Is(target error) bool { return target == ErrInvalidFormat }

// Identifier is a validated value plus an optional database id.
type Identifier struct {
	value string

	mu       sync.Mutex
	dbID     int64
	assigned bool
}

// String returns the validated value unchanged.
func (i *Identifier) String() string { return i.value }

// DBID returns the database id and whether one has been assigned.
func (i *Identifier) DBID() (int64, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dbID, i.assigned
}

// AssignDBID records the database id. It can only be called once.
func (i *Identifier) AssignDBID(id int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.assigned {
		return fmt.Errorf("%w: %q has id %d", ErrDBIDAssigned, i.value, i.dbID)
	}
	i.dbID = id
	i.assigned = true
	return nil
}

// Validator checks raw values against a fully anchored pattern.
type Validator struct {
	pattern *regexp.Regexp
}

// NewValidator compiles pattern into a Validator.
func NewValidator(pattern string) (*Validator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile identifier pattern: %w", err)
	}
	return &Validator{pattern: re}, nil
}

// FromRegexp wraps an already compiled pattern.
func FromRegexp(re *regexp.Regexp) *Validator {
	return &Validator{pattern: re}
}

// Pattern returns the source of the validator's pattern.
func (v *Validator) Pattern() string { return v.pattern.String() }

// Validate returns a *FormatError when raw does not match.
func (v *Validator) Validate(raw string) error {
	if !v.pattern.MatchString(raw) {
		return &FormatError{Value: raw, Pattern: v.pattern.String()}
	}
	return nil
}

// New validates raw and returns an Identifier without a database id.
func (v *Validator) New(raw string) (*Identifier, error) {
	if err := v.Validate(raw); err != nil {
		return nil, err
	}
	return &Identifier{value: raw}, nil
}

var projectValidator = FromRegexp(regexp.MustCompile(DefaultPattern))

// New validates raw against DefaultPattern.
func New(raw string) (*Identifier, error) {
	return projectValidator.New(raw)
}

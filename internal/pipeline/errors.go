// Package pipeline validates raw banner events: decode -> resolve entities ->
// check formats -> derive flags.
package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why an event was rejected.
type Kind string

const (
	KindMalformedJSON    Kind = "malformed_json"
	KindInvalidCountry   Kind = "invalid_country"
	KindInvalidLanguage  Kind = "invalid_language"
	KindInvalidProject   Kind = "invalid_project"
	KindInvalidBanner    Kind = "invalid_banner"
	KindInvalidTimestamp Kind = "invalid_timestamp"
)

// Kinds lists every rejection kind in validation order.
var Kinds = []Kind{
	KindMalformedJSON,
	KindInvalidCountry,
	KindInvalidLanguage,
	KindInvalidProject,
	KindInvalidBanner,
	KindInvalidTimestamp,
}

var (
	ErrMissingField = errors.New("missing field")
	ErrWrongType    = errors.New("wrong type")
	ErrNotObject    = errors.New("not a json object")
	ErrInvalidJSON  = errors.New("invalid json")
	ErrPattern      = errors.New("does not match pattern")
)

// Rejection is returned for every event that fails validation.
// Field is the JSON path that failed and Value its raw text.
type Rejection struct {
	Kind  Kind
	Field string
	Value string
	Err   error
}

func (r *Rejection) Error() string {
	msg := "rejected: " + string(r.Kind)
	if r.Field != "" {
		msg += ": " + r.Field
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

func (r *Rejection) Unwrap() error { return r.Err }

// Reason returns the cause without the kind and field prefix.
func (r *Rejection) Reason() string {
	if r.Err == nil {
		return string(r.Kind)
	}
	return r.Err.Error()
}

// KindOf returns the rejection kind carried by err, or "" if err is not a rejection.
func KindOf(err error) Kind {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Kind
	}
	return ""
}

func reject(kind Kind, field, value string, err error) *Rejection {
	return &Rejection{Kind: kind, Field: field, Value: value, Err: err}
}

func wrongType(field, raw, want string) *Rejection {
	return reject(KindMalformedJSON, field, raw, fmt.Errorf("%w: want %s", ErrWrongType, want))
}

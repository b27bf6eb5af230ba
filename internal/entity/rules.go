package entity

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/text/language"

	"bannerstream/internal/identifier"
)

const (
	// DefaultCountryPattern accepts two-letter uppercase codes, including the
	// "XX" placeholder sent for unknown locations.
	DefaultCountryPattern = `^[A-Z]{2}$`
	// DefaultLanguagePattern accepts lowercase language codes with optional
	// subtags, e.g. "en", "zh-hans", "be-tarask".
	DefaultLanguagePattern = `^[a-z]{2,3}(-[a-z0-9]{1,8})*$`
)

// Rules holds the pattern each kind's values must match.
type Rules struct {
	Country  *regexp.Regexp
	Language *regexp.Regexp
	Project  *regexp.Regexp
}

// DefaultRules returns the built-in patterns.
func DefaultRules() Rules {
	return Rules{
		Country:  regexp.MustCompile(DefaultCountryPattern),
		Language: regexp.MustCompile(DefaultLanguagePattern),
		Project:  regexp.MustCompile(identifier.DefaultPattern),
	}
}

// InvalidLanguageTagError reports a value that passes the pattern but is not
// a well-formed BCP 47 tag.
type InvalidLanguageTagError struct {
	Value string
	Err   error
}

func (e *InvalidLanguageTagError) Error() string {
	return fmt.Sprintf("invalid language tag %q: %v", e.Value, e.Err)
}

func (e *InvalidLanguageTagError) Unwrap() error { return e.Err }

// LanguageMint validates raw against v and then checks it is a well-formed
// language tag. Unknown but well-formed subtags are accepted.
func LanguageMint(v *identifier.Validator) MintFunc {
	return func(raw string) (*identifier.Identifier, error) {
		id, err := v.New(raw)
		if err != nil {
			return nil, err
		}
		if _, err := language.Parse(raw); err != nil {
			var unknown interface{ Subtag() string }
			if !errors.As(err, &unknown) {
				return nil, &InvalidLanguageTagError{Value: raw, Err: err}
			}
		}
		return id, nil
	}
}

// Registry bundles the three mappers the event validator resolves against.
type Registry struct {
	Countries *Mapper
	Languages *Mapper
	Projects  *Mapper
}

// NewRegistry builds mappers for rules. Nil patterns fall back to the defaults.
func NewRegistry(rules Rules) *Registry {
	def := DefaultRules()
	if rules.Country == nil {
		rules.Country = def.Country
	}
	if rules.Language == nil {
		rules.Language = def.Language
	}
	if rules.Project == nil {
		rules.Project = def.Project
	}
	return &Registry{
		Countries: NewMapper(KindCountry, identifier.FromRegexp(rules.Country).New),
		Languages: NewMapper(KindLanguage, LanguageMint(identifier.FromRegexp(rules.Language))),
		Projects:  NewMapper(KindProject, identifier.FromRegexp(rules.Project).New),
	}
}

func (r *Registry) mappers() []*Mapper {
	return []*Mapper{r.Countries, r.Languages, r.Projects}
}

// Preload restores saved entities for every kind and returns how many stored
// values were skipped because they no longer pass validation.
func (r *Registry) Preload(ctx context.Context, store Store) (int, error) {
	total := 0
	for _, m := range r.mappers() {
		skipped, err := m.Preload(ctx, store)
		total += skipped
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Persist saves pending entities of every kind.
func (r *Registry) Persist(ctx context.Context, store Store) (int, error) {
	total := 0
	for _, m := range r.mappers() {
		n, err := m.Persist(ctx, store)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// HasPending reports whether any mapper holds unsaved identifiers.
func (r *Registry) HasPending() bool {
	for _, m := range r.mappers() {
		if len(m.Pending()) > 0 {
			return true
		}
	}
	return false
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"bannerstream/internal/identifier"
)

const (
	// TimestampLayout is the envelope timestamp format: UTC, second precision.
	TimestampLayout = "2006-01-02T15:04:05Z"
	// DefaultBannerPattern is the allow-list for banner names.
	DefaultBannerPattern = `^[A-Za-z0-9_]+$`
	// BannerShownStatus is the statusCode sent when a banner was displayed.
	BannerShownStatus = "6"
)

const (
	fieldCountry   = "event.country"
	fieldLanguage  = "event.uselang"
	fieldProject   = "event.project"
	fieldBanner    = "event.banner"
	fieldTesting   = "event.testingBanner"
	fieldStatus    = "event.statusCode"
	fieldBot       = "userAgent.is_bot"
	fieldTimestamp = "dt"
)

// Lookup resolves a raw value to its canonical identifier, minting one if needed.
// Implementations must be safe for concurrent use.
type Lookup interface {
	GetOrNew(ctx context.Context, raw string) (*identifier.Identifier, error)
}

// Config wires a Validator. BannerPattern and Logger are optional.
type Config struct {
	Countries     Lookup
	Languages     Lookup
	Projects      Lookup
	BannerPattern *regexp.Regexp
	Logger        *zap.Logger
}

// Validator turns raw event JSON into an Event. It holds no mutable state and
// is safe for concurrent use when its lookups are.
type Validator struct {
	countries Lookup
	languages Lookup
	projects  Lookup
	banner    *regexp.Regexp
	logger    *zap.Logger
}

// NewValidator checks cfg and builds a Validator.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Countries == nil || cfg.Languages == nil || cfg.Projects == nil {
		return nil, errors.New("pipeline: country, language and project lookups are required")
	}
	v := &Validator{
		countries: cfg.Countries,
		languages: cfg.Languages,
		projects:  cfg.Projects,
		banner:    cfg.BannerPattern,
		logger:    cfg.Logger,
	}
	if v.banner == nil {
		v.banner = regexp.MustCompile(DefaultBannerPattern)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	return v, nil
}

// Validate runs the ordered validation chain over raw and stops at the first
// failure. On failure it returns the zero Event and a *Rejection; the
// rejection is also logged at debug level.
func (v *Validator) Validate(ctx context.Context, raw []byte) (Event, error) {
	evt, rej := v.validate(ctx, raw)
	if rej != nil {
		v.logger.Debug("event rejected",
			zap.String("kind", string(rej.Kind)),
			zap.String("field", rej.Field),
			zap.String("value", rej.Value),
			zap.String("reason", rej.Reason()),
		)
		return Event{}, rej
	}
	return evt, nil
}

func (v *Validator) validate(ctx context.Context, raw []byte) (Event, *Rejection) {
	if !gjson.ValidBytes(raw) {
		return Event{}, reject(KindMalformedJSON, "", truncate(string(raw)), ErrInvalidJSON)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Event{}, reject(KindMalformedJSON, "", truncate(doc.Raw), ErrNotObject)
	}

	evt := Event{raw: append([]byte(nil), raw...)}
	var rej *Rejection

	if evt.Country, rej = v.resolve(ctx, doc, fieldCountry, KindInvalidCountry, v.countries); rej != nil {
		return Event{}, rej
	}
	if evt.Language, rej = v.resolve(ctx, doc, fieldLanguage, KindInvalidLanguage, v.languages); rej != nil {
		return Event{}, rej
	}
	if evt.Project, rej = v.resolve(ctx, doc, fieldProject, KindInvalidProject, v.projects); rej != nil {
		return Event{}, rej
	}

	if banner := doc.Get(fieldBanner); banner.Exists() {
		if banner.Type != gjson.String {
			return Event{}, wrongType(fieldBanner, banner.Raw, "string")
		}
		if !v.banner.MatchString(banner.Str) {
			return Event{}, reject(KindInvalidBanner, fieldBanner, banner.Str,
				fmt.Errorf("%w %s", ErrPattern, v.banner.String()))
		}
		name := banner.Str
		evt.Banner = &name
	}

	ts, rej := stringField(doc, fieldTimestamp, KindInvalidTimestamp)
	if rej != nil {
		return Event{}, rej
	}
	if evt.Time, rej = parseTimestamp(ts); rej != nil {
		return Event{}, rej
	}

	bot, rej := boolField(doc, fieldBot)
	if rej != nil {
		return Event{}, rej
	}
	evt.Bot = bot

	if doc.Get(fieldTesting).Exists() {
		if evt.Testing, rej = boolField(doc, fieldTesting); rej != nil {
			return Event{}, rej
		}
	}

	status, rej := stringField(doc, fieldStatus, KindMalformedJSON)
	if rej != nil {
		return Event{}, rej
	}
	evt.BannerShown = status == BannerShownStatus

	return evt, nil
}

func (v *Validator) resolve(ctx context.Context, doc gjson.Result, field string, kind Kind, lookup Lookup) (*identifier.Identifier, *Rejection) {
	value, rej := stringField(doc, field, kind)
	if rej != nil {
		return nil, rej
	}
	id, err := lookup.GetOrNew(ctx, value)
	if err != nil {
		return nil, reject(kind, field, value, err)
	}
	return id, nil
}

// stringField returns the string at path. A missing value is rejected with
// missingKind; a present value of another type is malformed.
func stringField(doc gjson.Result, path string, missingKind Kind) (string, *Rejection) {
	res := doc.Get(path)
	if !res.Exists() {
		return "", reject(missingKind, path, "", ErrMissingField)
	}
	if res.Type != gjson.String {
		return "", wrongType(path, res.Raw, "string")
	}
	return res.Str, nil
}

func boolField(doc gjson.Result, path string) (bool, *Rejection) {
	res := doc.Get(path)
	if !res.Exists() {
		return false, reject(KindMalformedJSON, path, "", ErrMissingField)
	}
	if res.Type != gjson.True && res.Type != gjson.False {
		return false, wrongType(path, res.Raw, "boolean")
	}
	return res.Bool(), nil
}

// parseTimestamp accepts exactly TimestampLayout. time.Parse tolerates a
// fractional second the layout does not mention, so the value must also
// format back to itself.
func parseTimestamp(value string) (time.Time, *Rejection) {
	t, err := time.Parse(TimestampLayout, value)
	if err != nil {
		return time.Time{}, reject(KindInvalidTimestamp, fieldTimestamp, value, err)
	}
	if t.Format(TimestampLayout) != value {
		return time.Time{}, reject(KindInvalidTimestamp, fieldTimestamp, value,
			fmt.Errorf("want layout %s", TimestampLayout))
	}
	return t, nil
}

const maxLoggedValue = 256

func truncate(s string) string {
	if len(s) <= maxLoggedValue {
		return s
	}
	return s[:maxLoggedValue] + "..."
}

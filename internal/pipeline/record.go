package pipeline

import (
	"time"

	"bannerstream/internal/identifier"
	"bannerstream/internal/model"
)

// Event is a fully validated banner event. Every field is populated; Banner is
// nil when the event carried no banner name.
type Event struct {
	Country     *identifier.Identifier
	Language    *identifier.Identifier
	Project     *identifier.Identifier
	Banner      *string
	Time        time.Time
	Bot         bool
	Testing     bool
	BannerShown bool

	raw []byte
}

// Raw returns the JSON the event was validated from.
func (e Event) Raw() []byte { return e.raw }

// Record flattens e into the schema published downstream and loaded into
// ClickHouse. Entity ids are zero until the lookup has persisted them.
func (e Event) Record(ingestedAt time.Time) model.BannerEvent {
	eventTime := e.Time.UTC()
	rec := model.BannerEvent{
		EventTime:   eventTime,
		EventDate:   time.Date(eventTime.Year(), eventTime.Month(), eventTime.Day(), 0, 0, 0, 0, time.UTC),
		Country:     e.Country.String(),
		CountryID:   dbID(e.Country),
		Language:    e.Language.String(),
		LanguageID:  dbID(e.Language),
		Project:     e.Project.String(),
		ProjectID:   dbID(e.Project),
		Bot:         e.Bot,
		Testing:     e.Testing,
		BannerShown: e.BannerShown,
		IngestedAt:  ingestedAt.UTC(),
	}
	if e.Banner != nil {
		rec.Banner = *e.Banner
	}
	return rec
}

func dbID(id *identifier.Identifier) int64 {
	v, _ := id.DBID()
	return v
}

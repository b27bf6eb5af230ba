package model

import "time"

// BannerEvent is the normalized banner event published to the validated topic
// and stored in ClickHouse. Banner is empty when the event had none.
type BannerEvent struct {
	EventTime   time.Time `json:"event_time"`
	EventDate   time.Time `json:"event_date"`
	Country     string    `json:"country"`
	CountryID   int64     `json:"country_id"`
	Language    string    `json:"language"`
	LanguageID  int64     `json:"language_id"`
	Project     string    `json:"project"`
	ProjectID   int64     `json:"project_id"`
	Banner      string    `json:"banner,omitempty"`
	Bot         bool      `json:"bot"`
	Testing     bool      `json:"testing"`
	BannerShown bool      `json:"banner_shown"`
	IngestedAt  time.Time `json:"_ingested_at"`
}

// Counted reports whether the event counts as a real impression: shown to a
// non-bot outside of banner testing.
func (e BannerEvent) Counted() bool {
	return e.BannerShown && !e.Bot && !e.Testing
}

// Package ch stores validated banner events in ClickHouse and answers the
// impression queries.
package ch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"bannerstream/internal/model"
)

// Client wraps a ClickHouse connection.
type Client struct {
	db *sql.DB
}

// New creates a ClickHouse client from a DSN.
func New(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{db: db}, nil
}

// Close releases database resources.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// EnsureSchema creates the banner_events table if it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS banner_events
(
  event_time    DateTime('UTC'),
  event_date    Date,
  country       LowCardinality(String),
  country_id    Int64,
  language      LowCardinality(String),
  language_id   Int64,
  project       LowCardinality(String),
  project_id    Int64,
  banner        LowCardinality(String),
  bot           UInt8,
  testing       UInt8,
  banner_shown  UInt8,
  _ingested_at  DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (project, banner, event_date, event_time)`
	_, err := c.db.ExecContext(ctx, ddl)
	return err
}

// InsertBatch writes a batch of banner events with a single prepared statement.
func (c *Client) InsertBatch(ctx context.Context, events []model.BannerEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO banner_events (
	event_time, event_date, country, country_id, language, language_id,
	project, project_id, banner, bot, testing, banner_shown, _ingested_at
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, evt := range events {
		if _, err := stmt.ExecContext(
			ctx,
			evt.EventTime,
			evt.EventDate,
			evt.Country,
			evt.CountryID,
			evt.Language,
			evt.LanguageID,
			evt.Project,
			evt.ProjectID,
			evt.Banner,
			flag(evt.Bot),
			flag(evt.Testing),
			flag(evt.BannerShown),
			evt.IngestedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func flag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// MetricPoint represents a time-series datapoint.
type MetricPoint struct {
	Date  time.Time `json:"date"`
	Value int64     `json:"value"`
}

// TopBanner holds aggregated impressions for one banner.
type TopBanner struct {
	Banner      string `json:"banner"`
	Impressions int64  `json:"impressions"`
}

// ImpressionFilter narrows impression queries. Empty Project or Banner match all.
type ImpressionFilter struct {
	Project string
	Banner  string
	From    time.Time
	To      time.Time
}

// countedClause selects real impressions: shown, not a bot, not testing.
const countedClause = "banner_shown = 1 AND bot = 0 AND testing = 0"

func (f ImpressionFilter) where() (string, []any) {
	clauses := []string{countedClause, "event_date BETWEEN ? AND ?"}
	args := []any{f.From, f.To}
	if f.Project != "" {
		clauses = append(clauses, "project = ?")
		args = append(args, f.Project)
	}
	if f.Banner != "" {
		clauses = append(clauses, "banner = ?")
		args = append(args, f.Banner)
	}
	return strings.Join(clauses, " AND "), args
}

// Impressions returns daily counted impressions matching f.
func (c *Client) Impressions(ctx context.Context, f ImpressionFilter) ([]MetricPoint, error) {
	where, args := f.where()
	rows, err := c.db.QueryContext(ctx, `
SELECT event_date, count() AS impressions
FROM banner_events
WHERE `+where+`
GROUP BY event_date
ORDER BY event_date ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var series []MetricPoint
	for rows.Next() {
		var point MetricPoint
		if err := rows.Scan(&point.Date, &point.Value); err != nil {
			return nil, err
		}
		series = append(series, point)
	}
	return series, rows.Err()
}

// TopBanners returns the banners with the most counted impressions. f.Banner
// is ignored.
func (c *Client) TopBanners(ctx context.Context, f ImpressionFilter, limit int) ([]TopBanner, error) {
	f.Banner = ""
	where, args := f.where()
	args = append(args, limit)
	rows, err := c.db.QueryContext(ctx, `
SELECT banner, count() AS impressions
FROM banner_events
WHERE `+where+` AND banner != ''
GROUP BY banner
ORDER BY impressions DESC, banner ASC
LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TopBanner
	for rows.Next() {
		var record TopBanner
		if err := rows.Scan(&record.Banner, &record.Impressions); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// CountEvents returns the total rows, useful for tests.
func (c *Client) CountEvents(ctx context.Context) (int64, error) {
	row := c.db.QueryRowContext(ctx, `SELECT count() FROM banner_events`)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Ping ensures the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	return nil
}

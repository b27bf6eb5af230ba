package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bannerstream/internal/entity"
	"bannerstream/internal/pipeline"
)

// Config holds shared service configuration sourced from environment variables.
type Config struct {
	IngestAddr           string        `env:"INGEST_ADDR" envDefault:":8080"`
	QueryAddr            string        `env:"QUERY_ADDR" envDefault:":8081"`
	ValidatorMetricsAddr string        `env:"VALIDATOR_METRICS_ADDR" envDefault:":9100"`
	LoaderMetricsAddr    string        `env:"LOADER_METRICS_ADDR" envDefault:":9101"`
	KafkaBrokers         []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopicRaw        string        `env:"KAFKA_TOPIC_RAW" envDefault:"centralnotice.raw"`
	KafkaTopicValidated  string        `env:"KAFKA_TOPIC_VALIDATED" envDefault:"centralnotice.validated"`
	KafkaTopicRejected   string        `env:"KAFKA_TOPIC_REJECTED" envDefault:"centralnotice.rejected"`
	ClickHouseDSN        string        `env:"CLICKHOUSE_DSN" envDefault:"clickhouse://default:@localhost:9000?database=default&dial_timeout=5s&compress=true"`
	EntityDBPath         string        `env:"ENTITY_DB_PATH" envDefault:"data/entities.db"`
	ValidationConfigPath string        `env:"VALIDATION_CONFIG_PATH"`
	HMACSecret           string        `env:"HMAC_SECRET"`
	CORSAllowOrigins     []string      `env:"CORS_ALLOW_ORIGINS" envDefault:"*" envSeparator:","`
	MaxBodyBytes         int64         `env:"INGEST_MAX_BODY_BYTES" envDefault:"65536"`
	BatchSize            int           `env:"LOADER_BATCH_SIZE" envDefault:"1000"`
	BatchInterval        time.Duration `env:"LOADER_BATCH_INTERVAL" envDefault:"800ms"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file, then parses process environment variables
// into a Config, applying defaults when unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = splitAndTrim(cfg.KafkaBrokers)
	cfg.CORSAllowOrigins = splitAndTrim(cfg.CORSAllowOrigins)
	if len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("LOADER_BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("INGEST_MAX_BODY_BYTES must be positive, got %d", cfg.MaxBodyBytes)
	}
	return cfg, nil
}

func splitAndTrim(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Patterns are the compiled format rules used by the validator and lookups.
type Patterns struct {
	Banner   *regexp.Regexp
	Country  *regexp.Regexp
	Language *regexp.Regexp
	Project  *regexp.Regexp
}

// Rules returns the lookup rules for entity.NewRegistry.
func (p Patterns) Rules() entity.Rules {
	return entity.Rules{Country: p.Country, Language: p.Language, Project: p.Project}
}

type patternsFile struct {
	Patterns struct {
		Banner   string `yaml:"banner"`
		Country  string `yaml:"country"`
		Language string `yaml:"language"`
		Project  string `yaml:"project"`
	} `yaml:"patterns"`
}

// DefaultPatterns returns the built-in format rules.
func DefaultPatterns() Patterns {
	rules := entity.DefaultRules()
	return Patterns{
		Banner:   regexp.MustCompile(pipeline.DefaultBannerPattern),
		Country:  rules.Country,
		Language: rules.Language,
		Project:  rules.Project,
	}
}

// LoadPatterns returns the default patterns overridden by any set in the YAML
// file at path. An empty path yields the defaults.
func (c Config) LoadPatterns() (Patterns, error) {
	return LoadPatterns(c.ValidationConfigPath)
}

// LoadPatterns reads pattern overrides from path.
func LoadPatterns(path string) (Patterns, error) {
	out := DefaultPatterns()
	if strings.TrimSpace(path) == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Patterns{}, fmt.Errorf("read validation config: %w", err)
	}
	var file patternsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Patterns{}, fmt.Errorf("parse validation config %s: %w", path, err)
	}
	overrides := []struct {
		name   string
		source string
		target **regexp.Regexp
	}{
		{"banner", file.Patterns.Banner, &out.Banner},
		{"country", file.Patterns.Country, &out.Country},
		{"language", file.Patterns.Language, &out.Language},
		{"project", file.Patterns.Project, &out.Project},
	}
	for _, o := range overrides {
		if o.source == "" {
			continue
		}
		re, err := compileAnchored(o.source)
		if err != nil {
			return Patterns{}, fmt.Errorf("%s pattern in %s: %w", o.name, path, err)
		}
		*o.target = re
	}
	return out, nil
}

// compileAnchored compiles source and requires it to match whole values.
func compileAnchored(source string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(source, "^") || !strings.HasSuffix(source, "$") {
		return nil, fmt.Errorf("pattern %q must start with ^ and end with $", source)
	}
	return regexp.Compile(source)
}

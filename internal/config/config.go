// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config holds every setting shared by the commands. Commands expose each
// field as a flag defaulting to the value loaded here.
type Config struct {
	// Storage
	PostgresDSN   string
	ClickhouseDSN string
	RedisAddr     string
	UseMemory     bool

	// Kafka
	KafkaBrokers       []string
	KafkaEventsTopic   string
	KafkaRescrapeTopic string
	KafkaGroupID       string

	// Fetching
	AllowedHosts []string
	UserAgent    string
	FetchTimeout time.Duration
	Fetcher      string // http | colly

	// Batch
	Workers       int
	RequestDelay  time.Duration
	BatchDeadline time.Duration

	// Normalization and matching
	ExchangeRate       decimal.Decimal
	NominalMinPrice    decimal.Decimal
	TitlePrefixLen     int
	TitleMinLen        int
	ExtractTitleMinLen int
	PlatformName       string

	// Reconciliation
	ImportMaxErrors    int
	PlatformFeeRate    decimal.Decimal
	PaymentFeeRate     decimal.Decimal
	FixedFee           decimal.Decimal
	LowMarginPct       decimal.Decimal
	RestrictedKeywords []string

	// Servers and logging
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	LogJSON     bool
}

// Load reads .env files (never overriding variables already set) and then
// the environment. Missing files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables with defaults.
func FromEnv() (*Config, error) {
	r := &reader{}
	cfg := &Config{
		PostgresDSN:   r.str("POSTGRES_DSN", ""),
		ClickhouseDSN: r.str("CLICKHOUSE_DSN", ""),
		RedisAddr:     r.str("REDIS_ADDR", ""),
		UseMemory:     r.boolean("USE_MEMORY", false),

		KafkaBrokers:       r.list("KAFKA_BROKERS"),
		KafkaEventsTopic:   r.str("KAFKA_EVENTS_TOPIC", "listing-events"),
		KafkaRescrapeTopic: r.str("KAFKA_RESCRAPE_TOPIC", "listing-rescrape"),
		KafkaGroupID:       r.str("KAFKA_GROUP_ID", "auction-ingest"),

		AllowedHosts: r.list("ALLOWED_HOSTS"),
		UserAgent:    r.str("USER_AGENT", "Mozilla/5.0 (compatible; auction-ingest/1.0)"),
		FetchTimeout: r.duration("FETCH_TIMEOUT", 15*time.Second),
		Fetcher:      strings.ToLower(r.str("FETCHER", "http")),

		Workers:       r.integer("WORKERS", 1),
		RequestDelay:  r.duration("REQUEST_DELAY", 2*time.Second),
		BatchDeadline: r.duration("BATCH_DEADLINE", 0),

		ExchangeRate:       r.dec("EXCHANGE_RATE", "150"),
		NominalMinPrice:    r.dec("NOMINAL_MIN_PRICE", "1.00"),
		TitlePrefixLen:     r.integer("TITLE_PREFIX_LEN", 30),
		TitleMinLen:        r.integer("TITLE_MIN_LEN", 20),
		ExtractTitleMinLen: r.integer("EXTRACT_TITLE_MIN_LEN", 5),
		PlatformName:       r.str("PLATFORM_NAME", ""),

		ImportMaxErrors:    r.integer("IMPORT_MAX_ERRORS", 50),
		PlatformFeeRate:    r.dec("PLATFORM_FEE_RATE", "0.13"),
		PaymentFeeRate:     r.dec("PAYMENT_FEE_RATE", "0.03"),
		FixedFee:           r.dec("FIXED_FEE", "0.30"),
		LowMarginPct:       r.dec("LOW_MARGIN_PCT", "15"),
		RestrictedKeywords: r.list("RESTRICTED_KEYWORDS"),

		HTTPAddr:    r.str("HTTP_ADDR", ":8080"),
		MetricsAddr: r.str("METRICS_ADDR", ":9090"),
		LogLevel:    r.str("LOG_LEVEL", "info"),
		LogJSON:     r.boolean("LOG_JSON", false),
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := cfg.validateValues(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and that fetching is restricted to an explicit
// host list. Memory mode may leave the list empty, which blocks every fetch.
func (c *Config) Validate() error {
	err := c.validateValues()
	if !c.UseMemory && len(c.AllowedHosts) == 0 {
		err = errors.Join(err, errors.New(`ALLOWED_HOSTS is required (use "**" to allow every host)`))
	}
	return err
}

func (c *Config) validateValues() error {
	var errs []error
	if !c.ExchangeRate.IsPositive() {
		errs = append(errs, errors.New("EXCHANGE_RATE must be positive"))
	}
	if c.NominalMinPrice.IsNegative() {
		errs = append(errs, errors.New("NOMINAL_MIN_PRICE must not be negative"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	if c.TitlePrefixLen < 1 || c.TitleMinLen < 1 || c.ExtractTitleMinLen < 1 {
		errs = append(errs, errors.New("title thresholds must be at least 1"))
	}
	if c.ImportMaxErrors < 1 {
		errs = append(errs, errors.New("IMPORT_MAX_ERRORS must be at least 1"))
	}
	if c.Fetcher != "http" && c.Fetcher != "colly" {
		errs = append(errs, fmt.Errorf("FETCHER must be http or colly, got %q", c.Fetcher))
	}
	return errors.Join(errs...)
}

// NewLogger returns a logrus logger configured by LogLevel and LogJSON.
func (c *Config) NewLogger() *logrus.Logger {
	return NewLogger(c.LogLevel, c.LogJSON)
}

// NewLogger builds a logger. Unknown levels fall back to info.
func NewLogger(level string, json bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// reader collects parse errors so all bad keys are reported at once.
type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) list(key string) []string {
	return SplitList(os.Getenv(key))
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (r *reader) dec(key, def string) decimal.Decimal {
	v := r.str(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid decimal %q", key, v))
		return decimal.RequireFromString(def)
	}
	return d
}

// RegisterStorageFlags binds the storage and logging settings to fs, using
// the loaded values as defaults.
func (c *Config) RegisterStorageFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "PostgreSQL connection string")
	fs.StringVar(&c.ClickhouseDSN, "clickhouse-dsn", c.ClickhouseDSN, "ClickHouse connection string (price history)")
	fs.BoolVar(&c.UseMemory, "use-memory", c.UseMemory, "Use in-memory storage instead of PostgreSQL")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "Emit JSON log lines")
}

// RegisterFlags binds every setting to fs, using the loaded values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	c.RegisterStorageFlags(fs)

	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address for cross-process record locks (empty: in-process)")
	listVar(fs, &c.KafkaBrokers, "kafka-brokers", "Comma-separated Kafka brokers (empty disables events)")
	fs.StringVar(&c.KafkaEventsTopic, "kafka-events-topic", c.KafkaEventsTopic, "Topic for listing change events")
	fs.StringVar(&c.KafkaRescrapeTopic, "kafka-rescrape-topic", c.KafkaRescrapeTopic, "Topic for re-scrape requests")
	fs.StringVar(&c.KafkaGroupID, "kafka-group-id", c.KafkaGroupID, "Consumer group for re-scrape requests")

	listVar(fs, &c.AllowedHosts, "allowed-hosts", `Comma-separated host globs allowed for fetching ("**" allows all, empty allows none)`)
	fs.StringVar(&c.UserAgent, "user-agent", c.UserAgent, "User-Agent sent with every fetch")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "Per-fetch timeout")
	fs.StringVar(&c.Fetcher, "fetcher", c.Fetcher, "Fetcher implementation: http or colly")

	fs.IntVar(&c.Workers, "workers", c.Workers, "Concurrent URL pipelines")
	fs.DurationVar(&c.RequestDelay, "delay", c.RequestDelay, "Minimum delay between dispatched URLs")
	fs.DurationVar(&c.BatchDeadline, "deadline", c.BatchDeadline, "Stop dispatching after this long (0 disables)")

	decimalVar(fs, &c.ExchangeRate, "exchange-rate", "Source currency units per working currency unit")
	decimalVar(fs, &c.NominalMinPrice, "nominal-min-price", "Price used when none is extracted")
	fs.IntVar(&c.TitlePrefixLen, "title-prefix-len", c.TitlePrefixLen, "Runes compared by title-prefix matching")
	fs.IntVar(&c.TitleMinLen, "title-min-len", c.TitleMinLen, "Shortest title eligible for title matching")
	fs.StringVar(&c.PlatformName, "platform", c.PlatformName, "Platform display name (empty uses the URL host)")

	fs.IntVar(&c.ImportMaxErrors, "import-max-errors", c.ImportMaxErrors, "Abort an import above this many row errors")

	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "Operator API address")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus metrics address (empty disables)")
}

func listVar(fs *flag.FlagSet, dst *[]string, name, usage string) {
	fs.Func(name, fmt.Sprintf("%s (default %q)", usage, strings.Join(*dst, ",")), func(s string) error {
		*dst = SplitList(s)
		return nil
	})
}

func decimalVar(fs *flag.FlagSet, dst *decimal.Decimal, name, usage string) {
	fs.Func(name, fmt.Sprintf("%s (default %s)", usage, dst.String()), func(s string) error {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	})
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	limiter "github.com/ulule/limiter/v3"

	"github.com/nkiryanov/kglow/internal/logger"
)

const (
	defaultListenAddr       = "localhost:8000"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProd
	defaultRatesAddr        = "http://localhost:3001"
	defaultRatesTTL         = time.Hour
	defaultProcessorAddr    = "http://localhost:3002"
	defaultCurrency         = "RUB"
	defaultProcessorTimeout = 10 * time.Second
	defaultWorkers          = 4
	defaultQuoteRateLimit   = "60-M"
	defaultSweepInterval    = time.Minute
	defaultDispatchUnique   = time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment: dev, prod or test. Defines log format
	Environment string

	// Address on which the HTTP API will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Max connections in the pool; 0 means pgx default
	DatabaseMaxConns int

	// Secret key shared with the platform auth service to verify access tokens
	SecretKey string

	// Redis is optional. Without it rates are cached in memory,
	// auto-recharges run in process and the rate limiter is process local
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Exchange rates API
	RatesAddr string
	RatesTTL  time.Duration

	// KRW->RUB rate used when the rates API is down; empty disables it
	FallbackRate string

	// Payment processor
	ProcessorAddr    string
	ProcessorKey     string
	Currency         string
	ProcessorTimeout time.Duration

	// Auto-recharge workers
	Workers int

	// How often accounts below their threshold are re-dispatched
	SweepInterval time.Duration

	// Window in which one user is enqueued at most once
	DispatchUnique time.Duration

	// Quote calculations per user, ulule/limiter format: "<limit>-<period>", e.g. "60-M"
	QuoteRateLimit string

	// Directory with DejaVuSans.ttf / DejaVuSans-Bold.ttf for PDF quotes; empty uses built-in Helvetica
	FontDir string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		Environment:      defaultEnvironment,
		ListenAddr:       defaultListenAddr,
		RatesAddr:        defaultRatesAddr,
		RatesTTL:         defaultRatesTTL,
		ProcessorAddr:    defaultProcessorAddr,
		Currency:         defaultCurrency,
		ProcessorTimeout: defaultProcessorTimeout,
		Workers:          defaultWorkers,
		SweepInterval:    defaultSweepInterval,
		DispatchUnique:   defaultDispatchUnique,
		QuoteRateLimit:   defaultQuoteRateLimit,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":               setString(&c.ListenAddr),
		"DATABASE_URI":              setString(&c.DatabaseDSN),
		"DATABASE_MAX_CONNS":        setInt(&c.DatabaseMaxConns),
		"SECRET_KEY":                setString(&c.SecretKey),
		"LOG_LEVEL":                 setString(&c.LogLevel),
		"ENVIRONMENT":               setString(&c.Environment),
		"REDIS_ADDR":                setString(&c.RedisAddr),
		"REDIS_PASSWORD":            setString(&c.RedisPassword),
		"REDIS_DB":                  setInt(&c.RedisDB),
		"RATES_ADDRESS":             setString(&c.RatesAddr),
		"RATES_TTL":                 setDuration(&c.RatesTTL),
		"RATES_FALLBACK":            setString(&c.FallbackRate),
		"PAYMENT_PROCESSOR_ADDRESS": setString(&c.ProcessorAddr),
		"PAYMENT_PROCESSOR_KEY":     setString(&c.ProcessorKey),
		"PAYMENT_CURRENCY":          setString(&c.Currency),
		"PAYMENT_TIMEOUT":           setDuration(&c.ProcessorTimeout),
		"RECHARGE_WORKERS":          setInt(&c.Workers),
		"RECHARGE_SWEEP_INTERVAL":   setDuration(&c.SweepInterval),
		"RECHARGE_UNIQUE_WINDOW":    setDuration(&c.DispatchUnique),
		"QUOTE_RATE_LIMIT":          setString(&c.QuoteRateLimit),
		"PDF_FONT_DIR":              setString(&c.FontDir),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("kglow", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.IntVar(&c.DatabaseMaxConns, "database-max-conns", c.DatabaseMaxConns, "Max database connections (0 is pgx default)")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to verify access tokens")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod, test)")

	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address; empty runs without redis")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database")

	fs.StringVarP(&c.RatesAddr, "rates", "r", c.RatesAddr, "Exchange rates API address")
	fs.DurationVar(&c.RatesTTL, "rates-ttl", c.RatesTTL, "How long fetched rates are cached")
	fs.StringVar(&c.FallbackRate, "rates-fallback", c.FallbackRate, "KRW->RUB rate used when the rates API is down")

	fs.StringVarP(&c.ProcessorAddr, "processor", "p", c.ProcessorAddr, "Payment processor address")
	fs.StringVar(&c.ProcessorKey, "processor-key", c.ProcessorKey, "Payment processor API key")
	fs.StringVar(&c.Currency, "currency", c.Currency, "Currency of credit purchases")
	fs.DurationVar(&c.ProcessorTimeout, "processor-timeout", c.ProcessorTimeout, "Payment processor request timeout")

	fs.IntVarP(&c.Workers, "workers", "w", c.Workers, "Auto-recharge workers")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Interval of auto-recharge sweeps")
	fs.DurationVar(&c.DispatchUnique, "recharge-unique", c.DispatchUnique, "Window in which a user is enqueued once")
	fs.StringVar(&c.QuoteRateLimit, "quote-rate-limit", c.QuoteRateLimit, "Quote calculations per user, e.g. 60-M")
	fs.StringVar(&c.FontDir, "font-dir", c.FontDir, "Directory with DejaVu fonts for PDF quotes")

	return fs.Parse(args)
}

// Validate checks options the app can't start without
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.FallbackRate != "" {
		rate, err := decimal.NewFromString(c.FallbackRate)
		if err != nil || !rate.IsPositive() {
			errs = append(errs, fmt.Errorf("fallback rate must be a positive number, got '%s'", c.FallbackRate))
		}
	}
	if _, err := limiter.NewRateFromFormatted(c.QuoteRateLimit); err != nil {
		errs = append(errs, fmt.Errorf("invalid quote rate limit '%s': %w", c.QuoteRateLimit, err))
	}

	return errors.Join(errs...)
}

// Zero when fallback is not set; Validate has to be called before
func (c *Config) fallbackRate() decimal.Decimal {
	if c.FallbackRate == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(c.FallbackRate)
}

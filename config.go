package gridbase

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration constants for gridbase operations
const (
	// Lock retry configuration
	DefaultMaxRetries      = 3
	DefaultInitialBackoff  = 100 * time.Millisecond
	DefaultBackoffMultiple = 2
	DefaultJitterPercent   = 0.5

	// DefaultKeyField is the column holding a document's key when a
	// collection has no configured key field.
	DefaultKeyField = "$key"

	// OrdinalField is the column holding a document's append ordinal.
	OrdinalField = "#"
)

// RetryConfig holds configuration for retry operations with exponential backoff
type RetryConfig struct {
	MaxRetries      int
	InitialBackoff  time.Duration
	BackoffMultiple int
	JitterPercent   float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialBackoff:  DefaultInitialBackoff,
		BackoffMultiple: DefaultBackoffMultiple,
		JitterPercent:   DefaultJitterPercent,
	}
}

// Validate checks if the RetryConfig is valid
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxRetries",
			"value":  c.MaxRetries,
			"reason": "must be non-negative",
		})
	}
	if c.InitialBackoff <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "InitialBackoff",
			"value":  c.InitialBackoff,
			"reason": "must be positive",
		})
	}
	if c.BackoffMultiple < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "BackoffMultiple",
			"value":  c.BackoffMultiple,
			"reason": "must be >= 1",
		})
	}
	if c.JitterPercent < 0 || c.JitterPercent > 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "JitterPercent",
			"value":  c.JitterPercent,
			"reason": "must be between 0 and 1",
		})
	}
	return nil
}

// Options configures a DB.
type Options struct {
	// DatabaseID names the spreadsheet or bucket prefix; informational.
	DatabaseID string

	// KeyFields maps a collection to the column used as its document key.
	// Collections not listed use DefaultKeyField.
	KeyFields map[string]string

	// Rules is anything ParseRules accepts. Nil denies every non-admin call.
	Rules interface{}

	// Admin skips every security check.
	Admin bool

	// Helpers are callable from rule expressions.
	Helpers map[string]Helper

	// TokenDecoder verifies tokens passed to WithToken.
	TokenDecoder TokenDecoder

	Logger  Logger
	Metrics Metrics

	// Locker serializes read-modify-write operations such as Increase.
	Locker Locker

	// FreshWrites reloads a collection from the grid before each write.
	FreshWrites bool

	KeyLength int
	KeyPrefix string
}

// DefaultOptions returns options with no-op logging and metrics and an
// in-process locker.
func DefaultOptions() Options {
	return Options{
		KeyFields: map[string]string{},
		Logger:    &NoOpLogger{},
		Metrics:   &NoOpMetrics{},
		Locker:    NewLocalLocker(),
		KeyLength: DefaultKeyLength,
		KeyPrefix: DefaultKeyPrefix,
	}
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.KeyFields == nil {
		o.KeyFields = d.KeyFields
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	if o.Metrics == nil {
		o.Metrics = d.Metrics
	}
	if o.Locker == nil {
		o.Locker = d.Locker
	}
	if o.KeyLength == 0 {
		o.KeyLength = d.KeyLength
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = d.KeyPrefix
	}
	return o
}

// Validate checks key field names and key settings.
func (o Options) Validate() error {
	for collection, field := range o.KeyFields {
		if collection == "" || field == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":      "KeyFields",
				"collection": collection,
				"reason":     "collection and key field must be non-empty",
			})
		}
		if field == OrdinalField {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":      "KeyFields",
				"collection": collection,
				"reason":     "the ordinal column cannot be a key field",
			})
		}
	}
	if o.KeyLength < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "KeyLength",
			"value":  o.KeyLength,
			"reason": "must be non-negative",
		})
	}
	return nil
}

// LoadOptionsFromEnv reads GRIDBASE_* variables on top of DefaultOptions:
//
//	GRIDBASE_DATABASE_ID   database identifier
//	GRIDBASE_ADMIN         "true" skips security
//	GRIDBASE_KEY_FIELDS    "users=uid,orders=orderId"
//	GRIDBASE_RULES_FILE    JSON or YAML rules file
//	GRIDBASE_FRESH_WRITES  "true" reloads collections before writes
//	GRIDBASE_KEY_LENGTH    generated key length
func LoadOptionsFromEnv() (Options, error) {
	opts := DefaultOptions()
	opts.DatabaseID = os.Getenv("GRIDBASE_DATABASE_ID")
	opts.Admin = getEnvAsBool("GRIDBASE_ADMIN", false)
	opts.FreshWrites = getEnvAsBool("GRIDBASE_FRESH_WRITES", false)
	opts.KeyLength = getEnvAsInt("GRIDBASE_KEY_LENGTH", DefaultKeyLength)

	if raw := os.Getenv("GRIDBASE_KEY_FIELDS"); raw != "" {
		fields, err := ParseKeyFields(raw)
		if err != nil {
			return opts, err
		}
		opts.KeyFields = fields
	}

	if file := os.Getenv("GRIDBASE_RULES_FILE"); file != "" {
		tree, err := LoadRulesFile(file)
		if err != nil {
			return opts, err
		}
		opts.Rules = tree
	}

	return opts, opts.Validate()
}

// ParseKeyFields parses "collection=field" pairs separated by commas.
func ParseKeyFields(raw string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		collection, field, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(collection) == "" || strings.TrimSpace(field) == "" {
			return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "KeyFields",
				"value":  pair,
				"reason": "expected collection=field",
			})
		}
		fields[strings.TrimSpace(collection)] = strings.TrimSpace(field)
	}
	return fields, nil
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

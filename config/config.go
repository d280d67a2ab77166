// Package config loads service configuration from defaults, an optional TOML
// file and the environment, in that order.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendAzure  = "azure"
	BackendSQLite = "sqlite"

	DefaultPort          = "8080"
	DefaultDocumentTable = "documents"
	DefaultEventsQueue   = "task-events"
	DefaultSQLitePath    = "data/taskboard.db"
	DefaultBoardCacheTTL = 5 * time.Minute
	DefaultDeduperTTL    = 24 * time.Hour
	DefaultEventTimeout  = 60 * time.Second
	DefaultEventHandoff  = 15 * time.Millisecond
)

type Config struct {
	Port       string `toml:"port"`
	CORSOrigin string `toml:"cors_origin"`
	Debug      bool   `toml:"debug"`
	LogFormat  string `toml:"log_format"`

	Storage  StorageConfig  `toml:"storage"`
	Redis    RedisConfig    `toml:"redis"`
	Firebase FirebaseConfig `toml:"firebase"`
	Events   EventsConfig   `toml:"events"`

	TraceSampleRatio float64 `toml:"trace_sample_ratio"`
}

type StorageConfig struct {
	Backend          string `toml:"backend"`
	ConnectionString string `toml:"connection_string"`
	DocumentsTable   string `toml:"documents_table"`
	EventsQueue      string `toml:"events_queue"`
	SQLitePath       string `toml:"sqlite_path"`
	Provision        bool   `toml:"provision"`
}

type RedisConfig struct {
	ConnectionString string        `toml:"connection_string"`
	BoardCacheTTL    time.Duration `toml:"board_cache_ttl"`
	DeduperTTL       time.Duration `toml:"deduper_ttl"`
}

type FirebaseConfig struct {
	ProjectID       string        `toml:"project_id"`
	ClientEmail     string        `toml:"client_email"`
	PrivateKey      string        `toml:"private_key"`
	JWKSCacheTTL    time.Duration `toml:"jwks_cache_ttl"`
	LocalAuthMode   string        `toml:"local_auth_mode"`
	LocalAuthSecret string        `toml:"local_auth_shared_secret"`
}

type EventsConfig struct {
	Workers        int           `toml:"workers"`
	Buffer         int           `toml:"buffer"`
	Timeout        time.Duration `toml:"timeout"`
	HandoffTimeout time.Duration `toml:"handoff_timeout"`
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds the configuration using lookup for environment variables.
// The file named by CONFIG_FILE, if any, is read before the environment.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(cfg, lookup); err != nil {
		return nil, err
	}

	key, err := decodePrivateKey(cfg.Firebase.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("FIREBASE_PRIVATE_KEY: %w", err)
	}
	cfg.Firebase.PrivateKey = key
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	return cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Port = DefaultPort
	cfg.CORSOrigin = "*"
	cfg.LogFormat = "text"
	cfg.Storage.Backend = BackendAzure
	cfg.Storage.DocumentsTable = DefaultDocumentTable
	cfg.Storage.EventsQueue = DefaultEventsQueue
	cfg.Storage.SQLitePath = DefaultSQLitePath
	cfg.Redis.BoardCacheTTL = DefaultBoardCacheTTL
	cfg.Redis.DeduperTTL = DefaultDeduperTTL
	cfg.Events.Timeout = DefaultEventTimeout
	cfg.Events.HandoffTimeout = DefaultEventHandoff
	cfg.TraceSampleRatio = 1
}

// loadFromEnv overrides cfg with environment values. Where two names are
// listed the first one set wins.
func loadFromEnv(cfg *Config, lookup LookupFunc) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []string
	boolean := func(dst *bool, key string) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				errs = append(errs, fmt.Sprintf("invalid %s: must be a non-negative integer", key))
				return
			}
			*dst = n
		}
	}
	duration := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				errs = append(errs, fmt.Sprintf("invalid %s: must be a non-negative duration", key))
				return
			}
			*dst = d
		}
	}

	str(&cfg.Port, "PORT", "FUNCTIONS_CUSTOMHANDLER_PORT")
	str(&cfg.CORSOrigin, "CORS_ORIGIN", "URL")
	boolean(&cfg.Debug, "DEBUG")
	str(&cfg.LogFormat, "LOG_FORMAT")

	str(&cfg.Storage.Backend, "STORAGE_BACKEND")
	str(&cfg.Storage.ConnectionString, "STORAGE_CONNECTION_STRING", "DATABASE_URL")
	str(&cfg.Storage.DocumentsTable, "DOCUMENTS_TABLE")
	str(&cfg.Storage.EventsQueue, "EVENTS_QUEUE")
	str(&cfg.Storage.SQLitePath, "SQLITE_PATH")
	boolean(&cfg.Storage.Provision, "PROVISION_STORAGE")

	str(&cfg.Redis.ConnectionString, "REDIS_CONNECTION_STRING")
	duration(&cfg.Redis.BoardCacheTTL, "BOARD_CACHE_TTL")
	duration(&cfg.Redis.DeduperTTL, "DEDUPER_TTL")

	str(&cfg.Firebase.ProjectID, "FIREBASE_PROJECT_ID", "PROJECT_ID")
	str(&cfg.Firebase.ClientEmail, "FIREBASE_CLIENT_EMAIL", "CLIENT_EMAIL")
	str(&cfg.Firebase.PrivateKey, "FIREBASE_PRIVATE_KEY", "PRIVATE_KEY")
	duration(&cfg.Firebase.JWKSCacheTTL, "JWKS_CACHE_TTL")
	str(&cfg.Firebase.LocalAuthMode, "LOCAL_AUTH_MODE")
	str(&cfg.Firebase.LocalAuthSecret, "LOCAL_AUTH_SHARED_SECRET")

	integer(&cfg.Events.Workers, "EVENT_WORKERS")
	integer(&cfg.Events.Buffer, "EVENT_BUFFER")
	duration(&cfg.Events.Timeout, "EVENT_TIMEOUT")
	duration(&cfg.Events.HandoffTimeout, "EVENT_HANDOFF_TIMEOUT")

	if v, ok := lookup("TRACE_SAMPLE_RATIO"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 || r > 1 {
			errs = append(errs, "invalid TRACE_SAMPLE_RATIO: must be between 0 and 1")
		} else {
			cfg.TraceSampleRatio = r
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// decodePrivateKey accepts a base64 encoded PEM key or the PEM text itself,
// with literal \n sequences restored to newlines.
func decodePrivateKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if !strings.Contains(raw, "-----BEGIN") {
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return "", fmt.Errorf("not base64 or PEM: %w", err)
		}
		raw = string(data)
	}
	return strings.ReplaceAll(raw, `\n`, "\n"), nil
}

// LocalAuth reports whether tokens are verified with a shared secret.
func (c *Config) LocalAuth() bool {
	return c.Firebase.LocalAuthMode != ""
}

// HasServiceAccount reports whether identity admin credentials are present.
func (c *Config) HasServiceAccount() bool {
	return c.Firebase.ClientEmail != "" && c.Firebase.PrivateKey != ""
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var missing []string
	switch c.Storage.Backend {
	case BackendAzure:
		if c.Storage.ConnectionString == "" {
			missing = append(missing, "STORAGE_CONNECTION_STRING")
		}
		if c.Storage.DocumentsTable == "" {
			missing = append(missing, "DOCUMENTS_TABLE")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Firebase.ProjectID == "" && !c.LocalAuth() {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}
	if !c.LocalAuth() {
		if c.Firebase.ClientEmail == "" {
			missing = append(missing, "FIREBASE_CLIENT_EMAIL")
		}
		if c.Firebase.PrivateKey == "" {
			missing = append(missing, "FIREBASE_PRIVATE_KEY")
		}
	} else if c.Firebase.LocalAuthSecret == "" {
		missing = append(missing, "LOCAL_AUTH_SHARED_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config: %s", strings.Join(missing, ", "))
	}
	return nil
}

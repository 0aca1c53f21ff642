package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"keyward/internal/account"
	"keyward/internal/domain"
)

// Environment variables read by Load and the CLI.
const (
	EnvConfig      = "KEYWARD_CONFIG"
	EnvPassphrase  = "KEYWARD_PASSPHRASE"
	EnvAccessToken = "KEYWARD_ACCESS_TOKEN"
)

// Store and state backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds runtime wiring options.
type Config struct {
	// Homeserver is the client-server API base URL. Commands that talk to
	// the server require it.
	Homeserver string        `yaml:"homeserver"`
	UserID     domain.UserID `yaml:"user_id"`
	// DeviceID is the local device. init generates one when empty.
	DeviceID domain.DeviceID `yaml:"device_id"`
	// AccessTokenFile holds the bearer token. KEYWARD_ACCESS_TOKEN takes
	// precedence.
	AccessTokenFile string `yaml:"access_token_file"`

	Store StoreConfig `yaml:"store"`
	State StateConfig `yaml:"state"`

	MaxOneTimeKeys         int    `yaml:"max_one_time_keys"`
	AllowUnverifiedDevices bool   `yaml:"allow_unverified_devices"`
	LogLevel               string `yaml:"log_level"`
}

// StoreConfig selects the key store.
type StoreConfig struct {
	// Backend is memory, file or sqlite.
	Backend string `yaml:"backend"`
	// Path is the directory (file) or database file (sqlite).
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// StateConfig selects where room encryption and membership state lives.
type StateConfig struct {
	// Backend is memory or redis.
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	// Prefix namespaces redis keys; empty selects "keyward:".
	Prefix string `yaml:"prefix"`
}

// Default returns the configuration used before a file is applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".keyward")
	return &Config{
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    filepath.Join(root, "store"),
		},
		State: StateConfig{
			Backend: BackendMemory,
		},
		MaxOneTimeKeys: account.DefaultMaxOneTimeKeys,
		LogLevel:       "info",
	}
}

// Load reads the file at path, or at KEYWARD_CONFIG when path is empty.
// With neither set it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("app: reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("app: parsing config %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables expands ${VAR} and ${VAR:-default} in paths.
func (c *Config) expandVariables() {
	expand := func(s string) string {
		return varPattern.ReplaceAllStringFunc(s, func(match string) string {
			parts := varPattern.FindStringSubmatch(match)
			if v := os.Getenv(parts[1]); v != "" {
				return v
			}
			return parts[2]
		})
	}
	c.Store.Path = expand(c.Store.Path)
	c.AccessTokenFile = expand(c.AccessTokenFile)
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	} else if !validUserID(c.UserID) {
		errs = append(errs, fmt.Errorf("user_id %q is not of the form @localpart:server", c.UserID))
	}
	if c.Homeserver != "" {
		u, err := url.Parse(c.Homeserver)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("homeserver %q is not an http(s) URL", c.Homeserver))
		}
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the %s backend", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	switch c.State.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.State.RedisAddr == "" {
			errs = append(errs, errors.New("state.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.backend %q", c.State.Backend))
	}
	if c.MaxOneTimeKeys <= 0 {
		errs = append(errs, fmt.Errorf("max_one_time_keys must be positive, got %d", c.MaxOneTimeKeys))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validUserID(u domain.UserID) bool {
	s := string(u)
	if !strings.HasPrefix(s, "@") {
		return false
	}
	local, server, ok := strings.Cut(s[1:], ":")
	return ok && local != "" && server != ""
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return lvl, nil
}

// AccessToken returns the bearer token from KEYWARD_ACCESS_TOKEN or
// AccessTokenFile. An empty token is not an error.
func (c *Config) AccessToken() (string, error) {
	if tok := os.Getenv(EnvAccessToken); tok != "" {
		return tok, nil
	}
	if c.AccessTokenFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.AccessTokenFile)
	if err != nil {
		return "", fmt.Errorf("app: reading access token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Flags holds command-line overrides. Only flags the user set are applied.
type Flags struct {
	fs *pflag.FlagSet

	homeserver   string
	userID       string
	deviceID     string
	tokenFile    string
	storeBackend string
	storePath    string
	stateBackend string
	redisAddr    string
	maxOTK       int
	allowUnverif bool
	logLevel     string
}

// RegisterFlags adds the override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.homeserver, "homeserver", "", "homeserver base URL")
	fs.StringVar(&f.userID, "user", "", "local user id (@name:server)")
	fs.StringVar(&f.deviceID, "device", "", "local device id")
	fs.StringVar(&f.tokenFile, "access-token-file", "", "file holding the access token")
	fs.StringVar(&f.storeBackend, "store", "", "key store backend: memory, file or sqlite")
	fs.StringVar(&f.storePath, "store-path", "", "key store directory or database file")
	fs.StringVar(&f.stateBackend, "state", "", "room state backend: memory or redis")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "redis address for the redis state backend")
	fs.IntVar(&f.maxOTK, "max-one-time-keys", 0, "one-time key pool size for new accounts")
	fs.BoolVar(&f.allowUnverif, "allow-unverified-devices", false, "share room keys with unverified devices")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	return f
}

// Apply copies the flags that were set onto cfg.
func (f *Flags) Apply(cfg *Config) {
	set := func(name string, apply func()) {
		if f.fs.Changed(name) {
			apply()
		}
	}
	set("homeserver", func() { cfg.Homeserver = f.homeserver })
	set("user", func() { cfg.UserID = domain.UserID(f.userID) })
	set("device", func() { cfg.DeviceID = domain.DeviceID(f.deviceID) })
	set("access-token-file", func() { cfg.AccessTokenFile = f.tokenFile })
	set("store", func() { cfg.Store.Backend = f.storeBackend })
	set("store-path", func() { cfg.Store.Path = f.storePath })
	set("state", func() { cfg.State.Backend = f.stateBackend })
	set("redis-addr", func() { cfg.State.RedisAddr = f.redisAddr })
	set("max-one-time-keys", func() { cfg.MaxOneTimeKeys = f.maxOTK })
	set("allow-unverified-devices", func() { cfg.AllowUnverifiedDevices = f.allowUnverif })
	set("log-level", func() { cfg.LogLevel = f.logLevel })
}

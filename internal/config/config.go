package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the environment-based configuration for the gallery-sync
// server daemon.
type Config struct {
	// Directory of generated images to serve. Required.
	Root string `env:"GALLERY_ROOT"`

	// Folder key of the root directory; subdirectories become
	// "<prefix>/<rel>".
	FolderPrefix string `env:"GALLERY_FOLDER_PREFIX" envDefault:"output"`

	ListenAddr string `env:"GALLERY_LISTEN_ADDR" envDefault:":8188"`

	// Optional basic auth. Format: "user1:bcrypt_hash1,user2:bcrypt_hash2".
	AuthUsers string `env:"GALLERY_AUTH_USERS"`

	// Watch the root for changes and push them to clients.
	EnableWatch bool `env:"ENABLE_WATCH" envDefault:"true"`

	// Serve MCP tools at /mcp.
	EnableMCP bool `env:"ENABLE_MCP" envDefault:"false"`

	// Quiet period after the last filesystem event before rescanning.
	Debounce time.Duration `env:"GALLERY_DEBOUNCE" envDefault:"500ms"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// ClientConfig holds the environment-based configuration for the
// gallery client. Command-line flags override it.
type ClientConfig struct {
	ServerURL string `env:"GALLERY_SERVER_URL" envDefault:"http://localhost:8188"`
	Username  string `env:"GALLERY_USERNAME"`
	Password  string `env:"GALLERY_PASSWORD"`

	// Preferences database. Defaults to ~/.gallery-sync/state.db.
	StatePath string `env:"GALLERY_STATE_PATH"`

	// Records rendered per page; 0 renders whole folders.
	PageSize int `env:"GALLERY_PAGE_SIZE" envDefault:"60"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads the server configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// /view confines served paths to Root by prefix comparison, which
	// needs an absolute path.
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving gallery root to absolute path: %w", err)
	}

	cfg.Root = absRoot

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Root == "" {
		return fmt.Errorf("GALLERY_ROOT is required")
	}

	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("GALLERY_ROOT: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("GALLERY_ROOT %s is not a directory", c.Root)
	}

	if c.FolderPrefix == "" || strings.Contains(c.FolderPrefix, "/") {
		return fmt.Errorf("GALLERY_FOLDER_PREFIX must be a single non-empty path segment")
	}

	if c.Debounce < 0 {
		return fmt.Errorf("GALLERY_DEBOUNCE must not be negative")
	}

	if _, err := c.ParseAuthUsers(); err != nil {
		return fmt.Errorf("GALLERY_AUTH_USERS: %w", err)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseAuthUsers parses GALLERY_AUTH_USERS into a username to bcrypt
// hash map. Bcrypt hashes contain no ':' so each entry splits on the
// first one.
func (c *Config) ParseAuthUsers() (map[string]string, error) {
	users := make(map[string]string)
	if c.AuthUsers == "" {
		return users, nil
	}

	for _, pair := range strings.Split(c.AuthUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or hash in entry %d", len(users)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("entry %d is not a bcrypt hash; generate one with hash-password", len(users)+1)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q", username)
		}

		users[username] = hash
	}

	return users, nil
}

// LoadClient reads the client configuration from environment variables,
// loading a .env file first if present. Overrides run before validation
// so command-line flags can replace bad environment values.
func LoadClient(overrides ...func(*ClientConfig)) (*ClientConfig, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for _, fn := range overrides {
		fn(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("GALLERY_SERVER_URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("GALLERY_SERVER_URL must be an http or https URL")
	}

	if u.Host == "" {
		return fmt.Errorf("GALLERY_SERVER_URL has no host")
	}

	if c.PageSize < 0 {
		return fmt.Errorf("GALLERY_PAGE_SIZE must not be negative")
	}

	if c.Username != "" && c.Password == "" {
		return fmt.Errorf("GALLERY_PASSWORD is required when GALLERY_USERNAME is set")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *ClientConfig) IsProduction() bool {
	return c.Environment == "production"
}

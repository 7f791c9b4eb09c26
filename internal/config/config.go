// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-relay/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete relay configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	// Local (Ollama) configuration
	Local LocalConfig `toml:"local" json:"local" yaml:"local"`

	// Server is the listener the UI connects to
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Relay tunes stream handling
	Relay RelayConfig `toml:"relay" json:"relay" yaml:"relay"`

	// Storage holds the operation ledger settings
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging settings
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// LocalConfig contains local Ollama configuration.
type LocalConfig struct {
	// OllamaURL is the URL of the Ollama server
	OllamaURL string `toml:"ollama_url" json:"ollama_url" yaml:"ollama_url"`
	// CatalogURL is the public model catalog
	CatalogURL string `toml:"catalog_url" json:"catalog_url" yaml:"catalog_url"`
	// RequestTimeoutSecs bounds one-shot (non-streaming) calls
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs" yaml:"request_timeout_secs"`
}

// ServerConfig contains the HTTP/websocket listener configuration.
type ServerConfig struct {
	Host string `toml:"host" json:"host" yaml:"host"`
	Port int    `toml:"port" json:"port" yaml:"port"`
	// AuthToken, when set, is required as a bearer token or ?token= query parameter.
	AuthToken string `toml:"auth_token" json:"auth_token" yaml:"auth_token"`
	// AllowedOrigins lists browser origins allowed to open channels.
	// "*" allows any origin; "scheme://*" any origin of a scheme;
	// "scheme://*.domain" any subdomain.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	// RateLimitPerMinute limits requests per client IP (0 = unlimited)
	RateLimitPerMinute int `toml:"rate_limit_per_minute" json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// RelayConfig contains stream handling configuration.
type RelayConfig struct {
	// IdleTimeoutSecs fails a stream that sends nothing for this long (0 = never)
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs" yaml:"idle_timeout_secs"`
	// WarnThreshold is the number of consecutive unparseable records before a warning
	WarnThreshold int `toml:"warn_threshold" json:"warn_threshold" yaml:"warn_threshold"`
}

// StorageConfig contains ledger configuration.
type StorageConfig struct {
	// LedgerPath is the sqlite file (empty = ~/.rigrun-relay/ledger.db)
	LedgerPath string `toml:"ledger_path" json:"ledger_path" yaml:"ledger_path"`
	// Disabled turns the ledger off
	Disabled bool `toml:"disabled" json:"disabled" yaml:"disabled"`
	// RetentionDays prunes records older than this many days (0 = keep forever)
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig contains log output configuration.
type LoggingConfig struct {
	// File mirrors log output to this path (empty = stderr only)
	File string `toml:"file" json:"file" yaml:"file"`
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// IdleTimeout returns the stream idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Relay.IdleTimeoutSecs) * time.Second
}

// RequestTimeout returns the one-shot request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Local.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Local: LocalConfig{
			OllamaURL:          "http://127.0.0.1:11434",
			CatalogURL:         "https://ollama.com",
			RequestTimeoutSecs: 30,
		},

		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8765,
			AllowedOrigins:     []string{"http://localhost", "http://127.0.0.1", "chrome-extension://*", "moz-extension://*"},
			RateLimitPerMinute: 120,
		},

		Relay: RelayConfig{
			IdleTimeoutSecs: 0, // disabled: model loads can stall a stream legitimately
			WarnThreshold:   5,
		},

		Storage: StorageConfig{
			RetentionDays: 30,
		},
	}
}

// Retention returns how long ledger records are kept (0 = forever).
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory. RIGRUN_RELAY_HOME overrides
// the default ~/.rigrun-relay.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGRUN_RELAY_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-relay"), nil
}

// configPath joins name onto ConfigDir.
func configPath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) { return configPath("config.toml") }

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) { return configPath("config.json") }

// ConfigPathYAML returns the path to the YAML config file.
func ConfigPathYAML() (string, error) { return configPath("config.yaml") }

// DefaultLedgerPath returns the default sqlite ledger location.
func DefaultLedgerPath() (string, error) { return configPath("ledger.db") }

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// FindConfigFile returns the first existing config file in precedence
// order (TOML, JSON, YAML), or "" when none exists.
func FindConfigFile() string {
	for _, fn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON, ConfigPathYAML} {
		path, err := fn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect the auth token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadEnvFiles loads .env files into the process environment. Variables
// already set are not overridden. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
		if dir, err := ConfigDir(); err == nil {
			paths = append(paths, filepath.Join(dir, ".env"))
		}
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// Load loads configuration from the first config file found, then applies
// environment overrides, defaults and validation. With no config file the
// defaults are used.
func Load() (*Config, error) {
	if path := FindConfigFile(); path != "" {
		return LoadFromPath(path)
	}
	return finalize(Default())
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format is chosen by extension; anything that is not
// .json, .yaml or .yml is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	// SECURITY: Check and fix file permissions if needed
	if err := ensureSecurePermissions(path); err != nil {
		// Don't fail - permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := Decode(cfg, data, filepath.Ext(path)); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finalize(cfg)
}

// Decode parses data in the format named by ext (".toml", ".json", ".yaml").
func Decode(cfg *Config, data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to decode TOML: %w", err)
		}
	}
	return nil
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Local
	if cfg.Local.OllamaURL == "" {
		cfg.Local.OllamaURL = defaults.Local.OllamaURL
	}
	if cfg.Local.CatalogURL == "" {
		cfg.Local.CatalogURL = defaults.Local.CatalogURL
	}
	if cfg.Local.RequestTimeoutSecs == 0 {
		cfg.Local.RequestTimeoutSecs = defaults.Local.RequestTimeoutSecs
	}

	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = defaults.Server.AllowedOrigins
	}

	// Relay
	if cfg.Relay.WarnThreshold == 0 {
		cfg.Relay.WarnThreshold = defaults.Relay.WarnThreshold
	}

	// Storage
	if cfg.Storage.LedgerPath == "" {
		if path, err := DefaultLedgerPath(); err == nil {
			cfg.Storage.LedgerPath = path
		}
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer

	buf.WriteString("# rigrun-relay configuration file\n")
	buf.WriteString("# Generated by rigrun-relay - edit with care\n")
	buf.WriteString("\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validateHTTPURL(c.Local.OllamaURL); err != nil {
		errs = append(errs, ValidationError{Field: "local.ollama_url", Message: err.Error()})
	}
	if err := validateHTTPURL(c.Local.CatalogURL); err != nil {
		errs = append(errs, ValidationError{Field: "local.catalog_url", Message: err.Error()})
	}
	if c.Local.RequestTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "local.request_timeout_secs", Message: "cannot be negative"})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("invalid port %d, must be 1-65535", c.Server.Port),
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit_per_minute", Message: "cannot be negative"})
	}
	for _, o := range c.Server.AllowedOrigins {
		if !validOriginPattern(o) {
			errs = append(errs, ValidationError{
				Field:   "server.allowed_origins",
				Message: fmt.Sprintf("invalid wildcard %q: use \"*\", \"scheme://*\" or \"scheme://*.domain\"", o),
			})
		}
	}
	// SECURITY: an unauthenticated relay must not be reachable from the network
	if c.Server.AuthToken == "" && !isLoopbackHost(c.Server.Host) {
		errs = append(errs, ValidationError{
			Field:   "server.auth_token",
			Message: fmt.Sprintf("required when binding to non-loopback host %q", c.Server.Host),
		})
	}

	if c.Relay.IdleTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "relay.idle_timeout_secs", Message: "cannot be negative"})
	}
	if c.Relay.WarnThreshold < 0 {
		errs = append(errs, ValidationError{Field: "relay.warn_threshold", Message: "cannot be negative"})
	}
	if c.Storage.RetentionDays < 0 {
		errs = append(errs, ValidationError{Field: "storage.retention_days", Message: "cannot be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validOriginPattern rejects wildcards the origin check would never match.
func validOriginPattern(o string) bool {
	o = strings.TrimRight(strings.TrimSpace(o), "/")
	if o == "*" || !strings.Contains(o, "*") {
		return true
	}
	scheme, host, ok := strings.Cut(o, "://")
	if !ok || scheme == "" {
		return false
	}
	if host == "*" {
		return true
	}
	suffix, ok := strings.CutPrefix(host, "*.")
	return ok && suffix != "" && !strings.ContainsAny(suffix, "*:/")
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - OLLAMA_HOST: Ollama's own host variable, used for local.ollama_url
//   - RIGRUN_RELAY_OLLAMA_URL: overrides local.ollama_url (wins over OLLAMA_HOST)
//   - RIGRUN_RELAY_CATALOG_URL: overrides local.catalog_url
//   - RIGRUN_RELAY_HOST, RIGRUN_RELAY_PORT: override the listen address
//   - RIGRUN_RELAY_AUTH_TOKEN: overrides server.auth_token
//   - RIGRUN_RELAY_ALLOWED_ORIGINS: comma separated server.allowed_origins
//   - RIGRUN_RELAY_IDLE_TIMEOUT: overrides relay.idle_timeout_secs
//   - RIGRUN_RELAY_LEDGER_PATH: overrides storage.ledger_path
//   - RIGRUN_RELAY_LOG_FILE: overrides logging.file
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Local.OllamaURL = NormalizeOllamaHost(host)
	}
	if u := os.Getenv("RIGRUN_RELAY_OLLAMA_URL"); u != "" {
		c.Local.OllamaURL = u
	}
	if u := os.Getenv("RIGRUN_RELAY_CATALOG_URL"); u != "" {
		c.Local.CatalogURL = u
	}

	if host := os.Getenv("RIGRUN_RELAY_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("RIGRUN_RELAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if token := os.Getenv("RIGRUN_RELAY_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
	if origins := os.Getenv("RIGRUN_RELAY_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}

	if idle := os.Getenv("RIGRUN_RELAY_IDLE_TIMEOUT"); idle != "" {
		if secs, err := strconv.Atoi(idle); err == nil {
			c.Relay.IdleTimeoutSecs = secs
		}
	}

	if path := os.Getenv("RIGRUN_RELAY_LEDGER_PATH"); path != "" {
		c.Storage.LedgerPath = path
	}
	if path := os.Getenv("RIGRUN_RELAY_LOG_FILE"); path != "" {
		c.Logging.File = path
	}
}

// NormalizeOllamaHost turns an OLLAMA_HOST value ("0.0.0.0", ":11434",
// "myhost:8080", "https://x") into a base URL.
func NormalizeOllamaHost(host string) string {
	host = strings.TrimSpace(host)
	scheme := "http"
	if i := strings.Index(host, "://"); i >= 0 {
		scheme, host = host[:i], host[i+3:]
	}
	host = strings.TrimRight(host, "/")

	h, port, err := net.SplitHostPort(host)
	if err != nil {
		h, port = host, ""
	}
	if port == "" {
		port = "11434"
		if scheme == "https" {
			port = "443"
		}
	}
	// A bind-all address is not dialable; talk to the local instance.
	if h == "" || h == "0.0.0.0" || h == "::" {
		h = "127.0.0.1"
	}
	return scheme + "://" + net.JoinHostPort(h, port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "server.port").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "server.port").
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field, nil
		}

		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}

	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}

	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.ToLower(strVal) == "true" || strings.ToLower(strVal) == "yes"
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				field.Set(reflect.ValueOf(splitList(strVal)))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	collectKeys(reflect.TypeOf(Config{}), "", &keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("toml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, name, keys)
			continue
		}
		*keys = append(*keys, name)
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String returns a string representation of the config for debugging.
// SECURITY: Redacts the auth token so it never reaches logs.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

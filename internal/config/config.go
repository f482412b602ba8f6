// Package config loads marketadmin settings from YAML, the environment and
// built-in defaults, then validates the result against an embedded CUE schema.
//
// Precedence (highest first): environment variables, config file, defaults.
// A missing config file is not an error; the defaults describe the three
// built-in ordered collections.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/marketadmin/internal/ordering"
)

//go:embed schema.cue
var schemaSource string

// Environment variables consulted by Load.
const (
	EnvConfig   = "MARKETADMIN_CONFIG"
	EnvBaseURL  = "MARKETADMIN_BASE_URL"
	EnvStore    = "MARKETADMIN_STORE"
	EnvLogMode  = "MARKETADMIN_LOG_MODE"
	EnvLogLevel = "MARKETADMIN_LOG_LEVEL"
)

// DefaultFile is the config file looked up when neither a path nor
// MARKETADMIN_CONFIG is given.
const DefaultFile = "marketadmin.yaml"

// Reorder body formats.
const (
	FormatItems = "items" // {"items":[{"id":..,"order":..}]}
	FormatIDs   = "ids"   // {"ids":[..]} in list order
)

// Config is the validated, effective configuration.
type Config struct {
	API    APIConfig        `json:"api" yaml:"api"`
	Store  StoreConfig      `json:"store" yaml:"store"`
	Log    LogConfig        `json:"log" yaml:"log"`
	Scopes map[string]Scope `json:"scopes" yaml:"scopes"`
}

type APIConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	LoginPath string `json:"login_path" yaml:"login_path"`
	// Timeout is a Go duration string. Empty leaves the transport default.
	Timeout string `json:"timeout" yaml:"timeout"`
}

type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

type LogConfig struct {
	Mode  string `json:"mode" yaml:"mode"`
	Level string `json:"level" yaml:"level"`
}

// Scope describes one ordered collection on the backend.
type Scope struct {
	Name      string              `json:"-" yaml:"-"`
	Path      string              `json:"path" yaml:"path"`
	Sort      ordering.SortPolicy `json:"sort" yaml:"sort"`
	ActiveCap int                 `json:"active_cap" yaml:"active_cap"`
	Base      int                 `json:"base" yaml:"base"`
	Reorder   ReorderEndpoint     `json:"reorder" yaml:"reorder"`
}

// ReorderEndpoint is the batch reorder call for a scope.
type ReorderEndpoint struct {
	Path   string `json:"path" yaml:"path"`
	Method string `json:"method" yaml:"method"`
	Format string `json:"format" yaml:"format"`
}

// ItemPath returns the URL path of a single member.
func (s Scope) ItemPath(id string) string {
	return strings.TrimRight(s.Path, "/") + "/" + id
}

// Timeout parses API.Timeout. Zero means no client-side timeout.
func (c *Config) Timeout() time.Duration {
	if c.API.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// Scope looks up a scope by name.
func (c *Config) Scope(name string) (Scope, bool) {
	s, ok := c.Scopes[name]
	if !ok {
		return Scope{}, false
	}
	s.Name = name
	return s, true
}

// ScopeNames returns the configured scope names, sorted.
func (c *Config) ScopeNames() []string {
	names := make([]string, 0, len(c.Scopes))
	for name := range c.Scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8080",
			LoginPath: "/auth/login",
		},
		Store: StoreConfig{Path: defaultStorePath()},
		Log:   LogConfig{Mode: "dev", Level: "info"},
		Scopes: map[string]Scope{
			"categories": {
				Path: "/categories",
				Sort: ordering.SortOrderName,
				Reorder: ReorderEndpoint{
					Path: "/categories/reorder", Method: "PUT", Format: FormatItems,
				},
			},
			"banners": {
				Path:      "/banners/popular",
				Sort:      ordering.SortServer,
				ActiveCap: 4,
				Reorder: ReorderEndpoint{
					Path: "/banners/popular/reorder", Method: "PUT", Format: FormatItems,
				},
			},
			"featured": {
				Path: "/products/featured",
				Sort: ordering.SortServer,
				Reorder: ReorderEndpoint{
					Path: "/products/featured/reorder", Method: "PUT", Format: FormatItems,
				},
			},
		},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "marketadmin.db"
	}
	return filepath.Join(home, ".marketadmin", "state.db")
}

// fileConfig mirrors Config with optional fields so a file can override
// single scope settings without restating the built-ins.
type fileConfig struct {
	API    *APIConfig           `yaml:"api"`
	Store  *StoreConfig         `yaml:"store"`
	Log    *LogConfig           `yaml:"log"`
	Scopes map[string]fileScope `yaml:"scopes"`
}

type fileScope struct {
	Path      *string      `yaml:"path"`
	Sort      *string      `yaml:"sort"`
	ActiveCap *int         `yaml:"active_cap"`
	Base      *int         `yaml:"base"`
	Reorder   *fileReorder `yaml:"reorder"`
}

type fileReorder struct {
	Path   *string `yaml:"path"`
	Method *string `yaml:"method"`
	Format *string `yaml:"format"`
}

// Load resolves the config file path, reads it if present, applies
// environment overrides and validates the result.
//
// An explicitly requested path that does not exist is an error; the default
// path is optional.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFile
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := apply(cfg, data); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a config from YAML bytes over the defaults, without
// environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := apply(cfg, data); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func apply(cfg *Config, data []byte) error {
	var fc fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if fc.API != nil {
		overlayString(&cfg.API.BaseURL, fc.API.BaseURL)
		overlayString(&cfg.API.LoginPath, fc.API.LoginPath)
		overlayString(&cfg.API.Timeout, fc.API.Timeout)
	}
	if fc.Store != nil {
		overlayString(&cfg.Store.Path, fc.Store.Path)
	}
	if fc.Log != nil {
		overlayString(&cfg.Log.Mode, fc.Log.Mode)
		overlayString(&cfg.Log.Level, fc.Log.Level)
	}

	for name, fs := range fc.Scopes {
		s, ok := cfg.Scopes[name]
		if !ok {
			s = newScope(name)
		}
		if fs.Path != nil {
			s.Path = *fs.Path
		}
		if fs.Sort != nil {
			s.Sort = ordering.SortPolicy(*fs.Sort)
		}
		if fs.ActiveCap != nil {
			s.ActiveCap = *fs.ActiveCap
		}
		if fs.Base != nil {
			s.Base = *fs.Base
		}
		if fs.Reorder != nil {
			if fs.Reorder.Path != nil {
				s.Reorder.Path = *fs.Reorder.Path
			}
			if fs.Reorder.Method != nil {
				s.Reorder.Method = strings.ToUpper(*fs.Reorder.Method)
			}
			if fs.Reorder.Format != nil {
				s.Reorder.Format = *fs.Reorder.Format
			}
		}
		if !ok && (fs.Reorder == nil || fs.Reorder.Path == nil) {
			s.Reorder.Path = strings.TrimRight(s.Path, "/") + "/reorder"
		}
		cfg.Scopes[name] = s
	}
	return nil
}

// newScope returns the settings a scope declared only in the file starts from.
func newScope(name string) Scope {
	return Scope{
		Path:    "/" + name,
		Sort:    ordering.SortServer,
		Reorder: ReorderEndpoint{Method: "PUT", Format: FormatItems},
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyEnv(cfg *Config) {
	overlayString(&cfg.API.BaseURL, strings.TrimSpace(os.Getenv(EnvBaseURL)))
	overlayString(&cfg.Store.Path, strings.TrimSpace(os.Getenv(EnvStore)))
	overlayString(&cfg.Log.Mode, strings.TrimSpace(os.Getenv(EnvLogMode)))
	overlayString(&cfg.Log.Level, strings.TrimSpace(os.Getenv(EnvLogLevel)))
}

// Error reports a config that fails schema validation.
type Error struct {
	Details string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid config: %s", e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &Error{Details: strings.TrimSpace(cueerrors.Details(err, nil)), Err: err}
	}

	if cfg.API.Timeout != "" {
		if _, err := time.ParseDuration(cfg.API.Timeout); err != nil {
			return &Error{Details: fmt.Sprintf("api.timeout: %v", err), Err: err}
		}
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marketadmin/internal/ordering"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketadmin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvConfig, EnvBaseURL, EnvStore, EnvLogMode, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, []string{"banners", "categories", "featured"}, cfg.ScopeNames())

	banners, ok := cfg.Scope("banners")
	require.True(t, ok)
	assert.Equal(t, "banners", banners.Name)
	assert.Equal(t, 4, banners.ActiveCap)
	assert.Equal(t, ordering.SortServer, banners.Sort)
	assert.Equal(t, "/banners/popular/b1", banners.ItemPath("b1"))

	categories, ok := cfg.Scope("categories")
	require.True(t, ok)
	assert.Equal(t, ordering.SortOrderName, categories.Sort)
	assert.Zero(t, categories.ActiveCap)

	_, ok = cfg.Scope("nope")
	assert.False(t, ok)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api:
  base_url: https://admin.example.com
  timeout: 15s
log:
  mode: prod
scopes:
  banners:
    active_cap: 6
  brands:
    path: /brands
    sort: order_name
    base: 1
    reorder:
      method: patch
      format: ids
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://admin.example.com", cfg.API.BaseURL)
	assert.Equal(t, "/auth/login", cfg.API.LoginPath)
	assert.Equal(t, 15*time.Second, cfg.Timeout())
	assert.Equal(t, "prod", cfg.Log.Mode)
	assert.Equal(t, "info", cfg.Log.Level)

	banners, _ := cfg.Scope("banners")
	assert.Equal(t, 6, banners.ActiveCap)
	assert.Equal(t, "/banners/popular", banners.Path)
	assert.Equal(t, "/banners/popular/reorder", banners.Reorder.Path)

	brands, ok := cfg.Scope("brands")
	require.True(t, ok)
	assert.Equal(t, "/brands", brands.Path)
	assert.Equal(t, ordering.SortOrderName, brands.Sort)
	assert.Equal(t, 1, brands.Base)
	assert.Equal(t, ReorderEndpoint{Path: "/brands/reorder", Method: "PATCH", Format: FormatIDs}, brands.Reorder)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "api:\n  base_url: https://file.example.com\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvBaseURL, "https://env.example.com")
	t.Setenv(EnvStore, "/tmp/x.db")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Len(t, cfg.Scopes, 3)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("api:\n  base_uri: http://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad base url", "api:\n  base_url: localhost:8080\n", "base_url"},
		{"bad sort", "scopes:\n  categories:\n    sort: alphabetical\n", "sort"},
		{"negative cap", "scopes:\n  banners:\n    active_cap: -1\n", "active_cap"},
		{"bad method", "scopes:\n  banners:\n    reorder:\n      method: DELETE\n", "method"},
		{"bad format", "scopes:\n  banners:\n    reorder:\n      format: csv\n", "format"},
		{"relative path", "scopes:\n  banners:\n    path: banners\n", "path"},
		{"bad log mode", "log:\n  mode: loud\n", "mode"},
		{"bad timeout", "api:\n  timeout: soon\n", "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var cfgErr *Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Error(), tt.want)
		})
	}
}

func TestTimeout_Empty(t *testing.T) {
	cfg := Defaults()
	assert.Zero(t, cfg.Timeout())
}

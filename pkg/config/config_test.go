package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/kotadb/kotadb/pkg/config"
	"github.com/kotadb/kotadb/pkg/kotadb"
)

func intp(n int) *int    { return &n }
func boolp(b bool) *bool { return &b }

// TestLoad_MergesGlobalProjectAndExplicitByField checks the whole merged
// result at once: each source sets a different subset of fields, and the
// merge must combine them rather than one source clobbering the others'
// untouched fields.
func TestLoad_MergesGlobalProjectAndExplicitByField(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".config", "kotadb"), 0o755))
	writeFile(t, filepath.Join(home, ".config", "kotadb", "config.json"), `{"enable_legacy": true}`)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"cache_capacity": 512}`)

	explicit := filepath.Join(dir, "explicit.json")
	writeFile(t, explicit, `{"max_query_depth": 7}`)

	fc, err := config.Load(config.LoadInput{
		WorkDir:    dir,
		ConfigPath: explicit,
		Env:        map[string]string{"HOME": home},
	})
	require.NoError(t, err)

	want := config.FileConfig{
		EnableLegacy:  boolp(true),
		CacheCapacity: intp(512),
		MaxQueryDepth: intp(7),
	}
	if diff := cmp.Diff(want, fc); diff != "" {
		t.Fatalf("merged config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_NoFilesPresentReturnsZeroValue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fc, err := config.Load(config.LoadInput{WorkDir: dir})
	require.NoError(t, err)
	require.Nil(t, fc.EnableLegacy)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"enable_legacy": true, "max_query_depth": 4}`)

	fc, err := config.Load(config.LoadInput{WorkDir: dir})
	require.NoError(t, err)
	require.NotNil(t, fc.EnableLegacy)
	require.True(t, *fc.EnableLegacy)
	require.Equal(t, 4, *fc.MaxQueryDepth)
}

func TestLoad_ToleratesJSONCComments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{
		// cache sized for a laptop-scale repo
		"cache_capacity": 2048,
	}`)

	fc, err := config.Load(config.LoadInput{WorkDir: dir})
	require.NoError(t, err)
	require.Equal(t, 2048, *fc.CacheCapacity)
}

func TestLoad_ExplicitPathWinsOverProject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.ConfigFileName), `{"max_query_depth": 4}`)
	writeFile(t, filepath.Join(dir, "custom.json"), `{"max_query_depth": 9}`)

	fc, err := config.Load(config.LoadInput{WorkDir: dir, ConfigPath: filepath.Join(dir, "custom.json")})
	require.NoError(t, err)
	require.Equal(t, 9, *fc.MaxQueryDepth)
}

func TestLoad_MissingExplicitPathIsAnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := config.Load(config.LoadInput{WorkDir: dir, ConfigPath: filepath.Join(dir, "missing.json")})
	require.Error(t, err)
}

func TestFileConfig_ApplyOnlyOverridesSetFields(t *testing.T) {
	t.Parallel()

	base := kotadb.DefaultConfig()
	base.Engine.MaxDepth = 10

	depth := 3
	fc := config.FileConfig{MaxQueryDepth: &depth}
	merged := fc.Apply(base)

	require.Equal(t, 3, merged.Engine.MaxDepth)
	require.Equal(t, base.Wrappers.Cache.Capacity, merged.Wrappers.Cache.Capacity)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// Package config loads an optional JSONC override file for kotadb.Config,
// the same precedence and format the original CLI used for its own
// settings: a global user config, then a project config in the working
// directory, then an explicit path, each higher source winning only for
// the fields it sets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/kotadb/kotadb/pkg/kotadb"
)

// ConfigFileName is the default project config file name, checked in the
// working directory when no explicit path is given.
const ConfigFileName = ".kotadb.json"

// FileConfig is the on-disk subset of kotadb.Config an operator can
// override without touching code. Pointer fields distinguish "absent from
// this file" from "explicitly zero", so a lower-precedence source isn't
// clobbered by a higher source's zero value.
type FileConfig struct {
	EnableLegacy      *bool  `json:"enable_legacy,omitempty"`
	MaxQueryDepth     *int   `json:"max_query_depth,omitempty"`
	CacheCapacity     *int   `json:"cache_capacity,omitempty"`
	BufferedMaxQueued *int   `json:"buffered_max_queued,omitempty"`
	BufferedFlushMS   *int   `json:"buffered_flush_ms,omitempty"`
	LegacyMaxSymbols  *int   `json:"legacy_max_symbols,omitempty"`
}

// LoadInput holds the inputs driving config resolution.
type LoadInput struct {
	// WorkDir is where the project config file (ConfigFileName) is looked
	// up; os.Getwd() is used if empty.
	WorkDir string
	// ConfigPath is an explicit config file path (--config flag); it must
	// exist if set.
	ConfigPath string
	// Env supplies XDG_CONFIG_HOME/HOME for locating the global config.
	Env map[string]string
}

// globalConfigPath mirrors the original CLI's XDG-aware lookup:
// $XDG_CONFIG_HOME/kotadb/config.json, falling back to
// ~/.config/kotadb/config.json.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "kotadb", "config.json")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "kotadb", "config.json")
	}
	return ""
}

// Load resolves a FileConfig with precedence (highest wins): global user
// config, then project config (ConfigFileName in input.WorkDir), then an
// explicit input.ConfigPath.
func Load(input LoadInput) (FileConfig, error) {
	workDir := input.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return FileConfig{}, fmt.Errorf("config.Load: cannot get working directory: %w", err)
		}
		workDir = wd
	}

	var merged FileConfig

	if path := globalConfigPath(input.Env); path != "" {
		fc, _, err := readFile(path, false)
		if err != nil {
			return FileConfig{}, err
		}
		merged = merge(merged, fc)
	}

	projectFC, _, err := readFile(filepath.Join(workDir, ConfigFileName), false)
	if err != nil {
		return FileConfig{}, err
	}
	merged = merge(merged, projectFC)

	if input.ConfigPath != "" {
		explicitFC, loaded, err := readFile(input.ConfigPath, true)
		if err != nil {
			return FileConfig{}, err
		}
		if !loaded {
			return FileConfig{}, fmt.Errorf("config.Load: config file not found: %s", input.ConfigPath)
		}
		merged = merge(merged, explicitFC)
	}

	return merged, nil
}

// readFile reads and JSONC-decodes path. A missing file is not an error
// unless mustExist is set.
func readFile(path string, mustExist bool) (FileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, fmt.Errorf("config.Load: reading %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return FileConfig{}, false, fmt.Errorf("config.Load: invalid JSONC in %s: %w", path, err)
	}

	var fc FileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return FileConfig{}, false, fmt.Errorf("config.Load: invalid JSON in %s: %w", path, err)
	}

	return fc, true, nil
}

func merge(base, overlay FileConfig) FileConfig {
	if overlay.EnableLegacy != nil {
		base.EnableLegacy = overlay.EnableLegacy
	}
	if overlay.MaxQueryDepth != nil {
		base.MaxQueryDepth = overlay.MaxQueryDepth
	}
	if overlay.CacheCapacity != nil {
		base.CacheCapacity = overlay.CacheCapacity
	}
	if overlay.BufferedMaxQueued != nil {
		base.BufferedMaxQueued = overlay.BufferedMaxQueued
	}
	if overlay.BufferedFlushMS != nil {
		base.BufferedFlushMS = overlay.BufferedFlushMS
	}
	if overlay.LegacyMaxSymbols != nil {
		base.LegacyMaxSymbols = overlay.LegacyMaxSymbols
	}
	return base
}

// Apply overlays fc's set fields onto base, returning the merged
// kotadb.Config for kotadb.Open.
func (fc FileConfig) Apply(base kotadb.Config) kotadb.Config {
	if fc.EnableLegacy != nil {
		base.EnableLegacy = *fc.EnableLegacy
	}
	if fc.MaxQueryDepth != nil {
		base.Engine.MaxDepth = *fc.MaxQueryDepth
	}
	if fc.CacheCapacity != nil {
		base.Wrappers.Cache.Capacity = *fc.CacheCapacity
	}
	if fc.BufferedMaxQueued != nil {
		base.Wrappers.Buffered.MaxQueued = *fc.BufferedMaxQueued
	}
	if fc.BufferedFlushMS != nil {
		base.Wrappers.Buffered.FlushInterval = time.Duration(*fc.BufferedFlushMS) * time.Millisecond
	}
	if fc.LegacyMaxSymbols != nil {
		base.Legacy.MaxSymbols = *fc.LegacyMaxSymbols
	}
	return base
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"xvm/internal/image"
)

const (
	manifestName      = "xvm.toml"
	noManifestMessage = "no xvm.toml found\nplease specify the program explicitly, e.g.:\n  xvm run path/to/main.xasm"
	sourceExt         = ".xasm"
)

type projectManifest struct {
	Path   string
	Root   string
	Config projectConfig
}

type projectConfig struct {
	Package packageConfig `toml:"package"`
	Run     runConfig     `toml:"run"`
	Runtime runtimeConfig `toml:"runtime"`
	Trace   traceConfig   `toml:"trace"`
	Cache   cacheConfig   `toml:"cache"`
}

type packageConfig struct {
	Name string `toml:"name"`
}

type runConfig struct {
	Main  string `toml:"main"`
	Entry string `toml:"entry"`
}

type runtimeConfig struct {
	Deterministic bool   `toml:"deterministic"`
	FuzzSeed      uint64 `toml:"fuzz-seed"`
	MaxDepth      int    `toml:"max-depth"`
}

type traceConfig struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
	Mode   string `toml:"mode"`
}

type cacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// findManifest walks from startDir up to the filesystem root looking for
// xvm.toml.
func findManifest(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, manifestName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func loadProjectManifest(startDir string) (*projectManifest, bool, error) {
	manifestPath, ok, err := findManifest(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := loadProjectConfig(manifestPath)
	if err != nil {
		return nil, true, err
	}
	return &projectManifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}

func loadProjectConfig(path string) (projectConfig, error) {
	// the cache is on unless a manifest turns it off
	cfg := projectConfig{Cache: cacheConfig{Enabled: true}}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return projectConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("package") {
		return projectConfig{}, fmt.Errorf("%s: missing [package]", path)
	}
	if !meta.IsDefined("package", "name") || strings.TrimSpace(cfg.Package.Name) == "" {
		return projectConfig{}, fmt.Errorf("%s: missing [package].name", path)
	}
	if !meta.IsDefined("run") {
		return projectConfig{}, fmt.Errorf("%s: missing [run]", path)
	}
	if !meta.IsDefined("run", "main") || strings.TrimSpace(cfg.Run.Main) == "" {
		return projectConfig{}, fmt.Errorf("%s: missing [run].main", path)
	}
	if cfg.Runtime.MaxDepth < 0 {
		return projectConfig{}, fmt.Errorf("%s: [runtime].max-depth must not be negative", path)
	}
	if cfg.Runtime.Deterministic && cfg.Runtime.FuzzSeed != 0 {
		return projectConfig{}, fmt.Errorf("%s: [runtime].fuzz-seed conflicts with deterministic = true", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return projectConfig{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// resolveMainPath returns the program [run].main names, relative to the
// manifest.
func resolveMainPath(manifest *projectManifest) (string, error) {
	if manifest == nil {
		return "", fmt.Errorf("missing project manifest")
	}
	mainRel := strings.TrimSpace(manifest.Config.Run.Main)
	mainPath := filepath.Join(manifest.Root, filepath.FromSlash(mainRel))
	info, err := os.Stat(mainPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: [run].main path does not exist: %s", manifest.Path, mainPath)
		}
		return "", fmt.Errorf("%s: failed to stat [run].main: %w", manifest.Path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: [run].main must be a file, got directory %s", manifest.Path, mainPath)
	}
	switch filepath.Ext(mainPath) {
	case sourceExt, image.Ext:
		return mainPath, nil
	}
	return "", fmt.Errorf("%s: [run].main must be a %s or %s file", manifest.Path, sourceExt, image.Ext)
}

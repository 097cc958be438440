package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestFindManifestWalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, manifestName), "[package]\nname = \"x\"\n[run]\nmain = \"m.xasm\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	path, ok, err := findManifest(nested)
	if err != nil || !ok {
		t.Fatalf("want manifest found, got ok=%v err=%v", ok, err)
	}
	if path != filepath.Join(root, manifestName) {
		t.Fatalf("want %s, got %s", filepath.Join(root, manifestName), path)
	}
}

func TestLoadProjectConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
		check   func(t *testing.T, cfg projectConfig)
	}{
		{
			name: "full",
			content: `[package]
name = "hello"
[run]
main = "src/main.xasm"
entry = "start"
[runtime]
fuzz-seed = 7
max-depth = 64
[trace]
level = "service"
output = "trace.ndjson"
mode = "stream"
[cache]
enabled = false
`,
			check: func(t *testing.T, cfg projectConfig) {
				if cfg.Run.Entry != "start" || cfg.Runtime.FuzzSeed != 7 || cfg.Runtime.MaxDepth != 64 {
					t.Fatalf("unexpected run/runtime: %+v %+v", cfg.Run, cfg.Runtime)
				}
				if cfg.Trace.Level != "service" || cfg.Trace.Mode != "stream" {
					t.Fatalf("unexpected trace: %+v", cfg.Trace)
				}
				if cfg.Cache.Enabled {
					t.Fatalf("want cache disabled")
				}
			},
		},
		{
			name:    "cache defaults on",
			content: "[package]\nname = \"x\"\n[run]\nmain = \"m.xasm\"\n",
			check: func(t *testing.T, cfg projectConfig) {
				if !cfg.Cache.Enabled {
					t.Fatalf("want cache enabled by default")
				}
			},
		},
		{name: "missing package", content: "[run]\nmain = \"m.xasm\"\n", wantErr: "missing [package]"},
		{name: "empty name", content: "[package]\nname = \" \"\n[run]\nmain = \"m.xasm\"\n", wantErr: "missing [package].name"},
		{name: "missing run", content: "[package]\nname = \"x\"\n", wantErr: "missing [run]"},
		{name: "missing main", content: "[package]\nname = \"x\"\n[run]\nentry = \"go\"\n", wantErr: "missing [run].main"},
		{
			name:    "negative depth",
			content: "[package]\nname = \"x\"\n[run]\nmain = \"m.xasm\"\n[runtime]\nmax-depth = -1\n",
			wantErr: "max-depth",
		},
		{
			name:    "seed with deterministic",
			content: "[package]\nname = \"x\"\n[run]\nmain = \"m.xasm\"\n[runtime]\ndeterministic = true\nfuzz-seed = 3\n",
			wantErr: "conflicts",
		},
		{
			name:    "unknown key",
			content: "[package]\nname = \"x\"\nversion = 2\n[run]\nmain = \"m.xasm\"\n",
			wantErr: "package.version",
		},
		{name: "bad toml", content: "[package\n", wantErr: "failed to parse TOML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), manifestName)
			writeFile(t, path, tt.content)
			cfg, err := loadProjectConfig(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("want error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestResolveMainPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "main.xasm"), "module m\n")
	writeFile(t, filepath.Join(root, "notes.txt"), "")

	tests := []struct {
		main    string
		wantErr string
	}{
		{main: "src/main.xasm"},
		{main: "src/missing.xasm", wantErr: "does not exist"},
		{main: "src", wantErr: "must be a file"},
		{main: "notes.txt", wantErr: "must be a .xasm or .xvmi file"},
	}
	for _, tt := range tests {
		t.Run(tt.main, func(t *testing.T) {
			m := &projectManifest{
				Path:   filepath.Join(root, manifestName),
				Root:   root,
				Config: projectConfig{Run: runConfig{Main: tt.main}},
			}
			got, err := resolveMainPath(m)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("want error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != filepath.Join(root, "src", "main.xasm") {
				t.Fatalf("want src/main.xasm under root, got %s", got)
			}
		})
	}
}

func TestApplyManifestRespectsFlags(t *testing.T) {
	cfg := projectConfig{
		Run:     runConfig{Entry: "start"},
		Runtime: runtimeConfig{FuzzSeed: 9, MaxDepth: 32},
	}
	opts := runOptions{entry: "other", maxDepth: 0}
	changed := func(name string) bool { return name == "entry" }
	applyManifest(changed, cfg, &opts)
	if opts.entry != "other" {
		t.Fatalf("want flag entry kept, got %s", opts.entry)
	}
	if opts.fuzzSeed != 9 || opts.maxDepth != 32 {
		t.Fatalf("want manifest seed 9 and depth 32, got %d and %d", opts.fuzzSeed, opts.maxDepth)
	}

	opts = runOptions{}
	cfg.Runtime.Deterministic = true
	applyManifest(func(string) bool { return false }, cfg, &opts)
	if opts.fuzzSeed != 0 {
		t.Fatalf("want deterministic run to keep FIFO order, got seed %d", opts.fuzzSeed)
	}
}

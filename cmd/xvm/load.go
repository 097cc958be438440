package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"xvm/internal/asm"
	"xvm/internal/diag"
	"xvm/internal/diagfmt"
	"xvm/internal/image"
	"xvm/internal/native"
	"xvm/internal/source"
	"xvm/internal/vm"
)

var errAssembly = errors.New("assembly failed")

// openCache resolves the image cache. It returns nil when caching is off.
func openCache(disabled bool, manifest *projectManifest) (*image.Cache, error) {
	dir := ""
	if manifest != nil {
		disabled = disabled || !manifest.Config.Cache.Enabled
		dir = manifest.Config.Cache.Dir
		if dir != "" && !filepath.IsAbs(dir) {
			dir = filepath.Join(manifest.Root, dir)
		}
	}
	if disabled {
		return nil, nil
	}
	return image.OpenCache(dir)
}

// loadModule loads path and prints its diagnostics to stderr.
func loadModule(cmd *cobra.Command, fs *source.FileSet, path string, cache *image.Cache) (image.Result, error) {
	res := image.Load(fs, path, cache)
	if err := printDiagnostics(cmd, fs, res.Bag); err != nil {
		return res, err
	}
	if res.Err != nil {
		return res, fmt.Errorf("%s: %w", path, res.Err)
	}
	if res.Module == nil {
		return res, fmt.Errorf("%s: %w", path, errAssembly)
	}
	return res, nil
}

func printDiagnostics(cmd *cobra.Command, fs *source.FileSet, bag *diag.Bag) error {
	if bag == nil || bag.Len() == 0 {
		return nil
	}
	flags := cmd.Root().PersistentFlags()
	limit, err := flags.GetInt("max-diagnostics")
	if err != nil {
		return fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	format, err := flags.GetString("diag-format")
	if err != nil {
		return fmt.Errorf("failed to get diag-format flag: %w", err)
	}
	bag.Sort()
	bag.Dedup()

	switch format {
	case "json":
		pathValue, err := flags.GetString("path-mode")
		if err != nil {
			return fmt.Errorf("failed to get path-mode flag: %w", err)
		}
		mode, ok := diagfmt.ParsePathMode(pathValue)
		if !ok {
			return fmt.Errorf("invalid --path-mode value %q", pathValue)
		}
		return diagfmt.JSON(cmd.ErrOrStderr(), bag, fs, diagfmt.JSONOpts{
			IncludePositions: true,
			PathMode:         mode,
			Max:              limit,
			IncludeNotes:     true,
		})
	case "", "pretty":
	default:
		return fmt.Errorf("invalid --diag-format value %q (expected pretty|json)", format)
	}

	colored, err := colorEnabled(cmd)
	if err != nil {
		return err
	}
	shown := bag
	if limit > 0 && bag.Len() > limit {
		shown = diag.NewBag(limit)
		for _, d := range bag.Items() {
			if !shown.Add(d) {
				break
			}
		}
	}
	diag.Render(cmd.ErrOrStderr(), shown, fs, diag.RenderOpts{Color: colored, Context: true})
	return nil
}

// linkModule installs the native types, loads mod and links the result.
func linkModule(mod *asm.Module) (*vm.Registry, error) {
	reg := native.NewRegistry()
	if err := reg.Load(mod); err != nil {
		return nil, err
	}
	if err := reg.Link(); err != nil {
		return nil, err
	}
	return reg, nil
}

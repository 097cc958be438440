package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cached program images",
	Long:  "Remove every image in the cache used by run. The [cache] section of the nearest xvm.toml picks the directory.",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func runClean(cmd *cobra.Command, _ []string) error {
	manifest, _, err := loadProjectManifest(".")
	if err != nil {
		return err
	}
	if manifest != nil && !manifest.Config.Cache.Enabled {
		// clean still honours the configured directory
		manifest.Config.Cache.Enabled = true
	}
	cache, err := openCache(false, manifest)
	if err != nil {
		return fmt.Errorf("image cache: %w", err)
	}
	if err := cache.Drop(); err != nil {
		return fmt.Errorf("failed to clean %q: %w", cache.Dir(), err)
	}
	if !quiet(cmd) {
		fmt.Fprintf(cmd.OutOrStdout(), "removed images in %s\n", cache.Dir())
	}
	return nil
}

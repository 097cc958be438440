package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"xvm/internal/asm"
	"xvm/internal/image"
	"xvm/internal/observ"
	"xvm/internal/source"
)

var asmCmd = &cobra.Command{
	Use:   "asm [flags] <file.xasm>...",
	Short: "Assemble and link-check programs",
	Long: `Assemble each file, link it against the native types and report
diagnostics. With -o a single file is written as a binary image.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAssemble,
}

func init() {
	asmCmd.Flags().StringP("output", "o", "", "write the image to this path")
	asmCmd.Flags().IntP("jobs", "j", 0, "files assembled in parallel (0 uses GOMAXPROCS)")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	if output != "" && len(args) != 1 {
		return fmt.Errorf("-o needs exactly one input file, got %d", len(args))
	}
	for _, path := range args {
		if filepath.Ext(path) != sourceExt {
			return fmt.Errorf("%s: not a %s file", path, sourceExt)
		}
	}

	timer := observ.NewTimer()
	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if timings {
		defer func() { fmt.Fprint(cmd.ErrOrStderr(), timer.Summary()) }()
	}

	fs := source.NewFileSet()
	var results []image.Result
	if err := timer.Measure("assemble", func() error {
		var aerr error
		results, aerr = image.AssembleAll(cmd.Context(), fs, args, jobs, nil)
		return aerr
	}); err != nil {
		return err
	}

	var failed []string
	for _, res := range results {
		if err := printDiagnostics(cmd, fs, res.Bag); err != nil {
			return err
		}
		switch {
		case res.Err != nil:
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Path, res.Err)
			failed = append(failed, res.Path)
			continue
		case res.Module == nil:
			failed = append(failed, res.Path)
			continue
		}
		if err := timer.Measure("link "+filepath.Base(res.Path), func() error {
			_, lerr := linkModule(res.Module)
			return lerr
		}); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Path, err)
			failed = append(failed, res.Path)
			continue
		}
		if !quiet(cmd) && output == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", res.Path, describeModule(res.Module))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", errAssembly, strings.Join(failed, ", "))
	}
	if output == "" {
		return nil
	}
	return timer.Measure("write", func() error {
		return writeImage(output, results[0].Module)
	})
}

func describeModule(mod *asm.Module) string {
	return fmt.Sprintf("%d classes, %d functions, %d constants",
		len(mod.Classes), len(mod.Functions), mod.Pool.Len())
}

func writeImage(path string, mod *asm.Module) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return image.Encode(f, mod)
}

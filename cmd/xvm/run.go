package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"xvm/internal/image"
	"xvm/internal/observ"
	"xvm/internal/source"
	"xvm/internal/trace"
	"xvm/internal/ui"
	"xvm/internal/vm"
)

const defaultEntry = "main"

var runCmd = &cobra.Command{
	Use:   "run [flags] [file.xasm|file.xvmi] [args...]",
	Short: "Assemble, link and run a program",
	Long: `Load a program, link it against the native types and start its entry
function in a fresh root service. Without a file the program named by
[run].main in the nearest xvm.toml is used.`,
	Args: cobra.ArbitraryArgs,
	RunE: runExecution,
}

func init() {
	runCmd.Flags().Bool("vm-trace", false, "print every executed op to stderr")
	runCmd.Flags().String("ui", "off", "service dashboard (auto|on|off)")
	runCmd.Flags().String("entry", "", "entry function (default main)")
	runCmd.Flags().Uint64("fuzz-seed", 0, "shuffle ready fibers with this seed (0 keeps FIFO order)")
	runCmd.Flags().Int("max-depth", 0, "frame limit per fiber (default 1024)")
	runCmd.Flags().Bool("no-cache", false, "do not read or write the image cache")
}

// runOptions is the resolved configuration of one run.
type runOptions struct {
	path     string
	args     []string
	entry    string
	fuzzSeed uint64
	maxDepth int
	noCache  bool
	vmTrace  bool
	ui       uiMode
}

func runExecution(cmd *cobra.Command, args []string) error {
	manifest, opts, err := resolveRunOptions(cmd, args)
	if err != nil {
		return err
	}

	stopProf, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProf()
	tracing, err := setupTracing(cmd, manifest)
	if err != nil {
		return err
	}
	defer tracing.close()

	timer := observ.NewTimer()
	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if timings {
		defer func() { fmt.Fprint(cmd.ErrOrStderr(), timer.Summary()) }()
	}

	cache, err := openCache(opts.noCache, manifest)
	if err != nil {
		return fmt.Errorf("image cache: %w", err)
	}
	fs := source.NewFileSet()
	var res image.Result
	err = timer.Measure("load", func() error {
		var lerr error
		res, lerr = loadModule(cmd, fs, opts.path, cache)
		return lerr
	})
	if err != nil {
		return err
	}

	var reg *vm.Registry
	if err := timer.Measure("link", func() error {
		var lerr error
		reg, lerr = linkModule(res.Module)
		return lerr
	}); err != nil {
		return fmt.Errorf("%s: %w", opts.path, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg := vm.Config{
		MaxDepth: opts.maxDepth,
		FuzzSeed: opts.fuzzSeed,
		Out:      cmd.OutOrStdout(),
		Tracer:   trace.FromContext(ctx),
	}
	if opts.vmTrace {
		cfg.OpTrace = cmd.ErrOrStderr()
	}

	var dashboard *dashboardRun
	if shouldUseTUI(opts.ui, quiet(cmd)) {
		dashboard = startDashboard(filepath.Base(opts.path))
		cfg.Events = dashboard.events
	}

	rt, err := vm.NewRuntime(reg, cfg)
	if err != nil {
		dashboard.stop()
		return err
	}
	if hb := trace.HeartbeatFrom(ctx); hb != nil {
		hb.SetProbe(rt.Status)
		defer hb.SetProbe(nil)
	}
	var results []vm.Handle
	err = timer.Measure("run", func() error {
		var rerr error
		results, rerr = rt.Start(ctx, opts.entry, programArgs(reg, opts.args)...)
		return rerr
	})
	dashboard.stop()
	if err != nil {
		tracing.dumpRing()
		return err
	}

	if !quiet(cmd) {
		reportServiceFaults(cmd, rt)
	}
	out := cmd.OutOrStdout()
	for _, h := range results {
		fmt.Fprintln(out, vm.Display(h))
	}
	return nil
}

// resolveRunOptions merges flags with the manifest. A manifest is only
// consulted when no program file is named.
func resolveRunOptions(cmd *cobra.Command, args []string) (*projectManifest, runOptions, error) {
	var opts runOptions
	flags := cmd.Flags()
	var err error
	if opts.vmTrace, err = flags.GetBool("vm-trace"); err != nil {
		return nil, opts, fmt.Errorf("failed to get vm-trace flag: %w", err)
	}
	if opts.noCache, err = flags.GetBool("no-cache"); err != nil {
		return nil, opts, fmt.Errorf("failed to get no-cache flag: %w", err)
	}
	if opts.entry, err = flags.GetString("entry"); err != nil {
		return nil, opts, fmt.Errorf("failed to get entry flag: %w", err)
	}
	if opts.fuzzSeed, err = flags.GetUint64("fuzz-seed"); err != nil {
		return nil, opts, fmt.Errorf("failed to get fuzz-seed flag: %w", err)
	}
	if opts.maxDepth, err = flags.GetInt("max-depth"); err != nil {
		return nil, opts, fmt.Errorf("failed to get max-depth flag: %w", err)
	}
	uiValue, err := flags.GetString("ui")
	if err != nil {
		return nil, opts, fmt.Errorf("failed to get ui flag: %w", err)
	}
	if opts.ui, err = readUIMode(uiValue); err != nil {
		return nil, opts, err
	}

	var manifest *projectManifest
	if len(args) > 0 && isProgramFile(args[0]) {
		opts.path, opts.args = args[0], args[1:]
	} else {
		m, found, err := loadProjectManifest(".")
		if err != nil {
			return nil, opts, err
		}
		if !found {
			return nil, opts, fmt.Errorf("%s", noManifestMessage)
		}
		if opts.path, err = resolveMainPath(m); err != nil {
			return nil, opts, err
		}
		opts.args = args
		manifest = m
		applyManifest(flags.Changed, m.Config, &opts)
	}
	if opts.entry == "" {
		opts.entry = defaultEntry
	}
	if opts.maxDepth < 0 {
		return nil, opts, fmt.Errorf("--max-depth must not be negative")
	}
	return manifest, opts, nil
}

// applyManifest fills the options no flag set explicitly.
func applyManifest(changed func(string) bool, cfg projectConfig, opts *runOptions) {
	if !changed("entry") && cfg.Run.Entry != "" {
		opts.entry = strings.TrimSpace(cfg.Run.Entry)
	}
	if !changed("fuzz-seed") && !cfg.Runtime.Deterministic {
		opts.fuzzSeed = cfg.Runtime.FuzzSeed
	}
	if !changed("max-depth") && cfg.Runtime.MaxDepth > 0 {
		opts.maxDepth = cfg.Runtime.MaxDepth
	}
}

func isProgramFile(path string) bool {
	switch filepath.Ext(path) {
	case sourceExt, image.Ext:
		return true
	}
	return false
}

// reportServiceFaults lists the uncaught faults of every service but the
// root, whose fault is the run's own error.
func reportServiceFaults(cmd *cobra.Command, rt *vm.Runtime) {
	for _, s := range rt.Services() {
		if s.Name == "main" {
			continue
		}
		for _, ex := range s.Faults() {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: service %s: uncaught %s\n", s.Name, ex)
		}
	}
}

// dashboardRun drives the service dashboard while the runtime works.
type dashboardRun struct {
	events  chan vm.ServiceEvent
	program *tea.Program
	done    chan struct{}
}

func startDashboard(title string) *dashboardRun {
	d := &dashboardRun{
		events: make(chan vm.ServiceEvent, 256),
		done:   make(chan struct{}),
	}
	d.program = tea.NewProgram(ui.NewDashboard(title, d.events), tea.WithOutput(os.Stderr))
	go func() {
		defer close(d.done)
		if _, err := d.program.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "ui: %v\n", err)
		}
	}()
	return d
}

// stop closes the event stream and waits for the final frame.
func (d *dashboardRun) stop() {
	if d == nil {
		return
	}
	close(d.events)
	<-d.done
}

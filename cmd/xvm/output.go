package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"xvm/internal/vm"
)

// colorEnabled resolves --color against the terminal state of stderr.
func colorEnabled(cmd *cobra.Command) (bool, error) {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false, fmt.Errorf("failed to get color flag: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		return isTerminal(os.Stderr), nil
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
}

func quiet(cmd *cobra.Command) bool {
	q, err := cmd.Root().PersistentFlags().GetBool("quiet")
	return err == nil && q
}

// reportError prints err to stderr. Program faults get their backtrace.
func reportError(cmd *cobra.Command, err error) {
	var he *vm.HostError
	if errors.As(err, &he) {
		colored, cerr := colorEnabled(cmd)
		if cerr != nil {
			colored = false
		}
		fmt.Fprint(os.Stderr, he.FormatWithColor(colored))
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

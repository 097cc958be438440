package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"xvm/internal/version"
)

var versionFormat string

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show xvm build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		colored, err := colorEnabled(cmd)
		if err != nil {
			return err
		}
		// the banner goes to stdout, so colour follows stdout
		if mode, _ := cmd.Root().PersistentFlags().GetString("color"); strings.EqualFold(mode, "auto") {
			colored = isTerminal(os.Stdout)
		}
		text, err := version.Banner(version.Current(), strings.ToLower(versionFormat), colored)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	},
}

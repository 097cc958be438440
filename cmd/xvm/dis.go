package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xvm/internal/asm"
	"xvm/internal/source"
)

var disCmd = &cobra.Command{
	Use:   "dis <file.xasm|file.xvmi>",
	Short: "Print the linked ops of a program",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !isProgramFile(path) {
			return fmt.Errorf("%s: not a %s or image file", path, sourceExt)
		}
		res, err := loadModule(cmd, source.NewFileSet(), path, nil)
		if err != nil {
			return err
		}
		return asm.Disassemble(cmd.OutOrStdout(), res.Module)
	},
}

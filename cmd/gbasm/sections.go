package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gbasm/internal/diagfmt"
	"gbasm/internal/driver"
)

var sectionsCmd = &cobra.Command{
	Use:   "sections [flags] file.asm",
	Short: "Assemble a source file and dump its section table",
	Args:  cobra.ExactArgs(1),
	RunE:  runSections,
}

func init() {
	sectionsCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	sectionsCmd.Flags().StringArrayP("include", "I", nil, "additional include search directories")
	sectionsCmd.Flags().String("pre-include", "", "file to include before the main file")
	sectionsCmd.Flags().Uint8P("pad-byte", "p", 0, "byte used to pad DS in ROM sections")
	sectionsCmd.Flags().Bool("deps-missing-ok", false, "treat missing include files as dependencies")
}

func runSections(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}
	// Дамп таблицы не пишет объектный файл.
	opts.Config.Output.ObjectFile = ""

	result, err := driver.Assemble(args[0], opts)
	printDiagnostics(cmd, result)
	if err != nil {
		return err
	}

	switch format {
	case "pretty":
		return diagfmt.FormatSectionsPretty(os.Stdout, result.Sections)
	case "json":
		return diagfmt.FormatSectionsJSON(os.Stdout, result.Sections, diagfmt.JSONOpts{})
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

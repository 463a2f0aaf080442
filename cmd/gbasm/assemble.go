package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gbasm/internal/config"
	"gbasm/internal/diag"
	"gbasm/internal/diagfmt"
	"gbasm/internal/driver"
	"gbasm/internal/observ"
)

var assembleCmd = &cobra.Command{
	Use:   "assemble [flags] file.asm",
	Short: "Assemble a source file into an object file",
	Long:  `Assemble runs one pass over a source file: contexts, sections, object output`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAssemble,
}

func init() {
	assembleCmd.Flags().StringP("output", "o", "", "object file to write (default from manifest)")
	assembleCmd.Flags().StringArrayP("include", "I", nil, "additional include search directories")
	assembleCmd.Flags().String("pre-include", "", "file to include before the main file")
	assembleCmd.Flags().Uint8P("pad-byte", "p", 0, "byte used to pad DS in ROM sections")
	assembleCmd.Flags().Bool("deps-missing-ok", false, "treat missing include files as dependencies")
}

// buildOptions складывает манифест и флаги в настройки одного прохода.
// Флаги имеют приоритет над манифестом.
func buildOptions(cmd *cobra.Command) (driver.Options, error) {
	configPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return driver.Options{}, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return driver.Options{}, err
	}

	includes, err := cmd.Flags().GetStringArray("include")
	if err != nil {
		return driver.Options{}, err
	}
	cfg.Paths.Include = append(cfg.Paths.Include, includes...)

	if cmd.Flags().Changed("pre-include") {
		cfg.Paths.PreInclude, _ = cmd.Flags().GetString("pre-include")
	}
	if cmd.Flags().Changed("pad-byte") {
		cfg.Output.PadByte, _ = cmd.Flags().GetUint8("pad-byte")
	}
	if cmd.Flags().Changed("output") {
		cfg.Output.ObjectFile, _ = cmd.Flags().GetString("output")
	}

	maxDiags, err := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return driver.Options{}, err
	}
	missingOK, _ := cmd.Flags().GetBool("deps-missing-ok")

	return driver.Options{
		Config:                  cfg,
		MaxDiagnostics:          maxDiags,
		GenerateMissingIncludes: missingOK,
	}, nil
}

func runAssemble(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}

	session, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer session.Stop()

	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if showTimings {
		opts.Timer = observ.NewTimer()
		defer opts.Timer.WriteSummary(os.Stderr)
	}

	result, err := driver.Assemble(args[0], opts)
	printDiagnostics(cmd, result)
	if err != nil {
		var fatal *diag.FatalError
		if errors.As(err, &fatal) && result != nil {
			return fmt.Errorf("%s\nwhile assembling %s", fatal, result.Stack.DumpCurrent())
		}
		return err
	}
	if result.Bag.HasErrors() {
		return fmt.Errorf("assembly failed with %d error(s)", result.Bag.ErrorCount())
	}

	if out := opts.Config.Output.ObjectFile; out != "" {
		if err := result.Object.WriteFile(out, result.Sections); err != nil {
			return fmt.Errorf("failed to write object file: %w", err)
		}
	}
	return nil
}

// printDiagnostics выводит накопленные диагностики в stderr.
func printDiagnostics(cmd *cobra.Command, result *driver.Result) {
	if result == nil || result.Bag.Len() == 0 {
		return
	}
	colorFlag, _ := cmd.Root().PersistentFlags().GetString("color")
	useColor := colorFlag == "on" || (colorFlag == "auto" && isTerminal(os.Stderr))
	diagfmt.Pretty(os.Stderr, result.Bag, diagfmt.PrettyOpts{
		Color:     useColor,
		ShowNotes: true,
	})
}

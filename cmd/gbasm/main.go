package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gbasm/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "gbasm",
	Short: "Game Boy assembler",
	Long:  `gbasm assembles Game Boy sources into linkable object files`,
}

// main initializes the CLI by setting the command version, registering
// subcommands and persistent flags, and then executes the root command.
// If command execution returns an error, the process exits with status code 1.
func main() {
	// Устанавливаем версию для автоматического флага --version
	rootCmd.Version = version.Version

	// Добавляем команды
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(sectionsCmd)
	rootCmd.AddCommand(versionCmd)

	// Глобальные флаги
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("config", "gbasm.toml", "path to the project manifest")
	rootCmd.PersistentFlags().Int("max-diagnostics", 0, "maximum number of diagnostics to show (0 = from manifest)")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().String("cpu-profile", "", "write a CPU profile to the given file")
	rootCmd.PersistentFlags().String("mem-profile", "", "write a heap profile to the given file")
	rootCmd.PersistentFlags().String("runtime-trace", "", "write a runtime trace to the given file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

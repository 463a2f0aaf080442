package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gbasm/internal/prof"
)

// setupProfiling читает персистентные флаги профилирования и запускает
// соответствующие профили. Returns the session to stop when the command
// finishes; the session is nil-safe.
func setupProfiling(cmd *cobra.Command) (*prof.Session, error) {
	root := cmd.Root()

	cpuPath, err := root.PersistentFlags().GetString("cpu-profile")
	if err != nil {
		return nil, fmt.Errorf("failed to get cpu-profile flag: %w", err)
	}
	memPath, err := root.PersistentFlags().GetString("mem-profile")
	if err != nil {
		return nil, fmt.Errorf("failed to get mem-profile flag: %w", err)
	}
	tracePath, err := root.PersistentFlags().GetString("runtime-trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get runtime-trace flag: %w", err)
	}

	if cpuPath == "" && memPath == "" && tracePath == "" {
		return nil, nil
	}
	return prof.Start(prof.Options{
		CPUPath:   cpuPath,
		MemPath:   memPath,
		TracePath: tracePath,
	})
}

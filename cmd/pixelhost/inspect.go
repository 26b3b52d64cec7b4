package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/woxQAQ/pixelhost/internal/cartridge"
)

const pageSize = 64 * 1024

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "Show the entry points, imports and memory limits of a cartridge",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := newSession(ctx, cfg, cfg.LogFile)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	manifest, desc, size, err := cartridge.NewLoader(s.runtime, s.logger).Inspect(ctx, args[0])
	if err != nil {
		return fmt.Errorf("inspect %s: %w", args[0], err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Name:     %s\n", manifest.Name)
	if manifest.Version != "" {
		fmt.Fprintf(w, "Version:  %s\n", manifest.Version)
	}
	fmt.Fprintf(w, "Module:   %s (%s)\n", manifest.WasmPath(), humanize.Bytes(uint64(size)))
	fmt.Fprintf(w, "Required: %s\n", joinNames(desc.Required))
	fmt.Fprintf(w, "Optional: %s\n", joinNames(desc.Optional))
	if len(desc.Missing) > 0 {
		fmt.Fprintf(w, "Missing:  %s\n", joinNames(desc.Missing))
	}
	if len(desc.Invalid) > 0 {
		names := make([]string, 0, len(desc.Invalid))
		for name := range desc.Invalid {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "Invalid:")
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %v\n", name, desc.Invalid[name])
		}
	}
	fmt.Fprintf(w, "Imports:  %s\n", joinNames(desc.Imports))

	memory := fmt.Sprintf("%d pages (%s)", desc.MemoryMin, humanize.IBytes(uint64(desc.MemoryMin)*pageSize))
	if desc.HasMemoryMax {
		memory += fmt.Sprintf(", max %d pages (%s)", desc.MemoryMax, humanize.IBytes(uint64(desc.MemoryMax)*pageSize))
	}
	fmt.Fprintf(w, "Memory:   %s\n", memory)
	return nil
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/woxQAQ/pixelhost/internal/cartridge"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the cartridges found under the configured paths",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	manifests, errs := cartridge.Scan(cfg.CartridgePaths)
	for _, err := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	if len(manifests) == 0 {
		return &cartridge.NoCartridgesFoundError{Paths: cfg.CartridgePaths}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tTITLE\tSIZE")
	for _, m := range manifests {
		size := "-"
		if info, err := os.Stat(m.WasmPath()); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Version, m.Title, size)
	}
	return tw.Flush()
}

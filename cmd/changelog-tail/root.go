package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logger     *slog.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changelog-tail",
		Short: "Tail a LoomDB store's change stream to stdout",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "changelog-tail.yaml", "path to config file")
	cmd.AddCommand(newTailCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

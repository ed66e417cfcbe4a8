package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/vanguard/internal/config"
	"github.com/dharsanguruparan/vanguard/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vanguard: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg *config.Config
	cmd := &cobra.Command{
		Use:   "vanguard",
		Short: "Explosive-ordnance photo intake service",
		Long: `Vanguard classifies photos of found explosive ordnance, attaches a location and
records confident matches. Configuration comes from the environment and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
			return nil
		},
	}
	getConfig := func() *config.Config { return cfg }
	cmd.AddCommand(
		newServeCmd(getConfig),
		newWorkerCmd(getConfig),
		newSchemaCmd(getConfig),
		newClassifyCmd(getConfig),
		newTypesCmd(getConfig),
		newFoundCmd(getConfig),
	)
	return cmd
}

package main

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/vanguard/internal/bootstrap"
	"github.com/dharsanguruparan/vanguard/internal/config"
	"github.com/dharsanguruparan/vanguard/internal/logging"
	"github.com/dharsanguruparan/vanguard/internal/worker"
)

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if address != "" {
				c.Address = address
			}
			app, err := bootstrap.New(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Server.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&address, "addr", "", "Listen address (overrides VANGUARD_ADDRESS)")
	return cmd
}

func newWorkerCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the preview worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if !c.QueueEnabled() || !c.ArchiveEnabled() {
				return fmt.Errorf("worker needs REDIS_ADDR and S3_ENDPOINT")
			}
			ctx := cmd.Context()
			objects, err := bootstrap.Archive(ctx, c)
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}

			server := asynq.NewServer(bootstrap.RedisOpt(c), asynq.Config{
				Concurrency: c.WorkerPool,
			})
			processor := worker.NewProcessor(objects, c.PreviewMaxPixel)

			go func() {
				<-ctx.Done()
				server.Shutdown()
			}()
			logging.Infof("preview worker started (concurrency %d)", c.WorkerPool)
			if err := server.Run(processor.Handler()); err != nil {
				return fmt.Errorf("worker stopped: %w", err)
			}
			return nil
		},
	}
}

func newSchemaCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create tables and seed item types",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			st, err := bootstrap.OpenStore(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer st.Close()
			types, err := st.ItemTypes(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready on %s (%d item types)\n", c.DatabaseDriver, len(types))
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/vanguard/internal/bootstrap"
	"github.com/dharsanguruparan/vanguard/internal/config"
	"github.com/dharsanguruparan/vanguard/internal/geo"
	"github.com/dharsanguruparan/vanguard/internal/intake"
	"github.com/dharsanguruparan/vanguard/internal/storage"
	"github.com/dharsanguruparan/vanguard/internal/store"
)

func newClassifyCmd(cfg func() *config.Config) *cobra.Command {
	var (
		lat, lon  float64
		mediaType string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "classify FILE",
		Short: "Run the intake pipeline on a local photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			ctx := cmd.Context()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var st store.Store
			if dryRun {
				st = storage.NewSeededMemoryStore()
			} else {
				st, err = bootstrap.OpenStore(ctx, c)
				if err != nil {
					return err
				}
			}
			defer st.Close()

			extractors, closeExtractors := bootstrap.Extractors(c)
			defer closeExtractors()
			gateway, stopGateway := bootstrap.Gateway(ctx, c)
			defer stopGateway()

			orch := intake.NewOrchestrator(
				intake.NewValidator(c.MaxUploadBytes, c.AcceptedTypes),
				geo.NewResolver(extractors...),
				gateway,
				st,
				c.MinConfidence,
			)
			req := intake.Request{Body: f, MediaType: mediaType, FileName: filepath.Base(args[0])}
			if req.MediaType == "" {
				req.MediaType = guessMediaType(args[0])
			}
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
				req.Lat, req.Lon = &lat, &lon
			}
			resp, err := orch.Handle(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude reported with the photo")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude reported with the photo")
	cmd.Flags().StringVar(&mediaType, "type", "", "Declared media type (default: from file extension)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use an in-memory store instead of the configured database")
	return cmd
}

func guessMediaType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func newTypesCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List item types",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := bootstrap.OpenStore(cmd.Context(), cfg())
			if err != nil {
				return err
			}
			defer st.Close()
			types, err := st.ItemTypes(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tRADIUS (m)")
			for _, t := range types {
				fmt.Fprintf(w, "%s\t%s\t%g\n", t.ID, t.Title, t.ExplosionRadius)
			}
			return w.Flush()
		},
	}
}

func newFoundCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "found",
		Short: "List found items",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := bootstrap.OpenStore(cmd.Context(), cfg())
			if err != nil {
				return err
			}
			defer st.Close()
			types, err := st.ItemTypes(cmd.Context())
			if err != nil {
				return err
			}
			titles := make(map[string]string, len(types))
			for _, t := range types {
				titles[t.ID] = t.Title
			}
			items, err := st.FoundItems(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tLAT\tLON\tCREATED")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%.5f\t%.5f\t%s\n", it.ID, titles[it.TypeID], it.Lat, it.Lon, it.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

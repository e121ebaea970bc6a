package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsherman999/tailorboard/internal/config"
	"github.com/jsherman999/tailorboard/internal/db"
	"github.com/jsherman999/tailorboard/internal/exporter"
	"github.com/jsherman999/tailorboard/internal/store"
)

func exportCmd(cfgPath *string) *cobra.Command {
	var format string
	var outPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "export <resource>",
		Short: "Export a resource table straight from the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource := args[0]
			if !store.ValidResource(resource) {
				return fmt.Errorf("%q: %w (one of %v)", resource, store.ErrUnknownResource, store.Resources)
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			dbConn, err := db.Open(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer dbConn.Close()

			b, _, err := exporter.Export(ctx, store.New(dbConn), resource, format, limit)
			if err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				_, _ = cmd.OutOrStdout().Write(b)
				return nil
			}
			return os.WriteFile(outPath, b, 0644)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "export format: json|csv")
	cmd.Flags().StringVar(&outPath, "out", "-", "output path (or - for stdout)")
	cmd.Flags().IntVar(&limit, "limit", 10000, "max rows")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/services"
)

// legacyCmd groups the offline commands for path-hash partitions created
// before datasets existed. They open the configured stores directly.
func legacyCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "legacy",
		Short: "Inspect and migrate legacy path-hash partitions",
		Long: `Legacy partitions are named after a hash of the indexed path rather than
a project and dataset. Until migrated they are searched on behalf of their
owning project only.

These commands read the islandd configuration and open the metadata store
and vector backend directly; no daemon is needed.`,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/islandd/config.yaml)")

	open := func(ctx context.Context) (*services.Maintenance, error) {
		cfg, err := config.LoadWithFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		logCfg, err := logging.FromSection(cfg.Logging)
		if err != nil {
			return nil, err
		}
		// Only problems are logged so they do not bury the command output.
		logCfg.Format = "console"
		if logCfg.Level, err = logging.ParseLevel("warn"); err != nil {
			return nil, err
		}
		logger, err := logging.NewLogger(logCfg, nil)
		if err != nil {
			return nil, err
		}
		return services.OpenMaintenance(ctx, cfg, logger)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List legacy partitions that are not bound to a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			m, err := open(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			names, err := m.Manager.LegacyPartitions(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No legacy partitions")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate <legacy-partition> <project>/<dataset>",
		Short: "Bind a legacy partition to a dataset",
		Long: `Bind a legacy partition to project/dataset. The vectors stay in place;
only the partition record is re-keyed. This cannot be undone, and it is
refused when the dataset already has a partition.

Examples:
  islandctl legacy migrate isl_legacy_a1b2c3d4e5f60718 acme/backend`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, dataset, err := parseScope(args[1], false)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			m, err := open(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			p, err := m.Manager.MigrateLegacy(ctx, args[0], project, dataset)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s to %s/%s (%d points)\n", p.Name, project, dataset, p.PointCount)
			return nil
		},
	})
	return cmd
}

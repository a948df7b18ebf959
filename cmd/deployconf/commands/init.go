package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deployconf/pkg/config"
)

func newInitCommand() *cobra.Command {
	var (
		dbPath string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a deployconf workspace",
		Long: `Initialize a workspace with a default configuration file and a SQLite
database holding solution records and their audit trail.`,
		Example: `  # Initialize in the current directory
  deployconf init

  # Initialize with a custom config and database location
  deployconf init --config /etc/deployconf/config.yaml --db /var/lib/deployconf/deployconf.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = defaultConfigPath
			}

			log.Info().
				Str("config", path).
				Bool("force", force).
				Msg("Initializing workspace")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if dbPath != "" {
				cfg.Store.Path = dbPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg.Store, log.Logger)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			fmt.Printf("✓ Initialized SQLite database: %s\n", cfg.Store.Path)

			data, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("✓ Created config file: %s\n", path)

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Register a solution:\n")
			fmt.Printf("     deployconf register --intent \"web shop\" --resource Deployment --resource Service\n\n")
			fmt.Printf("  2. Start configuring it:\n")
			fmt.Printf("     deployconf choose <solution-id>\n\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (default ./data/deployconf.db)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

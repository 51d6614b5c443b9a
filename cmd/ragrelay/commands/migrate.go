package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0xcro3dile/ragrelay-go/internal/adapters/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the transcript store schema",
	Long: `Create the conversations, transcript and feedback tables if they do not
exist. Safe to run repeatedly. The memory driver has no schema.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		sqlStore, ok := st.(*store.SQLStore)
		if !ok {
			logger.Info().Str("store", cfg.Store.Driver).Msg("nothing to migrate")
			return nil
		}
		if err := sqlStore.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("store", cfg.Store.Driver).Msg("schema ready")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

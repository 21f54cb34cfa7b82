package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/vector"
	"github.com/blueberrycongee/fincopilot/internal/database"
	"github.com/blueberrycongee/fincopilot/internal/history"
)

var errNoDatabase = errors.New("database.url (or DATABASE_URL) is required")

func newInitSchemaCmd(opts *rootOptions) *cobra.Command {
	var skipHistory bool

	cmd := &cobra.Command{
		Use:   "init-schema",
		Short: "Create the pgvector extension, question_cache and chat_history tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Database.Configured() {
				return errNoDatabase
			}

			ctx := cmd.Context()
			db, err := database.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			vs, err := vector.NewPostgresStore(db, cfg.Cache.Dimension)
			if err != nil {
				return err
			}
			if err := vs.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("question_cache schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "question_cache ready")

			if skipHistory {
				return nil
			}
			hs, err := history.NewPostgresStore(db)
			if err != nil {
				return err
			}
			if err := hs.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("chat_history schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "chat_history ready")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipHistory, "skip-history", false, "only create the cache table")
	return cmd
}

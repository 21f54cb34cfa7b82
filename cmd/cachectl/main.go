// Command cachectl inspects and prepares the FinCopilot semantic cache.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/blueberrycongee/fincopilot/internal/cache/semantic"
	"github.com/blueberrycongee/fincopilot/internal/cache/semantic/embedding"
	"github.com/blueberrycongee/fincopilot/internal/config"
	"github.com/blueberrycongee/fincopilot/internal/database"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and prepare the FinCopilot semantic cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newStatsCmd(opts),
		newLookupCmd(opts),
		newInitSchemaCmd(opts),
	)
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}
	return config.Load(o.configPath)
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	if !o.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// session is an opened cache plus whatever must be closed with it.
type session struct {
	cfg      *config.Config
	cache    *semantic.Cache
	embedder embedding.Embedder
	db       *sqlx.DB
}

func (s *session) Close() error {
	var err error
	if s.cache != nil {
		err = s.cache.Close()
	}
	if s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (o *rootOptions) openCache(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg}
	if cfg.Cache.VectorStore == "postgres" {
		s.db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
	}
	s.cache, s.embedder, err = semantic.NewFromConfig(ctx, cfg.Cache.Semantic(), s.db, o.logger(cmd))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open semantic cache: %w", err)
	}
	return s, nil
}

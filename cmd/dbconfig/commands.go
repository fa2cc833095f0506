package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sardine-ai/go-db-config/internal/config"
	"github.com/sardine-ai/go-db-config/server"
	"github.com/sardine-ai/go-db-config/source"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "./dbconfig.yaml"

func newRootCommand() *cobra.Command {
	var configFilePath string
	cmd := &cobra.Command{
		Use:          "dbconfig",
		Short:        "Serve configuration settings read from database queries",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", defaultConfigPath, "path to the config file")
	cmd.AddCommand(newServeCommand(&configFilePath), newDumpCommand(&configFilePath))
	return cmd
}

func loadConfig(configFilePath string) (*config.Config, error) {
	cfg, err := config.TryLoadFromDisk(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", configFilePath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFilePath, err)
	}
	if err := setupLogging(logrus.StandardLogger(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newServeCommand(configFilePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll every source and serve the settings over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFilePath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logrus.StandardLogger()
	repos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepositories(repos)

	repositories := make([]source.Repository, len(repos))
	for i, repo := range repos {
		repositories[i] = repo
		logger.WithField("repository", repo.GetName()).
			WithField("entries", repo.Status().Entries).
			Info("source loaded")
	}
	webServer := server.NewServer(repositories)
	webServer.AuthKey = cfg.AuthKey

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webServer.Start(cfg.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		closeRepositories(repos)
		return webServer.Shutdown()
	})
	return g.Wait()
}

func newDumpCommand(configFilePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [source...]",
		Short: "Load the sources once and print their settings as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFilePath)
			if err != nil {
				return err
			}
			return dump(cmd.Context(), cfg, args, cmd.OutOrStdout())
		},
	}
}

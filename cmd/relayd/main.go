package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/foundrybridge/relay/internal/config"
	"github.com/foundrybridge/relay/internal/logger"
	"github.com/foundrybridge/relay/internal/relay"
)

func main() {
	root := &cobra.Command{
		Use:   "relayd",
		Short: "foundry relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := relay.OpenStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			var rdb *redis.Client
			if cfg.RedisURL != "" {
				opts, err := redis.ParseURL(cfg.RedisURL)
				if err != nil {
					return fmt.Errorf("parse redis url: %w", err)
				}
				rdb = redis.NewClient(opts)
				defer rdb.Close()
			} else {
				logger.Warn("no redis configured, running single-replica")
			}

			srv, err := relay.NewServer(cfg, store, rdb)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	root.Flags().String("config", "", "path to config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

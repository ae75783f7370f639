package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/latolukasz/changelog"
	"github.com/latolukasz/changelog/mysqllog"
	"github.com/latolukasz/changelog/streamlog"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:          "changelog",
		Short:        "Change log tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "changelog.yaml", "config file")
	root.AddCommand(consumeCmd())
	root.AddCommand(historyCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openTable(ctx context.Context, cfg *config, logger *zap.Logger) (*mysqllog.DB, *mysqllog.Table, error) {
	db, err := mysqllog.Open(cfg.MySQL.DSN, mysqllog.PoolOptions{MaxOpenConnections: cfg.MySQL.MaxOpenConnections})
	if err != nil {
		return nil, nil, err
	}
	db.RegisterQueryLogger(changelog.NewZapLogHandler(logger))
	table, err := mysqllog.NewSchema(db, 0).Table(ctx, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, table, nil
}

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Move log records from redis streams to the MySQL log table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, table, err := openTable(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer client.Close()

			publisher := streamlog.NewPublisher(client, streamlog.Options{Stream: cfg.Stream, Shards: cfg.Shards})
			consumer := streamlog.NewConsumer(client, publisher.Streams(), cfg.Group)
			consumer.RegisterLogger(changelog.NewZapLogHandler(logger))
			logger.Info("consuming change log",
				zap.Strings("streams", publisher.Streams()),
				zap.String("table", table.GetName()))
			err = consumer.Run(ctx, cfg.Batch, streamlog.WriteTo(table.LogModel()))
			if err != nil {
				logger.Error("consumer stopped", zap.Error(err))
				return err
			}
			logger.Info("consumer stopped")
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var page, size int
	var entity string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print log records with changed attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return err
			}
			db, table, err := openTable(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			where := mysqllog.NewWhere("1")
			if entity != "" {
				column := cfg.Columns[changelog.ColumnEntity]
				if column == "" {
					return fmt.Errorf("columns.%s is not configured", changelog.ColumnEntity)
				}
				where = mysqllog.NewWhere("`"+column+"` = ?", entity)
			}
			entries, err := table.Read(cmd.Context(), cfg.Columns, where, mysqllog.NewPager(page, size))
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintln(cmd.OutOrStdout(), formatEntry(entry))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "show only records of this entity")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "size", 50, "records per page")
	return cmd
}

func formatEntry(entry changelog.Entry) string {
	line := fmt.Sprintf("#%d %s", entry.ID, entry.Action)
	if entry.Entity != "" {
		line += " " + entry.Entity
	}
	changes := entry.Diff()
	parts := make([]string, 0, len(changes))
	for _, name := range entry.ChangedAttributes() {
		parts = append(parts, fmt.Sprintf("%s: %v -> %v", name, changes[name].Old, changes[name].New))
	}
	if len(parts) > 0 {
		line += " " + strings.Join(parts, ", ")
	}
	return line
}

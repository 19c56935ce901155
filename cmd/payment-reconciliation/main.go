package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/config"
	"github.com/distributed-ecommerce-saga/payment-reconciliation/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "payment-reconciliation"

var (
	Version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Payment provider webhook reconciliation for orders",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional config file; environment variables take precedence")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads and validates configuration and builds the logger every
// subcommand uses.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger = logger.With(zap.String("service", serviceName))

	return cfg, logger, nil
}

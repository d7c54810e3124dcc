package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rockgate/internal/config"
	"github.com/nextlevelbuilder/rockgate/internal/gateway"
	"github.com/nextlevelbuilder/rockgate/internal/store"
	"github.com/nextlevelbuilder/rockgate/internal/telemetry"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the message gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	pairing, err := store.Open(config.ExpandHome(cfg.Pairing.Storage))
	if err != nil {
		slog.Error("failed to open pairing store", "error", err)
		os.Exit(1)
	}
	defer pairing.Close()

	sup := gateway.New(cfg, gateway.Options{Pairing: pairing})

	go func() {
		if err := config.Watch(ctx, cfgPath, sup.Reload); err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
	}()

	slog.Info("starting rockgate", "version", Version, "config", cfgPath)
	if err := sup.Run(ctx); err != nil {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

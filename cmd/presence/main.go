package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicmesh/presence/internal/auth/jwt"
	"github.com/civicmesh/presence/internal/common/config"
	"github.com/civicmesh/presence/internal/database"
	"github.com/civicmesh/presence/internal/realtime"
	"github.com/civicmesh/presence/internal/server"
	"github.com/civicmesh/presence/pkg/logger"
	"github.com/civicmesh/presence/pkg/metrics"
	"github.com/civicmesh/presence/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of presence",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("presence version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "presence",
		Short: "Realtime presence and session service",
		Long:  `presence tracks live realtime connections, brokers room-scoped messaging and mirrors authenticated sessions to the database`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "configs/presence.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	zapLogger.Info("starting presence service", zap.String("version", version.Get()))

	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	tokens, err := jwt.NewService(jwt.Config{
		SecretKey: cfg.JWT.SecretKey,
		Duration:  cfg.JWT.Duration,
	})
	if err != nil {
		zapLogger.Fatal("failed to create token service", zap.Error(err))
	}

	m := metrics.New(cfg.Metrics)

	manager, err := realtime.NewManager(zapLogger, cfg.Realtime, &cfg.Broker, db, tokens, m)
	if err != nil {
		zapLogger.Fatal("failed to create session manager", zap.Error(err))
	}
	manager.Start()

	srv := server.New(zapLogger, manager, db, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(cfg.Server.Addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zapLogger.Fatal("http server failed", zap.Error(err))
		}
	case sig := <-quit:
		zapLogger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	manager.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("http server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("presence service stopped")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

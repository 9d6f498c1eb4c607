package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amoylab/riderwatch/cmd/mock-partner/backend"
	"github.com/amoylab/riderwatch/pkg/utils"
	"github.com/amoylab/riderwatch/pkg/version"
)

var (
	addr    string
	cities  string
	perCity int

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mock-partner",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mock-partner version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "mock-partner",
		Short: "Fake delivery partner API",
		Long:  `mock-partner serves a generated rider fleet over the partner API so riderwatch can run locally`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := utils.ParseInt64List(cities)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("at least one city is required")
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return run(cmd.Context(), logger, backend.NewFleet(ids, perCity))
		},
	}
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", ":5236", "Address to listen on")
	rootCmd.Flags().StringVar(&cities, "cities", "804,805", "Comma separated city ids to generate")
	rootCmd.Flags().IntVar(&perCity, "riders", 30, "Riders generated per city")
}

func run(ctx context.Context, logger *zap.Logger, fleet *backend.Fleet) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := backend.NewServer(logger, fleet)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

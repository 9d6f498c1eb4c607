package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoylab/riderwatch/internal/auth/jwt"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/pkg/logger"
	"github.com/amoylab/riderwatch/pkg/trace"
	"github.com/amoylab/riderwatch/pkg/utils"
	"github.com/amoylab/riderwatch/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	tokenTenant  string
	tokenSubject string
	tokenRole    string
	tokenCities  string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of riderwatch",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "riderwatch version %s\n", version.Get())
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the balance sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	evaluateCmd = &cobra.Command{
		Use:   "evaluate",
		Short: "Run one balance sweep and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.Context(), cmd)
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a caller token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd)
		},
	}

	rootCmd = &cobra.Command{
		Use:   "riderwatch",
		Short: "Multi-tenant rider tracking and cash-limit blocking",
		Long:  `riderwatch searches riders across the partner live feed and roster and blocks riders whose cash balance exceeds the city limit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "riderwatch.yaml", "path to configuration file")

	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant the caller acts for")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "caller name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", jwt.RoleViewer, "viewer or operator")
	tokenCmd.Flags().StringVar(&tokenCities, "cities", "", "comma separated city ids, empty for all")
	_ = tokenCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(versionCmd, serveCmd, evaluateCmd, tokenCmd)
}

// bootstrap loads configuration and builds the logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration from %s: %w", cfgPath, err)
	}
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	lg.Info("configuration loaded", zap.String("path", cfgPath), zap.String("version", version.Get()))
	return cfg, lg, nil
}

func runServe(ctx context.Context) error {
	cfg, lg, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			lg.Warn("failed to shutdown tracing", zap.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	if err := a.start(); err != nil {
		return err
	}
	return a.serve(ctx)
}

func runEvaluate(ctx context.Context, cmd *cobra.Command) error {
	cfg, lg, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	a, err := newApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	a.engine.Start()

	res, err := a.scheduler.Sweep(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runToken(cmd *cobra.Command) error {
	cfg, _, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if tokenRole != jwt.RoleViewer && tokenRole != jwt.RoleOperator {
		return fmt.Errorf("invalid --role %q", tokenRole)
	}
	cities, err := utils.ParseInt64List(tokenCities)
	if err != nil {
		return fmt.Errorf("invalid --cities: %w", err)
	}
	svc, err := jwt.NewService(jwt.Config{SecretKey: cfg.JWT.SecretKey, Duration: cfg.JWT.Duration})
	if err != nil {
		return err
	}
	tok, err := svc.GenerateToken(tokenSubject, tokenTenant, cities, tokenRole)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hublink/hublink/internal/config"
	"github.com/hublink/hublink/internal/flow"
	"github.com/hublink/hublink/internal/integrations/hubspot"
	"github.com/hublink/hublink/internal/logger"
	"github.com/hublink/hublink/internal/server"
	"github.com/hublink/hublink/internal/store"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hublink",
	Short: "OAuth integration service for HubSpot",
	Long: `Hublink links a user's HubSpot account to an application via the
OAuth 2.0 authorization-code flow and hands the resulting credential to the
browser-side flow exactly once.`,
	Run: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags()
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")
}

// runServer loads the configuration and runs the fx application
func runServer(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(&cfg.Logging); err != nil {
		pterm.Error.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	app := fx.New(
		fx.Supply(cfg),
		fx.NopLogger,
		store.Module,
		flow.Module,
		hubspot.Module,
		server.Module,
		fx.Invoke(registerServer),
	)

	app.Run()
}

// registerServer ties the HTTP server to the fx application lifecycle.
func registerServer(lc fx.Lifecycle, srv *server.Server, shutdowner fx.Shutdowner) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(runCtx); err != nil {
					logger.Error("server stopped with error", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

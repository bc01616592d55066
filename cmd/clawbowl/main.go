package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawbowl/clawbowl/pkg/alerts"
	"github.com/clawbowl/clawbowl/pkg/api"
	"github.com/clawbowl/clawbowl/pkg/config"
	"github.com/clawbowl/clawbowl/pkg/log"
	"github.com/clawbowl/clawbowl/pkg/manager"
	"github.com/clawbowl/clawbowl/pkg/proxy"
	"github.com/clawbowl/clawbowl/pkg/push"
	"github.com/clawbowl/clawbowl/pkg/runtime"
	"github.com/clawbowl/clawbowl/pkg/storage"
	"github.com/clawbowl/clawbowl/pkg/warmup"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clawbowl",
	Short: "ClawBowl - per-user agent sandbox orchestrator",
	Long: `ClawBowl orchestrates per-user OpenClaw agent sandboxes: it provisions
one container per user, keeps its configuration and workspace in sync,
proxies chat traffic to the sandbox gateway, and forwards agent alerts
as push notifications.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ClawBowl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	Long: `Start the ClawBowl orchestrator: the HTTP API, the idle reaper, the
health reconciler, and the alert monitor. Requires a reachable Docker
engine and a writable data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %v", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")

		store, err := storage.NewBoltStore(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %v", err)
		}
		defer store.Close()

		rt, err := runtime.NewDockerRuntime(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to connect to container engine: %v", err)
		}

		mgr, err := manager.NewManager(cfg, store, rt)
		if err != nil {
			return fmt.Errorf("failed to create manager: %v", err)
		}

		var sender push.Sender
		if apns, err := push.NewAPNsSender(cfg, store); err != nil {
			logger.Warn().Err(err).Msg("Push disabled, using nop sender")
			sender = push.NopSender{}
		} else {
			sender = apns
		}

		reaper := manager.NewIdleReaper(mgr)
		reaper.Start()
		reconciler := manager.NewHealthReconciler(mgr)
		reconciler.Start()
		monitor := alerts.NewMonitor(store, sender)
		monitor.Start()

		server := api.NewServer(cfg, mgr, warmup.NewService(mgr, cfg), proxy.NewProxy(), store)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()

		logger.Info().Str("version", Version).Msg("ClawBowl is running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("Shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("API server failed")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("API shutdown incomplete")
		}
		monitor.Stop()
		reconciler.Stop()
		reaper.Stop()

		logger.Info().Msg("Shutdown complete")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue an access token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		tier, _ := cmd.Flags().GetString("tier")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		if cfg.JWTSecret == "" {
			return fmt.Errorf("jwt_secret is not configured")
		}

		ttl := time.Duration(cfg.JWTExpireMinutes) * time.Minute
		token, err := api.IssueToken(cfg.JWTSecret, args[0], tier, ttl)
		if err != nil {
			return fmt.Errorf("failed to sign token: %v", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	tokenCmd.Flags().String("config", "", "Path to YAML config file")
	tokenCmd.Flags().String("tier", "free", "Subscription tier claim")
}

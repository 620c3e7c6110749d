package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spacebot-ai/spacebot/internal/adapter"
	"github.com/spacebot-ai/spacebot/internal/config"
	"github.com/spacebot-ai/spacebot/internal/kernel"
	"github.com/spacebot-ai/spacebot/internal/llmclient"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/store"
)

var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "spacebotd",
	Short: "spacebotd - always-on agent orchestration daemon",
	Long: `spacebotd hosts one Spacebot agent instance: a bounded set of
concurrently-running Channels, Branches, and Workers coordinated through a
shared process registry, with a Memory Pipeline and Cortex bulletin loop
running underneath.

Run without a subcommand to start the daemon.`,
	RunE: runDaemon,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the daemon",
	RunE:  runDaemon,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply pending store migrations and exit",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("spacebotd 0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "spacebot.yaml", "path to the kernel config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug-level logging")
	rootCmd.AddCommand(runCmd, migrateCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debugMode {
		cfg.Logging.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging.Debug, cfg.Logging.Format == "json"); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.Sync()

	s, err := store.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	logging.Boot("store migrations applied for %s", cfg.Memory.DatabasePath)
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging.Debug, cfg.Logging.Format == "json"); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llm, err := llmclient.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	k, err := kernel.New(cfg, llm, adapter.NewInProcess())
	if err != nil {
		return fmt.Errorf("build kernel: %w", err)
	}

	logging.Boot("spacebotd starting: agent=%s", cfg.Kernel.AgentName)
	return k.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

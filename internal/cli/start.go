package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pensieved/pensieve/internal/config"
	"github.com/pensieved/pensieve/internal/daemon"
	"github.com/pensieved/pensieve/internal/logger"
)

var startForeground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pensieve daemon service",
	Long: `Start the Pensieve daemon service.
The daemon watches the capture directory, analyzes batches of screen
captures, and persists memory records until it receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startForeground, "foreground", true, "run in the foreground")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Check if daemon is already running
	if isRunning(cfg.PIDFilePath()) {
		return fmt.Errorf("daemon is already running (PID file: %s)", cfg.PIDFilePath())
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: startForeground,
		Pretty:  startForeground,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("Pensieve daemon started (watching %s)\n", cfg.WatchDir)

	d.Wait()

	return nil
}

func isRunning(pidFile string) bool {
	pid, err := daemon.ReadPIDFile(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessRunning(pid)
}

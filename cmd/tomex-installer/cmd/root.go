package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"tomex/internal/config"
	"tomex/internal/logger"
	"tomex/internal/service/installer"
	"tomex/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// logLevel sets the run log verbosity.
	logLevel string
	// wslDistro names the distribution used by the wsl backend.
	wslDistro string

	// rootCmd represents the base command that provisions the stack.
	rootCmd = &cobra.Command{
		Use:   "tomex-installer [docker|pip|wsl|auto]",
		Short: "Install a local AI-serving stack.",
		Long: `Provision Ollama, a local model and Open WebUI on this machine.

The optional argument selects how Open WebUI is provisioned: docker runs it
as a container, pip installs it into a Python virtual environment, wsl
installs it inside a WSL distribution, auto (the default) picks docker when
its daemon answers and pip otherwise.

Every run is idempotent: work already done is detected and skipped, and
interrupted downloads resume from where they stopped. Re-running the
installer after any failure is always safe.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"docker", "pip", "wsl", "auto"},
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			backendName := ""
			if len(args) > 0 {
				backendName = args[0]
			}

			backend, err := installer.ParseBackend(backendName)
			if err != nil {
				return err
			}

			return installer.Run(ctx, &installer.Options{
				ConfigPath: configPath,
				Backend:    backend,
				WSLDistro:  wslDistro,
				LogLevel:   parseLevel(),
			})
		},
	}

	// uninstallCmd removes everything a previous run installed.
	uninstallCmd = &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed stack.",
		Long: `Remove everything the installer put on this machine: autostart entries,
shortcuts, the Open WebUI container, running stack processes and the whole
install directory including downloaded models.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return installer.Uninstall(ctx, &installer.Options{
				ConfigPath: configPath,
				LogLevel:   parseLevel(),
			})
		},
	}
)

// parseLevel maps the flag value to a zap level, defaulting to info.
func parseLevel() zapcore.Level {
	level, _ := logger.ParseLogLevel(logLevel)
	return level
}

// Execute runs the tomex-installer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(uninstallCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l",
		"info", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&wslDistro, "wsl-distro",
		"Ubuntu", "WSL distribution used by the wsl backend")
}

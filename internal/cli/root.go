package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1

	envProxyURL   = "LATENCYMAP_PROXY_URL"
	envListenAddr = "LATENCYMAP_LISTEN_ADDR"

	logFormatText = "text"
	logFormatJSON = "json"
)

// Build information, set at link time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func Run() ExitCode {
	if err := NewRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "latencymap",
		Short:        "Latency data pipeline for the exchange latency map.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (defaults to the embedded config)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", logFormatText, "Log format (text, json)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")

	rootCmd.AddCommand(
		NewServeCmd().Command(),
		NewSnapshotCmd().Command(),
		NewLocationsCmd().Command(),
		NewVersionCmd().Command(),
	)

	return rootCmd
}

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	verbose    bool
}

func readGlobalFlags(cmd *cobra.Command) (globalFlags, error) {
	flags := cmd.Root().PersistentFlags()
	configPath, err := flags.GetString("config")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get log-format flag: %w", err)
	}
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	return globalFlags{
		configPath: configPath,
		logLevel:   logLevel,
		logFormat:  logFormat,
		verbose:    verbose,
	}, nil
}

// setup builds the logger and loads the config shared by every subcommand.
// Logs go to stderr so table and JSON output on stdout stay clean.
func setup(cmd *cobra.Command) (*slog.Logger, *config.Config, error) {
	g, err := readGlobalFlags(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat, g.verbose)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	return log, cfg, nil
}

func newLogger(w io.Writer, level, format string, verbose bool) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	switch format {
	case logFormatText, "":
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})), nil
	case logFormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
	return lvl, nil
}

// loadConfig reads the config file, or the embedded defaults when path is
// empty, then applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, err
	}

	if base := strings.TrimRight(os.Getenv(envProxyURL), "/"); base != "" {
		cfg.Proxy.LatencyURL = base + "/api/latency"
		cfg.Proxy.MetadataURL = base + "/api/location"
	}
	return cfg, nil
}

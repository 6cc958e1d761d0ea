package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/detmap/internal/config"
	"github.com/MeKo-Tech/detmap/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Configuration loader of the current command tree.
	configLoader *config.Loader
	// Configuration resolved before a command runs.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// newRootCommand builds the command tree with a fresh configuration state.
func newRootCommand() *cobra.Command {
	configLoader = config.NewLoaderWithViper(viper.New())
	globalConfig = nil
	cfgFile = ""

	root := &cobra.Command{
		Use:   "detmap",
		Short: "Object detection evaluation: IoU, NMS and mean Average Precision",
		Long: `detmap evaluates object detectors against ground truth annotations.

This tool provides:
- Intersection over Union of two boxes in corners or midpoint format
- Class-aware Non-Maximum Suppression (hard, linear or gaussian)
- Mean Average Precision at one IoU threshold or the COCO-style 0.50:0.95 sweep
- JSON, YAML and CSV inputs with text, JSON and CSV reports
- An HTTP and WebSocket API with Prometheus metrics

Examples:
  detmap iou 0,0,10,10 5,5,15,15
  detmap nms detections.json --iou 0.5 --prob 0.2
  detmap eval --predictions preds.json --ground-truth gts.json --num-classes 20
  detmap serve --port 8080`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
				return nil
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), globalConfig)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/detmap, /etc/detmap)")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().Bool("version", false, "print version information and exit")

	v := configLoader.GetViper()
	_ = v.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newIoUCommand(),
		newNMSCommand(),
		newEvalCommand(),
		newServeCommand(),
		newConfigCommand(),
	)
	return root
}

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns a freshly built root command for testing purposes.
// This allows tests to execute commands without calling os.Exit().
func GetRootCommand() *cobra.Command {
	return newRootCommand()
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// setupLogging installs a JSON slog handler on w. Reports go to stdout, so logs use stderr.
func setupLogging(w io.Writer, cfg *config.Config) {
	var level slog.Level
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// GetConfig returns the configuration resolved for the running command.
func GetConfig() *config.Config {
	if globalConfig == nil {
		cfg := config.DefaultConfig()
		return &cfg
	}
	cfg := *globalConfig
	return &cfg
}

// GetConfigLoader returns the configuration loader of the current command tree.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoaderWithViper(viper.New())
	}
	return configLoader
}

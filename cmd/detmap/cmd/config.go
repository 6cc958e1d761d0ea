package cmd

import (
	"fmt"
	"os"

	"github.com/MeKo-Tech/detmap/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
		Long: `Inspect the resolved configuration or create a default configuration file.

Configuration is read from detmap.yaml in the search paths, DETMAP_* environment
variables (e.g. DETMAP_EVALUATION_NUM_CLASSES) and command-line flags.`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc any = GetConfig()
			if resolved, _ := cmd.Flags().GetBool("resolved"); resolved {
				doc = GetConfigLoader().GetResolvedConfig()
			}
			data, err := yaml.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			out := cmd.OutOrStdout()
			if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
				_, _ = fmt.Fprintf(out, "# config file: %s\n", used)
			}
			_, err = out.Write(data)
			return err
		},
	}

	show.Flags().Bool("resolved", false, "print the raw merged settings, including keys unknown to detmap")

	validate := &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a configuration file and report the first invalid value",
		Long: `Load a configuration file without the usual validation step and then
validate it, reporting which file was checked. Without FILE the --config file or
the search paths are used.`,
		Args: cobra.MaximumNArgs(1),
		// Loading is done here so that an invalid file is reported, not rejected up front.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE:              runConfigValidate,
	}

	initCmd := &cobra.Command{
		Use:   "init [FILE]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := config.ConfigFileName + ".yaml"
			if len(args) == 1 {
				filename = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(filename); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", filename)
			}
			if err := config.GenerateDefaultConfigFile(filename); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", filename)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	paths := &cobra.Command{
		Use:   "paths",
		Short: "List the directories searched for detmap.yaml",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range config.GetConfigSearchPaths() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		},
	}

	cmd.AddCommand(show, validate, initCmd, paths)
	return cmd
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	file := cfgFile
	if len(args) == 1 {
		file = args[0]
	}

	loader := GetConfigLoader()
	var (
		cfg *config.Config
		err error
	)
	if file != "" {
		cfg, err = loader.LoadWithFileWithoutValidation(file)
	} else {
		cfg, err = loader.LoadWithoutValidation()
	}
	if err != nil {
		return err
	}

	source := loader.GetConfigFileUsed()
	if source == "" {
		source = "defaults"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration is valid\n", source)
	return err
}

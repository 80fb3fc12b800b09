package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matsen/twotower/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying the config file and environment
overrides. The OpenAI API key is never printed.`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default twotower.yml in the current directory",
	RunE:  runConfigInit,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if humanOutput {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			exitWithError(ExitError, "encoding config: %v", err)
		}
		outputHuman("%s", out)
		return nil
	}
	return outputJSON(cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.ConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		exitWithError(ExitConfigError, "%s already exists", path)
	}

	if err := config.Default().Save(path); err != nil {
		exitWithError(ExitError, "writing config: %v", err)
	}

	if humanOutput {
		outputHuman("Wrote %s\n", path)
		return nil
	}
	return outputJSON(map[string]string{"status": "created", "path": path})
}

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Inspect goesfill configuration. The config file is discovered from
./goesfill.yaml, /etc/goesfill/goesfill.yaml and ~/.config/goesfill/goesfill.yaml
unless --config is given.`,
		Example: `  goesfill config show
  goesfill config validate --config ./goesfill.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format. If a config file
is loaded, shows the loaded configuration with any command-line overrides
applied. Credentials are masked.`,
		Example: `  goesfill config show
  goesfill config show --config /etc/goesfill/goesfill.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration", "path", cfgPath)

	shown := *globalCfg
	if shown.Archive.SecretAccessKey != "" {
		shown.Archive.SecretAccessKey = "********"
	}
	if len(shown.Fast.Headers) > 0 {
		masked := make(map[string]string, len(shown.Fast.Headers))
		for k := range shown.Fast.Headers {
			masked[k] = "********"
		}
		shown.Fast.Headers = masked
	}

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	if cfgPath != "" {
		fmt.Printf("# loaded from %s\n", cfgPath)
	}
	fmt.Println(string(data))

	return nil
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE:  configValidateRun,
	}
}

func configValidateRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := globalCfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid:\n%w", err)
	}
	fmt.Println("Configuration OK")
	return nil
}

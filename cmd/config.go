package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the configuration after merging defaults, config.yaml, .env and EMISSIONS_* environment variables. The API key is redacted. Exits non-zero if a value is out of range.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		redacted := cfg.Redacted()
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(redacted); err != nil {
			return eris.Wrap(err, "config: encode")
		}
		if err := enc.Close(); err != nil {
			return eris.Wrap(err, "config: encode")
		}
		return cfg.Validate()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	validateConfigPath string
	validatePrint      bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file",
	Long:  "validate loads a config file, applies defaults and reports the first problem found.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(validateConfigPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config ok: %s\n", validateConfigPath)
		if !validatePrint {
			return nil
		}
		b, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		_, err = out.Write(b)
		return err
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "", "Path to YAML or TOML config")
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "Print the effective config as YAML")
	_ = validateCmd.MarkFlagRequired("config")
}

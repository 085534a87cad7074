package main

import (
	"fmt"

	"dashabr/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Load the configuration from defaults, the config file, DASHABR_*
environment variables and flags, validate it, and print the result.

Examples:
  dashabr config
  dashabr --config ./dashabr.yaml config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(viper.GetViper()); err != nil {
			return err
		}
		data, err := config.Dump(viper.GetViper())
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", used)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

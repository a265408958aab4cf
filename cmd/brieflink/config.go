package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/brieflink/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the brieflink configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Long: `Write the default configuration to ~/.brieflink/config.yaml
(or the --config path). An existing file is kept unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = h.ConfigPath()
		}
		if !configForce && cfgFile == "" && h.ConfigExists() {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration the server would load, with defaults and
BRIEFLINK_* environment overrides applied. API keys are shown unresolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		mgr, err := config.NewManager(configPath(h))
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(mgr.Get())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

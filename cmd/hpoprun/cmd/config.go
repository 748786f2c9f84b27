package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/hpoprun/internal/config"
	"github.com/psantana5/hpoprun/pkg/auth"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration",
	}

	var showOutput string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch showOutput {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(a.cfg); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				return writeJSON(cmd.OutOrStdout(), a.cfg)
			default:
				return fmt.Errorf("unknown output format %q (want yaml or json)", showOutput)
			}
		},
	}
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "output format: yaml or json")

	var (
		initPath   string
		force      bool
		withAPIKey bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Init writes the built-in defaults to a YAML file, by default
$HOME/.hpoprun/config.yaml. With --with-api-key it also generates an API key
for "hpoprun serve", stores only its bcrypt hash and prints the key once.`,
		Args: cobra.NoArgs,
		// a broken existing config must not stop us from writing a new one
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if initPath == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("failed to find home directory: %w", err)
				}
				initPath = filepath.Join(home, ".hpoprun", "config.yaml")
			}
			if _, err := os.Stat(initPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", initPath)
			}

			cfg := config.Default()
			if withAPIKey {
				key, hash, err := auth.GenerateAPIKey(0)
				if err != nil {
					return err
				}
				cfg.Serve.APIKeyHash = hash
				fmt.Fprintf(cmd.ErrOrStderr(), "API key (shown once, store it now): %s\n", key)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(initPath), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(initPath, data, 0600); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", initPath)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initPath, "path", "", "where to write the file")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().BoolVar(&withAPIKey, "with-api-key", false, "generate an API key for serve")

	cmd.AddCommand(showCmd, initCmd)
	return cmd
}

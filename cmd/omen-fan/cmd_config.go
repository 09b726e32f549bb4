package main

import (
	"fmt"

	"github.com/omen-fan/omen-fan/pkg/fandconfig"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	cmdConfig.AddCommand(cmdConfigInit)
	cmdConfig.AddCommand(cmdConfigShow)
	rootCmd.AddCommand(cmdConfig)
}

var (
	cmdConfig = &cobra.Command{
		Use:   "config",
		Short: "Manage the omen-fan configuration file",
	}

	cmdConfigInit = &cobra.Command{
		Use:     "init",
		Short:   "Write the default configuration unless one exists",
		Example: "sudo omen-fan config init",
		Args:    cobra.NoArgs,
		// Loading would fail on exactly the files this command is meant to create
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := setupContext(cmd.Context())
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(*cobra.Command, []string) error {
			created, err := fandconfig.EnsureFile(configPath)
			if err != nil {
				return err
			}

			if created {
				fmt.Printf("Wrote default configuration to %s\n", configPath)
			} else {
				fmt.Printf("%s already exists, left unchanged\n", configPath)
			}
			return nil
		},
	}

	cmdConfigShow = &cobra.Command{
		Use:     "show",
		Short:   "Print the effective configuration after defaults and environment overrides",
		Example: "omen-fan config show",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := yaml.Marshal(configFromContext(cmd.Context()))
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
)

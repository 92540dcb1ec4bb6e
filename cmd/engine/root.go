package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag, catalogFlag, outputFlag string

	ctx := newCommandContext(&configFlag, &catalogFlag, &outputFlag)

	rootCmd := &cobra.Command{
		Use:           "engine",
		Short:         "Radiology workflow operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&catalogFlag, "catalog", "", "Catalog file path (overrides the configured one)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "auto", "Output format: auto, table or json")

	rootCmd.AddCommand(newCheckConfigCommand(ctx))
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newTransitionsCommand(ctx))
	rootCmd.AddCommand(newRouteCommand(ctx))
	rootCmd.AddCommand(newCatalogCommand(ctx))

	return rootCmd
}

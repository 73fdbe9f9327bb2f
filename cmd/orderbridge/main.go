package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"orderbridge/internal/buildinfo"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "orderbridge",
		Short:         "Bridge card-payment callbacks and shop orders to the shipping intake",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "optional YAML config file; environment overrides it")

	root.AddCommand(serveCmd())
	root.AddCommand(signCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range []string{"version", "commit", "builtAt", "go"} {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, buildinfo.Info()[k])
			}
			return nil
		},
	}
}

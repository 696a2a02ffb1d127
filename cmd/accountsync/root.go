package main

import (
	"github.com/spf13/cobra"

	"github.com/KOMKZ/go-yogan-accountsync/flagx"
)

type rootOptions struct {
	ConfigDir string `flag:"config" usage:"directory holding config.yaml and <env>.yaml" default:"./configs"`
	EnvPrefix string `flag:"env-prefix" usage:"environment variable prefix that overrides the config files" default:"APP"`
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "accountsync",
		Short:        "Read and watch accounts through the account sync engine",
		SilenceUsage: true,
	}
	// persistent flags are bound on a scratch command and moved over so
	// every subcommand inherits them.
	scratch := &cobra.Command{}
	cobra.CheckErr(flagx.BindFlags(scratch, &rootOptions{}))
	cmd.PersistentFlags().AddFlagSet(scratch.Flags())

	cmd.AddCommand(newFetchCmd(), newWatchCmd(), newHealthCmd())
	return cmd
}

func parseRoot(cmd *cobra.Command) (rootOptions, error) {
	var ro rootOptions
	err := flagx.ParseFlags(cmd, &ro)
	return ro, err
}

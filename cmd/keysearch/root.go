package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// ErrMissingSubcommand is returned when keysearch is invoked without one.
var ErrMissingSubcommand = errors.New("must specify a subcommand")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "keysearch",
		Short:         "Distributed DES key search",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return ErrMissingSubcommand
		},
	}
	root.AddCommand(
		newRunCmd(),
		newEncryptCmd(),
		newDecryptCmd(),
	)
	return root
}

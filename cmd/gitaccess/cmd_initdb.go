package main

import (
	"fmt"

	"github.com/odvcencio/gitaccess/pkg/content/sqlite"
	"github.com/spf13/cobra"
)

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db <path>",
		Short: "Create an empty wiki database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sqlite.Open(cmd.Context(), args[0], sqlite.Options{})
			if err != nil {
				return err
			}
			if err := src.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized wiki database in %s\n", args[0])
			return nil
		},
	}
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/odvcencio/gitaccess/pkg/client"
	"github.com/odvcencio/gitaccess/pkg/object"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var (
		timeout  time.Duration
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Fetch a snapshot from a running server and verify the pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			opts := client.Options{Timeout: timeout, Agent: "gitaccess/" + version}
			if progress {
				opts.Progress = func(msg string) {
					fmt.Fprint(cmd.ErrOrStderr(), strings.ReplaceAll(msg, "\r", "\n"))
				}
			}
			c, err := client.New(args[0], opts)
			if err != nil {
				return err
			}

			start := time.Now()
			refs, err := c.Discover(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s HEAD -> refs/heads/%s\n", color.YellowString(string(refs.Head)), refs.Branch)

			pf, err := c.Fetch(cmd.Context(), []object.Hash{refs.Head}, nil)
			if err != nil {
				return err
			}
			closure, err := client.Verify(pf, refs.Head)
			if err != nil {
				return err
			}
			var size uint64
			for _, e := range pf.Entries {
				size += e.Size
			}
			fmt.Fprintf(out, "%s %d commit(s), %d tree(s), %d blob(s), %s in %s\n",
				color.GreenString("ok"), len(closure.Commits), len(closure.Trees), len(closure.Blobs),
				humanize.Bytes(size), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "HTTP timeout")
	cmd.Flags().BoolVar(&progress, "progress", false, "print server progress to stderr")
	return cmd
}

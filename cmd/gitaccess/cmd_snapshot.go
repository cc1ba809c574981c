package main

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/odvcencio/gitaccess/pkg/object"
	"github.com/odvcencio/gitaccess/pkg/snapshot"
	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "snapshot [marker]",
		Short: "Build the snapshot for a marker and print its commit",
		Long: "Build the snapshot for a marker (latest, <rev> or <rev>/<log>) and print\n" +
			"the commit id and build statistics. With --ls, list every file.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMarker(args)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.asm.Build(cmd.Context(), m)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printResult(out, res)
			if list {
				return listTree(out, e.store, res.Root, "")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "ls", false, "list the files in the snapshot")
	return cmd
}

func printResult(out io.Writer, res *snapshot.Result) {
	st := res.Stats
	fmt.Fprintf(out, "%s %s\n", color.YellowString("commit %s", res.Commit), color.CyanString("(%s)", res.Marker))
	fmt.Fprintf(out, "tree   %s\n", res.Root)
	fmt.Fprintf(out, "date   %s (%s)\n", res.Time.UTC().Format(time.RFC3339), humanize.Time(res.Time))
	fmt.Fprintf(out, "%s in %d namespace(s), %s in %s\n",
		humanize.Comma(int64(st.Pages))+" page(s)", st.Namespaces,
		humanize.Comma(int64(st.Attachments))+" attachment(s)", st.Duration.Round(time.Millisecond))
	skipped := []struct {
		label string
		n     int
	}{
		{"skipped", st.Skipped},
		{"deleted", st.Deleted},
		{"excluded", st.Excluded},
		{"duplicates", st.Duplicates},
		{"renamed dirs", st.Renamed},
		{"missing attachments", st.MissingAttachments},
	}
	for _, s := range skipped {
		if s.n > 0 {
			fmt.Fprintf(out, "  %s: %d\n", color.RedString(s.label), s.n)
		}
	}
}

// listTree prints one line per blob, depth first in tree order.
func listTree(out io.Writer, s object.Store, h object.Hash, prefix string) error {
	tree, err := object.ReadTree(s, h)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		p := path.Join(prefix, e.Name)
		if e.Mode.IsDir() {
			if err := listTree(out, s, e.Target, p); err != nil {
				return err
			}
			continue
		}
		data, err := object.ReadBlob(s, e.Target)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s %8s  %s\n", e.Mode, e.Target[:12], humanize.Bytes(uint64(len(data))), p)
	}
	return nil
}

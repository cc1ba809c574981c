package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/gitaccess/pkg/object"
	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export [marker]",
		Short: "Write the snapshot for a marker as a pack and index",
		Args:  cobra.MaximumNArgs(1),
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
			closure, err := object.ReachableSet(e.store, []object.Hash{res.Commit})
			if err != nil {
				return err
			}

			var pack bytes.Buffer
			pw, sum, err := object.WritePack(&pack, e.store, closure.Ordered())
			if err != nil {
				return err
			}
			var idx bytes.Buffer
			if _, err := object.WritePackIndex(&idx, pw.IndexEntries(), sum); err != nil {
				return err
			}
			if err := checkIndex(idx.Bytes(), sum, closure); err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			base := filepath.Join(outDir, object.PackIndexName(sum))
			if err := os.WriteFile(base+".pack", pack.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write pack: %w", err)
			}
			if err := os.WriteFile(base+".idx", idx.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write index: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d object(s) at %s\n%s\n", res.Commit, closure.Len(), res.Marker, base+".pack")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}

// checkIndex re-reads a freshly written index and confirms it lists exactly
// the objects of closure for the pack with trailer sum.
func checkIndex(data []byte, sum object.Hash, closure *object.Closure) error {
	idx, err := object.ReadPackIndex(data)
	if err != nil {
		return fmt.Errorf("verify index: %w", err)
	}
	if idx.PackChecksum != sum {
		return fmt.Errorf("verify index: pack checksum %s, want %s", idx.PackChecksum, sum)
	}
	if idx.Len() != closure.Len() {
		return fmt.Errorf("verify index: %d object(s), want %d", idx.Len(), closure.Len())
	}
	for _, h := range closure.Ordered() {
		if _, ok := idx.Find(h); !ok {
			return fmt.Errorf("verify index: %s missing", h)
		}
	}
	return nil
}

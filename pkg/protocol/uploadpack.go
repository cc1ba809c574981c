package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/odvcencio/gitaccess/pkg/object"
)

// UploadPackResult summarizes one upload-pack response.
type UploadPackResult struct {
	// Started is set once any byte of the response has been written; after
	// that, errors can only be reported in-band.
	Started  bool
	Common   []object.Hash
	Objects  int
	Bytes    int64
	Checksum object.Hash
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// ServeUploadPack answers a parsed request against the objects in s. Every
// want must be advertised. Haves matching an advertised id are
// acknowledged and their objects left out of the pack. Until the client
// sends "done" only the acknowledgement is written.
func ServeUploadPack(ctx context.Context, w io.Writer, s object.Store, adv Advertisement, req *UploadPackRequest) (*UploadPackResult, error) {
	res := &UploadPackResult{}
	if len(req.Wants) == 0 {
		return res, nil
	}
	for _, want := range req.Wants {
		if !adv.Advertises(want) {
			return res, fmt.Errorf("%w: %s", ErrNotOurRef, want)
		}
	}
	for _, have := range req.Haves {
		if adv.Advertises(have) {
			res.Common = append(res.Common, have)
		}
	}

	closure, err := packClosure(s, req.Wants, res.Common)
	if err != nil {
		return res, err
	}

	cw := &countingWriter{w: w}
	enc := pktline.NewEncoder(cw)
	res.Started = true
	if len(res.Common) > 0 {
		err = enc.Encodef("ACK %s\n", res.Common[0])
	} else {
		err = enc.EncodeString("NAK\n")
	}
	if err != nil {
		return res, fmt.Errorf("write acknowledgement: %w", err)
	}
	if !req.Done && len(res.Common) == 0 {
		return res, nil
	}

	mode := req.SideBand()
	if mode == NoSideBand {
		err = writePack(ctx, cw, s, closure, res)
		res.Bytes = cw.n
		return res, err
	}

	sw := NewSidebandWriter(cw, mode)
	progress := !req.Caps.Has(CapNoProgress)
	if progress {
		if err := sw.WriteProgress(fmt.Sprintf("Counting objects: %d, done.\n", len(closure))); err != nil {
			return res, err
		}
	}
	bw := bufio.NewWriterSize(sw, mode.ChunkSize())
	err = writePack(ctx, bw, s, closure, res)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		// Best effort: the client may already be gone.
		_ = sw.WriteError(err.Error())
		res.Bytes = cw.n
		return res, err
	}
	if progress {
		if err := sw.WriteProgress(fmt.Sprintf("Total %d (delta 0), reused 0 (delta 0)\n", len(closure))); err != nil {
			return res, err
		}
	}
	err = sw.Flush()
	res.Bytes = cw.n
	return res, err
}

// packClosure returns the objects reachable from wants that are not
// reachable from common, in pack order.
func packClosure(s object.Store, wants, common []object.Hash) ([]object.Hash, error) {
	want, err := object.ReachableSet(s, wants)
	if err != nil {
		return nil, fmt.Errorf("enumerate objects: %w", err)
	}
	if len(common) == 0 {
		return want.Ordered(), nil
	}
	have, err := object.ReachableSet(s, common)
	if err != nil {
		return nil, fmt.Errorf("enumerate common objects: %w", err)
	}
	skip := make(map[object.Hash]struct{}, have.Len())
	for _, h := range have.Ordered() {
		skip[h] = struct{}{}
	}
	out := make([]object.Hash, 0, want.Len())
	for _, h := range want.Ordered() {
		if _, ok := skip[h]; !ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func writePack(ctx context.Context, w io.Writer, s object.Store, hashes []object.Hash, res *UploadPackResult) error {
	pw, err := object.NewPackWriter(w, uint32(len(hashes)))
	if err != nil {
		return fmt.Errorf("create pack writer: %w", err)
	}
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pw.WriteObject(s, h); err != nil {
			return err
		}
		res.Objects++
	}
	sum, err := pw.Finish()
	if err != nil {
		return fmt.Errorf("finish pack: %w", err)
	}
	res.Checksum = sum
	return nil
}

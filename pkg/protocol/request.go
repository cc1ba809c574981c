package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/odvcencio/gitaccess/pkg/object"
)

// UploadPackRequest is a decoded stateless upload-pack request body.
type UploadPackRequest struct {
	Wants []object.Hash
	Haves []object.Hash
	// Caps are the capabilities sent on the first want line.
	Caps Capabilities
	// Shallows and Depth are parsed for completeness; a snapshot has no
	// history to cut.
	Shallows []object.Hash
	Depth    string
	Done     bool
}

// SideBand returns the side-band mode the client asked for.
func (r *UploadPackRequest) SideBand() SideBandMode {
	switch {
	case r.Caps.Has(CapSideBand64k):
		return SideBand64k
	case r.Caps.Has(CapSideBand):
		return SideBand
	}
	return NoSideBand
}

// ParseUploadPackRequest reads want/have lines until "done", EOF or the
// end of the body. Flush packets separate sections and are skipped.
func ParseUploadPackRequest(r io.Reader) (*UploadPackRequest, error) {
	req := &UploadPackRequest{Caps: ParseCapabilities("")}
	sc := pktline.NewScanner(r)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		cmd, arg, _ := strings.Cut(string(line), " ")
		switch cmd {
		case "want":
			id, caps, _ := strings.Cut(arg, " ")
			h, err := parseID(cmd, id)
			if err != nil {
				return nil, err
			}
			if len(req.Wants) == 0 {
				req.Caps = ParseCapabilities(caps)
			}
			req.Wants = append(req.Wants, h)
		case "have":
			h, err := parseID(cmd, arg)
			if err != nil {
				return nil, err
			}
			req.Haves = append(req.Haves, h)
		case "shallow":
			h, err := parseID(cmd, arg)
			if err != nil {
				return nil, err
			}
			req.Shallows = append(req.Shallows, h)
		case "deepen", "deepen-since", "deepen-not":
			req.Depth = string(line)
		case "done":
			req.Done = true
			return req, nil
		default:
			return nil, fmt.Errorf("%w: unexpected line %q", ErrMalformedRequest, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return req, nil
}

func parseID(cmd, raw string) (object.Hash, error) {
	h, err := object.ParseHash(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedRequest, cmd, err)
	}
	return h, nil
}

package protocol

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/odvcencio/gitaccess/pkg/object"
)

// Advertisement is the ref list upload-pack announces. A snapshot has
// exactly one ref: the branch, with HEAD pointing at it.
type Advertisement struct {
	Head   object.Hash
	Branch string
	Agent  string
}

// Capabilities returns the capability set sent with the first ref.
func (a Advertisement) Capabilities() Capabilities {
	return ServerCapabilities(a.Branch, a.Agent)
}

// Refs returns the advertised ref names mapped to their ids.
func (a Advertisement) Refs() map[string]object.Hash {
	refs := make(map[string]object.Hash, 2)
	refs["HEAD"] = a.Head
	refs["refs/heads/"+a.Branch] = a.Head
	return refs
}

// Advertises reports whether h is one of the advertised ids.
func (a Advertisement) Advertises(h object.Hash) bool {
	return h == a.Head
}

// WriteServiceHeader writes the "# service=<name>" line and flush that
// open every smart HTTP info/refs response.
func WriteServiceHeader(w io.Writer, service string) error {
	enc := pktline.NewEncoder(w)
	if err := enc.Encodef("# service=%s\n", service); err != nil {
		return fmt.Errorf("write service header: %w", err)
	}
	return enc.Flush()
}

// WriteAdvertisement writes the complete info/refs body for upload-pack.
func WriteAdvertisement(w io.Writer, a Advertisement) error {
	if err := ValidateHash(a.Head); err != nil {
		return fmt.Errorf("advertise: %w", err)
	}
	if err := WriteServiceHeader(w, UploadPack); err != nil {
		return err
	}
	enc := pktline.NewEncoder(w)
	if err := enc.Encodef("%s HEAD\x00%s\n", a.Head, a.Capabilities()); err != nil {
		return fmt.Errorf("advertise HEAD: %w", err)
	}
	if err := enc.Encodef("%s refs/heads/%s\n", a.Head, a.Branch); err != nil {
		return fmt.Errorf("advertise branch: %w", err)
	}
	return enc.Flush()
}

// WriteServiceError answers discovery for a service this server refuses:
// the service header followed by an ERR line.
func WriteServiceError(w io.Writer, service, msg string) error {
	if err := WriteServiceHeader(w, service); err != nil {
		return err
	}
	return WriteError(pktline.NewEncoder(w), msg)
}

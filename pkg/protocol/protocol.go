// Package protocol implements the server side of Git's smart HTTP
// upload-pack exchange (protocol v0): ref advertisement, want/have request
// parsing, acknowledgements, side-band multiplexing and pack streaming.
package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/odvcencio/gitaccess/pkg/object"
)

// Service names as they appear in the ?service= parameter and URL paths.
const (
	UploadPack  = "git-upload-pack"
	ReceivePack = "git-receive-pack"
)

var (
	// ErrUnsupportedService is returned for any service other than
	// git-upload-pack. Pushing is never possible.
	ErrUnsupportedService = errors.New("protocol: unsupported service")
	// ErrMalformedRequest reports an upload-pack request that does not
	// follow the pkt-line grammar.
	ErrMalformedRequest = errors.New("protocol: malformed request")
	// ErrNotOurRef reports a want for an object that was not advertised.
	ErrNotOurRef = errors.New("protocol: not our ref")
)

// Capability names this server understands.
const (
	CapSideBand    = "side-band"
	CapSideBand64k = "side-band-64k"
	CapNoProgress  = "no-progress"
	CapSymref      = "symref"
	CapAgent       = "agent"
)

// CheckService maps a service name to an error: nil for upload-pack,
// ErrUnsupportedService for anything else.
func CheckService(name string) error {
	if name == UploadPack {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedService, name)
}

// ValidateHash checks that h is a 40-character lowercase hex SHA-1.
func ValidateHash(h object.Hash) error {
	s := strings.TrimSpace(string(h))
	if s == "" {
		return fmt.Errorf("hash is empty")
	}
	if _, err := object.ParseHash(s); err != nil {
		return err
	}
	return nil
}

// Capabilities is a set of protocol capabilities. Capabilities of the form
// name=value keep their value.
type Capabilities struct {
	set map[string]string
}

// ParseCapabilities parses a space-separated capability list.
func ParseCapabilities(raw string) Capabilities {
	caps := Capabilities{set: make(map[string]string)}
	for _, c := range strings.Fields(raw) {
		name, value, _ := strings.Cut(c, "=")
		caps.set[name] = value
	}
	return caps
}

// Has returns true if the capability is present.
func (c Capabilities) Has(name string) bool {
	_, ok := c.set[name]
	return ok
}

// Value returns the value of a name=value capability.
func (c Capabilities) Value(name string) string {
	return c.set[name]
}

// Intersect returns the capabilities of c whose names also appear in
// other. Values are taken from c.
func (c Capabilities) Intersect(other Capabilities) Capabilities {
	result := Capabilities{set: make(map[string]string)}
	for k, v := range c.set {
		if _, ok := other.set[k]; ok {
			result.set[k] = v
		}
	}
	return result
}

// String returns the capabilities sorted and space-separated.
func (c Capabilities) String() string {
	names := make([]string, 0, len(c.set))
	for k, v := range c.set {
		if v != "" {
			k += "=" + v
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// ServerCapabilities returns what upload-pack advertises: side-band in both
// sizes, no-progress, the HEAD symref and an agent string.
func ServerCapabilities(branch, agent string) Capabilities {
	return Capabilities{set: map[string]string{
		CapSideBand:    "",
		CapSideBand64k: "",
		CapNoProgress:  "",
		CapSymref:      "HEAD:refs/heads/" + branch,
		CapAgent:       agent,
	}}
}

// WriteError writes an "ERR <msg>" pkt-line. Git clients print the message
// and stop.
func WriteError(enc *pktline.Encoder, msg string) error {
	return enc.Encodef("ERR %s\n", msg)
}

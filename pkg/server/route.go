package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/protocol"
)

// ErrMalformedRequest reports a path or query that is not a Git request
// this server understands.
var ErrMalformedRequest = errors.New("server: malformed request")

// Endpoint is what a request path asks for.
type Endpoint int

const (
	// EndpointInfo is the informational page: no path, no service.
	EndpointInfo Endpoint = iota
	// EndpointDumb is info/refs without a service parameter.
	EndpointDumb
	EndpointInfoRefs
	EndpointUploadPack
	EndpointReceivePack
)

func (e Endpoint) String() string {
	switch e {
	case EndpointInfo:
		return "info"
	case EndpointDumb:
		return "dumb"
	case EndpointInfoRefs:
		return "info/refs"
	case EndpointUploadPack:
		return protocol.UploadPack
	case EndpointReceivePack:
		return protocol.ReceivePack
	}
	return fmt.Sprintf("endpoint(%d)", int(e))
}

// Route is a parsed request path. A zero Marker means the latest state.
type Route struct {
	Endpoint Endpoint
	Marker   content.Marker
	// Service is the service the request names, from the query for
	// info/refs or from the path for POSTs.
	Service string
}

// ParseRoute parses the path below the mount point:
//
//	[<marker>]/info/refs?service=<service>
//	[<marker>]/git-upload-pack
//	[<marker>]/git-receive-pack
//
// where marker is empty, "latest", "<rev>" or "<rev>/<log>", optionally
// followed by ".git". Requests naming git-receive-pack are recognized
// before the marker is parsed so they are refused whatever the marker.
func ParseRoute(path, service string) (Route, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		if service != "" {
			return Route{}, fmt.Errorf("%w: service %q without a path", ErrMalformedRequest, service)
		}
		return Route{Endpoint: EndpointInfo}, nil
	}

	var r Route
	var rest []string
	switch n := len(segs); {
	case n >= 2 && segs[n-2] == "info" && segs[n-1] == "refs":
		rest = segs[:n-2]
		r.Service = service
		switch service {
		case "":
			r.Endpoint = EndpointDumb
		case protocol.ReceivePack:
			r.Endpoint = EndpointReceivePack
		default:
			r.Endpoint = EndpointInfoRefs
		}
	case segs[n-1] == protocol.UploadPack:
		rest = segs[:n-1]
		r.Endpoint, r.Service = EndpointUploadPack, protocol.UploadPack
	case segs[n-1] == protocol.ReceivePack:
		rest = segs[:n-1]
		r.Endpoint, r.Service = EndpointReceivePack, protocol.ReceivePack
	default:
		return Route{}, fmt.Errorf("%w: %q is not a Git endpoint", ErrMalformedRequest, path)
	}
	if r.Endpoint == EndpointReceivePack {
		return r, nil
	}

	m, err := ParseMarker(rest)
	if err != nil {
		return Route{}, err
	}
	r.Marker = m
	return r, nil
}

// ParseMarker parses marker path segments. No segments, "latest" and a
// bare ".git" all mean the latest state.
func ParseMarker(segs []string) (content.Marker, error) {
	if len(segs) > 0 {
		last := len(segs) - 1
		segs = append([]string(nil), segs...)
		segs[last] = strings.TrimSuffix(segs[last], ".git")
		if segs[last] == "" {
			segs = segs[:last]
		}
	}
	switch len(segs) {
	case 0:
		return content.Marker{}, nil
	case 1:
		if segs[0] == "latest" {
			return content.Marker{}, nil
		}
		rev, err := parseID("revision", segs[0])
		if err != nil {
			return content.Marker{}, err
		}
		return content.Marker{RevID: rev}, nil
	case 2:
		rev, err := parseID("revision", segs[0])
		if err != nil {
			return content.Marker{}, err
		}
		log, err := parseID("log", segs[1])
		if err != nil {
			return content.Marker{}, err
		}
		return content.Marker{RevID: rev, LogID: log}, nil
	}
	return content.Marker{}, fmt.Errorf("%w: marker %q has too many segments", ErrMalformedRequest, strings.Join(segs, "/"))
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s id %q", ErrMalformedRequest, kind, s)
	}
	return id, nil
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Package client fetches snapshots from a gitaccess server over the smart
// HTTP protocol. It speaks only what the server offers: one advertisement
// and a single-round upload-pack with side-band-64k.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/odvcencio/gitaccess/pkg/object"
	"github.com/odvcencio/gitaccess/pkg/protocol"
)

// Response limits per endpoint type.
const (
	responseLimitError = 64 << 10
	responseLimitRefs  = 1 << 20
	responseLimitPack  = 1 << 30
)

// ErrProtocol reports a response that does not follow the protocol.
var ErrProtocol = errors.New("client: protocol error")

// RemoteError is a failure reported by the server, either as an HTTP
// status or as an ERR packet.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("remote error (%d %s): %s", e.Status, http.StatusText(e.Status), e.Message)
	}
	return "remote error: " + e.Message
}

// Endpoint identifies one repository URL, for example
// https://host/wiki/1234.git. BaseURL has no trailing slash and no
// credentials.
type Endpoint struct {
	Raw     string
	BaseURL string
	user    string
	pass    string
}

// ParseEndpoint parses a repository URL. Credentials in the userinfo are
// kept for basic authentication and stripped from BaseURL.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("repository URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse repository URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("repository URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("repository URL must include a host")
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	base := *u
	base.User = nil
	base.RawQuery = ""
	base.Fragment = ""
	return Endpoint{
		Raw:     raw,
		BaseURL: strings.TrimRight(base.String(), "/"),
		user:    user,
		pass:    pass,
	}, nil
}

// Options configures a Client.
type Options struct {
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // retry attempts (default 3)
	Backoff     time.Duration // first retry delay (default 1s)
	Agent       string
	// Progress receives side-band progress messages. When nil the client
	// asks the server not to send any.
	Progress func(string)
}

// Client fetches from one repository endpoint.
type Client struct {
	endpoint    Endpoint
	httpClient  *http.Client
	user        string
	pass        string
	maxAttempts int
	backoff     time.Duration
	agent       string
	progress    func(string)
}

// New creates a client for rawURL.
//
// Auth resolution order:
// 1) GITACCESS_USERNAME + GITACCESS_PASSWORD (Basic)
// 2) URL userinfo (Basic)
func New(rawURL string, opts Options) (*Client, error) {
	endpoint, err := ParseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Agent == "" {
		opts.Agent = "gitaccess-client"
	}

	user := strings.TrimSpace(os.Getenv("GITACCESS_USERNAME"))
	pass := os.Getenv("GITACCESS_PASSWORD")
	if user == "" && endpoint.user != "" {
		user = endpoint.user
		pass = endpoint.pass
	}

	return &Client{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		user:        user,
		pass:        pass,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		agent:       opts.Agent,
		progress:    opts.Progress,
	}, nil
}

// Endpoint returns the parsed endpoint.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Refs is a parsed ref advertisement.
type Refs struct {
	Head   object.Hash
	Branch string
	Caps   protocol.Capabilities
	Refs   map[string]object.Hash
}

// Discover fetches the upload-pack ref advertisement.
func (c *Client) Discover(ctx context.Context) (*Refs, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint.BaseURL+"/info/refs?service="+protocol.UploadPack, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req, responseLimitRefs, "application/x-git-upload-pack-advertisement")
	if err != nil {
		return nil, err
	}
	return ParseAdvertisement(bytes.NewReader(body))
}

// ParseAdvertisement decodes a smart HTTP upload-pack advertisement: the
// service header, a flush, the ref lines and a closing flush.
func ParseAdvertisement(r io.Reader) (*Refs, error) {
	sc := pktline.NewScanner(r)
	line, err := nextLine(sc)
	if err != nil {
		return nil, err
	}
	if want := "# service=" + protocol.UploadPack; line != want {
		return nil, fmt.Errorf("%w: service header %q", ErrProtocol, line)
	}
	if line, err = nextLine(sc); err != nil {
		return nil, err
	}
	if line != "" {
		return nil, fmt.Errorf("%w: missing flush after service header", ErrProtocol)
	}

	out := &Refs{Refs: make(map[string]object.Hash)}
	for first := true; ; first = false {
		line, err := nextLine(sc)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		if first {
			var caps string
			line, caps, _ = strings.Cut(line, "\x00")
			out.Caps = protocol.ParseCapabilities(caps)
		}
		id, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%w: ref line %q", ErrProtocol, line)
		}
		h := object.Hash(id)
		if err := protocol.ValidateHash(h); err != nil {
			return nil, fmt.Errorf("%w: ref %s: %v", ErrProtocol, name, err)
		}
		out.Refs[name] = h
	}

	out.Head = out.Refs["HEAD"]
	if target, ok := strings.CutPrefix(out.Caps.Value(protocol.CapSymref), "HEAD:"); ok {
		out.Branch = strings.TrimPrefix(target, "refs/heads/")
	}
	if out.Head == "" {
		return nil, fmt.Errorf("%w: no HEAD advertised", ErrProtocol)
	}
	return out, nil
}

// Fetch requests the objects reachable from wants and not from haves and
// returns the decoded pack. haves the server does not know are ignored.
func (c *Client) Fetch(ctx context.Context, wants, haves []object.Hash) (*object.PackFile, error) {
	if len(wants) == 0 {
		return nil, fmt.Errorf("at least one want hash is required")
	}
	body, err := c.uploadPackRequest(wants, haves)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/"+protocol.UploadPack, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-git-upload-pack-request")
	req.Header.Set("Accept", "application/x-git-upload-pack-result")

	resp, err := c.send(req, "application/x-git-upload-pack-result")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	r := io.LimitReader(resp.Body, responseLimitPack)

	// One ACK or NAK precedes the side-band stream.
	sc := pktline.NewScanner(r)
	line, err := nextLine(sc)
	if err != nil {
		return nil, err
	}
	if line != "NAK" && !strings.HasPrefix(line, "ACK ") {
		return nil, fmt.Errorf("%w: expected ACK or NAK, got %q", ErrProtocol, line)
	}
	return object.ReadPackFromReader(protocol.NewSidebandDataReader(r, c.progress))
}

func (c *Client) uploadPackRequest(wants, haves []object.Hash) ([]byte, error) {
	caps := []string{protocol.CapSideBand64k, protocol.CapAgent + "=" + c.agent}
	if c.progress == nil {
		caps = append(caps, protocol.CapNoProgress)
	}

	var buf bytes.Buffer
	enc := pktline.NewEncoder(&buf)
	for i, h := range wants {
		if err := protocol.ValidateHash(h); err != nil {
			return nil, fmt.Errorf("want: %w", err)
		}
		var err error
		if i == 0 {
			err = enc.Encodef("want %s %s\n", h, strings.Join(caps, " "))
		} else {
			err = enc.Encodef("want %s\n", h)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	for _, h := range haves {
		if err := protocol.ValidateHash(h); err != nil {
			return nil, fmt.Errorf("have: %w", err)
		}
		if err := enc.Encodef("have %s\n", h); err != nil {
			return nil, err
		}
	}
	if err := enc.EncodeString("done\n"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// do sends req and reads the whole body.
func (c *Client) do(req *http.Request, maxBytes int64, contentType string) ([]byte, error) {
	resp, err := c.send(req, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxBytes))
}

// send applies auth, retries, and checks the status and content type. On
// success the caller owns the response body.
func (c *Client) send(req *http.Request, contentType string) (*http.Response, error) {
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	req.Header.Set("User-Agent", "git/2.0 ("+c.agent+")")
	resp, err := retryDo(c.httpClient, req, c.maxAttempts, c.backoff)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, responseLimitError))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}
	if ct := resp.Header.Get("Content-Type"); ct != contentType {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected content type %q (expected %s) from %s %s",
			ErrProtocol, ct, contentType, req.Method, req.URL.Path)
	}
	return resp, nil
}

// nextLine returns the next packet without its trailing newline; a flush
// is returned as "". ERR packets become *RemoteError.
func nextLine(sc *pktline.Scanner) (string, error) {
	if !sc.Scan() {
		var errLine *pktline.ErrorLine
		if err := sc.Err(); errors.As(err, &errLine) {
			return "", &RemoteError{Status: http.StatusOK, Message: errLine.Text}
		} else if err != nil {
			return "", fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return "", fmt.Errorf("%w: unexpected end of response", ErrProtocol)
	}
	line := strings.TrimSuffix(string(sc.Bytes()), "\n")
	if msg, ok := strings.CutPrefix(line, "ERR "); ok {
		return "", &RemoteError{Status: http.StatusOK, Message: msg}
	}
	return line, nil
}

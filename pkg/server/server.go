// Package server exposes wiki snapshots over Git's smart HTTP protocol.
// Only fetching is supported: upload-pack discovery and negotiation are
// served, receive-pack is always refused.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/protocol"
	"golang.org/x/time/rate"
)

const (
	DefaultBranch          = "main"
	DefaultAgent           = "gitaccess/dev"
	DefaultMaxRequestBytes = 10 << 20
)

const readOnlyMessage = "pushing is not supported: this repository is a read-only view of the wiki"

// Options configures a Service.
type Options struct {
	// MountPath is the URL prefix the service answers under.
	MountPath string
	Branch    string
	Agent     string
	// MaxRequestBytes bounds an upload-pack request body after decoding.
	MaxRequestBytes int64
	// RequestsPerSecond enables a global rate limit when positive.
	RequestsPerSecond float64
	Burst             int
	// Authorizer, when set, guards every request.
	Authorizer Authorizer
	Logger     *slog.Logger
}

// Service is an http.Handler serving snapshots read-only.
type Service struct {
	snaps   *Snapshots
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

// New returns a Service answering from snaps.
func New(snaps *Snapshots, opts Options) *Service {
	opts.MountPath = "/" + strings.Trim(opts.MountPath, "/")
	if opts.Branch == "" {
		opts.Branch = DefaultBranch
	}
	if opts.Agent == "" {
		opts.Agent = DefaultAgent
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{snaps: snaps, opts: opts, log: opts.Logger}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return s
}

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (s *Service) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := uuid.NewString()
	log := s.log.With("request_id", id)
	w := &statusWriter{ResponseWriter: rw}
	w.Header().Set("X-Request-Id", id)
	defer func() {
		log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", w.status,
			"bytes", w.bytes,
			"duration", time.Since(start),
		)
	}()

	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		textError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
		return
	}

	rest, ok := s.stripMount(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if s.opts.Authorizer != nil {
		user, err := s.opts.Authorizer.Authorize(r)
		if err != nil {
			log.Info("request not authorized", "error", err)
			w.Header().Set("WWW-Authenticate", s.opts.Authorizer.Challenge())
			textError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		log = log.With("user", user)
	}

	sess := newSession(log)
	route, err := ParseRoute(rest, r.URL.Query().Get("service"))
	if err != nil {
		sess.reject(err)
		textError(w, http.StatusBadRequest, err.Error()+"\n\n"+usage)
		return
	}
	log = log.With("endpoint", route.Endpoint.String(), "marker", route.Marker.String())
	sess.log = log

	switch route.Endpoint {
	case EndpointInfo:
		if !allowMethod(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		s.handleInfo(w, r)
	case EndpointDumb:
		if !allowMethod(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		sess.reject(ErrMalformedRequest)
		textError(w, http.StatusForbidden, "dumb HTTP access is not supported: use a Git client that speaks the smart HTTP protocol")
	case EndpointInfoRefs:
		if !allowMethod(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		s.handleInfoRefs(w, r, route, sess)
	case EndpointUploadPack:
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		s.handleUploadPack(w, r, route, sess)
	case EndpointReceivePack:
		s.handleReceivePack(w, r, sess)
	}
}

func (s *Service) stripMount(p string) (string, bool) {
	if s.opts.MountPath == "/" {
		return p, true
	}
	rest, ok := strings.CutPrefix(p, s.opts.MountPath)
	if !ok {
		return "", false
	}
	if rest != "" && rest[0] != '/' && !strings.HasPrefix(rest, ".git") {
		return "", false
	}
	return rest, true
}

func (s *Service) handleInfoRefs(w http.ResponseWriter, r *http.Request, route Route, sess *session) {
	if err := protocol.CheckService(route.Service); err != nil {
		sess.reject(err)
		textError(w, http.StatusForbidden, fmt.Sprintf("service %q is not supported", route.Service))
		return
	}
	if err := sess.advance(AdvertisingRefs); err != nil {
		textError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entry, err := s.snaps.Get(r.Context(), route.Marker)
	if err != nil {
		sess.reject(err)
		s.snapshotError(w, sess, route, err)
		return
	}

	noCache(w)
	w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
	adv := protocol.Advertisement{Head: entry.Commit, Branch: s.opts.Branch, Agent: s.opts.Agent}
	if err := protocol.WriteAdvertisement(w, adv); err != nil {
		sess.reject(err)
		sess.log.Warn("writing advertisement failed", "error", err)
		return
	}
	_ = sess.advance(Done)
}

func (s *Service) handleUploadPack(w http.ResponseWriter, r *http.Request, route Route, sess *session) {
	if err := sess.advance(NegotiatingWants); err != nil {
		textError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body, err := requestBody(w, r, s.opts.MaxRequestBytes)
	if err != nil {
		sess.reject(err)
		textError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer body.Close()

	noCache(w)
	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")

	req, err := protocol.ParseUploadPackRequest(body)
	if err != nil {
		sess.reject(err)
		pktError(w, sess, err.Error())
		return
	}
	entry, err := s.snaps.Get(r.Context(), route.Marker)
	if err != nil {
		sess.reject(err)
		pktError(w, sess, fmt.Sprintf("snapshot %s: %v", route.Marker, err))
		return
	}

	if req.Done && len(req.Wants) > 0 {
		if err := sess.advance(StreamingPack); err != nil {
			pktError(w, sess, err.Error())
			return
		}
	}
	adv := protocol.Advertisement{Head: entry.Commit, Branch: s.opts.Branch, Agent: s.opts.Agent}
	res, err := protocol.ServeUploadPack(r.Context(), w, s.snaps.Assembler().Store(), adv, req)
	if err != nil {
		sess.reject(err)
		if !res.Started {
			pktError(w, sess, err.Error())
			return
		}
		sess.log.Warn("pack stream failed", "error", err, "objects", res.Objects)
		return
	}
	sess.log.Debug("upload-pack served",
		"wants", len(req.Wants),
		"haves", len(req.Haves),
		"objects", res.Objects,
		"pack_bytes", res.Bytes,
	)
	_ = sess.advance(Done)
}

func (s *Service) handleReceivePack(w http.ResponseWriter, r *http.Request, sess *session) {
	sess.reject(protocol.ErrUnsupportedService)
	noCache(w)
	w.Header().Set("Connection", "close")
	if r.Method == http.MethodPost {
		w.Header().Set("Content-Type", "application/x-git-receive-pack-result")
		pktError(w, sess, readOnlyMessage)
		return
	}
	w.Header().Set("Content-Type", "application/x-git-receive-pack-advertisement")
	if err := protocol.WriteServiceError(w, protocol.ReceivePack, readOnlyMessage); err != nil {
		sess.log.Warn("writing receive-pack refusal failed", "error", err)
	}
}

func (s *Service) snapshotError(w http.ResponseWriter, sess *session, route Route, err error) {
	switch {
	case errors.Is(err, content.ErrNotFound):
		textError(w, http.StatusNotFound, fmt.Sprintf("no wiki state at %s: %v", route.Marker, err))
	case errors.Is(err, context.Canceled):
		sess.log.Info("client went away during snapshot build")
	default:
		sess.log.Error("snapshot build failed", "error", err)
		textError(w, http.StatusInternalServerError, "snapshot build failed")
	}
}

// requestBody limits and, for gzip Content-Encoding, decompresses the
// request body.
func requestBody(w http.ResponseWriter, r *http.Request, limit int64) (io.ReadCloser, error) {
	body := http.MaxBytesReader(w, r.Body, limit)
	switch enc := r.Header.Get("Content-Encoding"); enc {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip body: %v", ErrMalformedRequest, err)
		}
		return &limitedGzip{zr: zr, r: io.LimitReader(zr, limit), body: body}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported Content-Encoding %q", ErrMalformedRequest, enc)
	}
}

type limitedGzip struct {
	zr   *gzip.Reader
	r    io.Reader
	body io.ReadCloser
}

func (g *limitedGzip) Read(p []byte) (int, error) { return g.r.Read(p) }

func (g *limitedGzip) Close() error {
	g.zr.Close()
	return g.body.Close()
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	textError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func noCache(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Expires", "Fri, 01 Jan 1980 00:00:00 GMT")
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache, max-age=0, must-revalidate")
}

func textError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	fmt.Fprintln(w, msg)
}

func pktError(w io.Writer, sess *session, msg string) {
	if err := protocol.WriteError(pktline.NewEncoder(w), msg); err != nil {
		sess.log.Warn("writing ERR packet failed", "error", err)
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr, "mount_path", s.opts.MountPath)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

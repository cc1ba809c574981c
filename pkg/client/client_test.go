package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/gitaccess/pkg/client"
	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/object"
	"github.com/odvcencio/gitaccess/pkg/server"
	"github.com/odvcencio/gitaccess/pkg/snapshot"
)

func at(minute int) time.Time {
	return time.Date(2024, 3, 1, 12, minute, 0, 0, time.UTC)
}

func newServer(t *testing.T, opts server.Options) *httptest.Server {
	t.Helper()
	src := content.NewMemorySource(content.DefaultNamespaces())
	src.Edit(1, content.NSMain, "Guide", 1, at(1), "text/x-wiki", "Welcome to the guide.")
	src.Edit(2, content.NSHelp, "Setup", 2, at(2), "text/x-wiki", "== Setup ==")
	src.Edit(1, content.NSMain, "Guide", 3, at(3), "text/x-wiki", "Welcome to the new guide.")

	asm, err := snapshot.NewAssembler(src, object.NewMemoryStore(), snapshot.DefaultOptions())
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	opts.MountPath = "/wiki"
	srv := httptest.NewServer(server.New(server.NewSnapshots(asm, nil, "", nil), opts))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string, opts client.Options) *client.Client {
	t.Helper()
	opts.Backoff = time.Millisecond
	c, err := client.New(url, opts)
	if err != nil {
		t.Fatalf("New(%q): %v", url, err)
	}
	return c
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantBase   string
		shouldFail bool
	}{
		{name: "plain", in: "https://example.com/wiki.git", wantBase: "https://example.com/wiki.git"},
		{name: "marker", in: "http://example.com/wiki/12/3.git/", wantBase: "http://example.com/wiki/12/3.git"},
		{name: "credentials stripped", in: "https://bob:pw@example.com/wiki", wantBase: "https://example.com/wiki"},
		{name: "no scheme", in: "example.com/wiki", shouldFail: true},
		{name: "ssh", in: "ssh://example.com/wiki", shouldFail: true},
		{name: "empty", in: " ", shouldFail: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ep, err := client.ParseEndpoint(tc.in)
			if tc.shouldFail {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint: %v", err)
			}
			if ep.BaseURL != tc.wantBase {
				t.Fatalf("BaseURL = %q, want %q", ep.BaseURL, tc.wantBase)
			}
		})
	}
}

func TestDiscoverAndFetch(t *testing.T) {
	srv := newServer(t, server.Options{Branch: "wiki"})
	c := newClient(t, srv.URL+"/wiki.git", client.Options{})
	ctx := context.Background()

	refs, err := c.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if refs.Branch != "wiki" || refs.Refs["refs/heads/wiki"] != refs.Head {
		t.Fatalf("refs = %+v", refs)
	}
	if !refs.Caps.Has("side-band-64k") {
		t.Fatalf("caps = %s", refs.Caps)
	}

	pf, err := c.Fetch(ctx, []object.Hash{refs.Head}, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	closure, err := client.Verify(pf, refs.Head)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(closure.Commits) != 1 || len(closure.Blobs) != 2 {
		t.Fatalf("closure = %d commits, %d blobs", len(closure.Commits), len(closure.Blobs))
	}
}

func TestFetchReportsProgress(t *testing.T) {
	srv := newServer(t, server.Options{})
	var msgs []string
	c := newClient(t, srv.URL+"/wiki/2.git", client.Options{Progress: func(s string) { msgs = append(msgs, s) }})
	refs, err := c.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := c.Fetch(context.Background(), []object.Hash{refs.Head}, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	joined := strings.Join(msgs, "")
	if !strings.Contains(joined, "Counting objects") || !strings.Contains(joined, "Total ") {
		t.Fatalf("progress = %q", joined)
	}
}

func TestFetchSkipsCommonObjects(t *testing.T) {
	srv := newServer(t, server.Options{})
	ctx := context.Background()

	old := newClient(t, srv.URL+"/wiki/1.git", client.Options{})
	oldRefs, err := old.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover old: %v", err)
	}
	latest := newClient(t, srv.URL+"/wiki.git", client.Options{})
	refs, err := latest.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover latest: %v", err)
	}

	full, err := latest.Fetch(ctx, []object.Hash{refs.Head}, nil)
	if err != nil {
		t.Fatalf("full Fetch: %v", err)
	}
	// Only the commit being fetched is advertised, so the old head is not
	// common and the server sends everything.
	again, err := latest.Fetch(ctx, []object.Hash{refs.Head}, []object.Hash{oldRefs.Head})
	if err != nil {
		t.Fatalf("Fetch with unknown have: %v", err)
	}
	if len(again.Entries) != len(full.Entries) {
		t.Fatalf("entries = %d, want %d", len(again.Entries), len(full.Entries))
	}
	// Having the advertised head leaves nothing to send.
	none, err := latest.Fetch(ctx, []object.Hash{refs.Head}, []object.Hash{refs.Head})
	if err != nil {
		t.Fatalf("Fetch with common have: %v", err)
	}
	if len(none.Entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(none.Entries))
	}
}

func TestRemoteErrors(t *testing.T) {
	srv := newServer(t, server.Options{})
	ctx := context.Background()

	_, err := newClient(t, srv.URL+"/wiki/99.git", client.Options{}).Discover(ctx)
	var re *client.RemoteError
	if !errors.As(err, &re) || re.Status != http.StatusNotFound {
		t.Fatalf("unknown marker: err = %v", err)
	}

	c := newClient(t, srv.URL+"/wiki.git", client.Options{})
	_, err = c.Fetch(ctx, []object.Hash{"3b18e512dba79e4c8300dd08aeb37f8e728b8dad"}, nil)
	if !errors.As(err, &re) || !strings.Contains(re.Message, "not our ref") {
		t.Fatalf("unadvertised want: err = %v", err)
	}

	if _, err := c.Fetch(ctx, nil, nil); err == nil {
		t.Fatal("Fetch without wants: expected error")
	}
}

func TestBasicAuthFromURL(t *testing.T) {
	hash, err := server.HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	srv := newServer(t, server.Options{Authorizer: &server.BasicAuth{Users: map[string]string{"alice": hash}}})
	ctx := context.Background()

	_, err = newClient(t, srv.URL+"/wiki.git", client.Options{}).Discover(ctx)
	var re *client.RemoteError
	if !errors.As(err, &re) || re.Status != http.StatusUnauthorized {
		t.Fatalf("anonymous: err = %v", err)
	}

	authed := strings.Replace(srv.URL, "http://", "http://alice:secret@", 1) + "/wiki.git"
	if _, err := newClient(t, authed, client.Options{}).Discover(ctx); err != nil {
		t.Fatalf("with credentials: %v", err)
	}
}

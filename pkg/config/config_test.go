package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/snapshot"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "main", cfg.Commit.Branch)
	require.Equal(t, "memory", cfg.Cache.Kind)
	require.Equal(t, string(snapshot.CollisionRename), cfg.Snapshot.Collision)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "gitaccess.toml", `
listen = "127.0.0.1:9000"
mount_path = "/wiki"

[source]
driver = "sqlite"
dsn = "/srv/wiki.db"
files_dir = "/srv/images"

[snapshot]
collision = "error"
exclude = ["Sandbox/**"]
workers = 2

[snapshot.namespaces]
Talk = true
User = false

[cache]
kind = "disk"
dir = "/var/cache/gitaccess"

[auth.users]
alice = "$2a$10$abc"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "127.0.0.1:9000", cfg.Listen)
	require.Equal(t, "/wiki", cfg.MountPath)
	require.Equal(t, "/srv/images", cfg.Source.FilesDir)
	require.Equal(t, []string{"Sandbox/**"}, cfg.Snapshot.Exclude)
	require.Equal(t, map[string]bool{"Talk": true, "User": false}, cfg.Snapshot.Namespaces)
	require.Equal(t, "disk", cfg.Cache.Kind)
	require.Equal(t, "$2a$10$abc", cfg.Auth.Users["alice"])
	// Unset keys keep their defaults.
	require.Equal(t, "main", cfg.Commit.Branch)
	require.Equal(t, "Media", cfg.Snapshot.AttachmentDir)

	opts := cfg.SnapshotOptions(nil)
	require.Equal(t, snapshot.CollisionFail, opts.Collision)
	require.Equal(t, 2, opts.Workers)
	require.Equal(t, content.NSFile, opts.AttachmentNamespace)
	require.Equal(t, snapshot.DefaultMessage, opts.Commit.Message)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "gitaccess.yaml", `
listen: ":7000"
commit:
  branch: wiki
  author_name: Wiki Bot
limits:
  requests_per_second: 5
  burst: 10
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":7000", cfg.Listen)
	require.Equal(t, "wiki", cfg.Commit.Branch)
	require.Equal(t, "Wiki Bot", cfg.Commit.AuthorName)
	require.Equal(t, "mediawiki@localhost", cfg.Commit.AuthorEmail)
	require.Equal(t, 5.0, cfg.Limits.RequestsPerSecond)
	require.Equal(t, 10, cfg.Limits.Burst)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "a.toml", "listne = \":1\"\n"))
	require.ErrorContains(t, err, "unknown key")

	_, err = Load(writeFile(t, "a.yml", "listne: \":1\"\n"))
	require.Error(t, err)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	_, err := Load(writeFile(t, "a.json", "{}"))
	require.ErrorContains(t, err, "unsupported format")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GITACCESS_LISTEN", ":9999")
	t.Setenv("GITACCESS_SOURCE_DRIVER", "demo")
	t.Setenv("GITACCESS_WORKERS", "3")
	t.Setenv("GITACCESS_STRICT", "true")
	t.Setenv("GITACCESS_RATE_LIMIT", "2.5")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, ":9999", cfg.Listen)
	require.Equal(t, "demo", cfg.Source.Driver)
	require.Equal(t, 3, cfg.Snapshot.Workers)
	require.True(t, cfg.Snapshot.Strict)
	require.Equal(t, 2.5, cfg.Limits.RequestsPerSecond)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("GITACCESS_WORKERS", "many")
	require.ErrorContains(t, Default().ApplyEnv(), "GITACCESS_WORKERS")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.MountPath = "wiki"
	cfg.Source.Driver = "postgres"
	cfg.Snapshot.Collision = "merge"
	cfg.Snapshot.MainDir = "a/b"
	cfg.Commit.Branch = "bad branch"
	cfg.Cache.Kind = "disk"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mount_path", "source.driver", "collision policy", "main_dir", "commit.branch", "cache.dir", "log.format"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := Log{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.HasPrefix(out, "{"))
	require.Contains(t, out, `"msg":"shown"`)

	_, err = Log{Level: "loud", Format: "text"}.NewLogger(&buf)
	require.Error(t, err)
}

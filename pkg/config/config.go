// Package config loads the service configuration from a TOML or YAML file
// with GITACCESS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/snapshot"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Listen    string   `toml:"listen" yaml:"listen"`
	MountPath string   `toml:"mount_path" yaml:"mount_path"`
	Source    Source   `toml:"source" yaml:"source"`
	Snapshot  Snapshot `toml:"snapshot" yaml:"snapshot"`
	Commit    Commit   `toml:"commit" yaml:"commit"`
	Cache     Cache    `toml:"cache" yaml:"cache"`
	Limits    Limits   `toml:"limits" yaml:"limits"`
	Auth      Auth     `toml:"auth" yaml:"auth"`
	Log       Log      `toml:"log" yaml:"log"`
}

// Source selects the wiki database.
type Source struct {
	// Driver is "sqlite" or "demo" (a small built-in wiki).
	Driver   string `toml:"driver" yaml:"driver"`
	DSN      string `toml:"dsn" yaml:"dsn"`
	FilesDir string `toml:"files_dir" yaml:"files_dir"`
}

// Snapshot configures tree assembly.
type Snapshot struct {
	RootNamespace       int    `toml:"root_namespace" yaml:"root_namespace"`
	AttachmentNamespace int    `toml:"attachment_namespace" yaml:"attachment_namespace"`
	AttachmentDir       string `toml:"attachment_dir" yaml:"attachment_dir"`
	MainDir             string `toml:"main_dir" yaml:"main_dir"`
	// Namespaces overrides inclusion by canonical namespace name.
	Namespaces map[string]bool `toml:"namespaces" yaml:"namespaces"`
	Exclude    []string        `toml:"exclude" yaml:"exclude"`
	Collision  string          `toml:"collision" yaml:"collision"`
	Strict     bool            `toml:"strict" yaml:"strict"`
	Workers    int             `toml:"workers" yaml:"workers"`
}

// Commit configures the commit wrapping each snapshot.
type Commit struct {
	AuthorName  string `toml:"author_name" yaml:"author_name"`
	AuthorEmail string `toml:"author_email" yaml:"author_email"`
	Branch      string `toml:"branch" yaml:"branch"`
	Message     string `toml:"message" yaml:"message"`
}

// Cache selects where objects are kept between requests.
type Cache struct {
	// Kind is "memory" or "disk".
	Kind string `toml:"kind" yaml:"kind"`
	Dir  string `toml:"dir" yaml:"dir"`
}

// Limits bounds what clients can ask of the server.
type Limits struct {
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `toml:"burst" yaml:"burst"`
	MaxRequestBytes   int64   `toml:"max_request_bytes" yaml:"max_request_bytes"`
}

// Auth enables HTTP basic authentication when Users is non-empty.
type Auth struct {
	Realm string `toml:"realm" yaml:"realm"`
	// Users maps user names to bcrypt hashes.
	Users map[string]string `toml:"users" yaml:"users"`
}

// Log configures the slog handler.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" yaml:"level"`
	// Format is text or json.
	Format string `toml:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	def := snapshot.DefaultOptions()
	return &Config{
		Listen:    ":8080",
		MountPath: "/",
		Source:    Source{Driver: "sqlite", DSN: "wiki.db"},
		Snapshot: Snapshot{
			RootNamespace:       int(def.RootNamespace),
			AttachmentNamespace: int(def.AttachmentNamespace),
			AttachmentDir:       def.AttachmentDir,
			MainDir:             def.MainDir,
			Collision:           string(def.Collision),
			Workers:             def.Workers,
		},
		Commit: Commit{
			AuthorName:  def.Commit.AuthorName,
			AuthorEmail: def.Commit.AuthorEmail,
			Branch:      "main",
			Message:     def.Commit.Message,
		},
		Cache:  Cache{Kind: "memory"},
		Limits: Limits{MaxRequestBytes: 10 << 20},
		Auth:   Auth{Realm: "wiki"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml, .yaml or .yml. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format %q (want .toml, .yaml or .yml)", path, ext)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GITACCESS_* variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"GITACCESS_LISTEN":        &c.Listen,
		"GITACCESS_MOUNT_PATH":    &c.MountPath,
		"GITACCESS_SOURCE_DRIVER": &c.Source.Driver,
		"GITACCESS_SOURCE_DSN":    &c.Source.DSN,
		"GITACCESS_FILES_DIR":     &c.Source.FilesDir,
		"GITACCESS_COLLISION":     &c.Snapshot.Collision,
		"GITACCESS_BRANCH":        &c.Commit.Branch,
		"GITACCESS_CACHE_KIND":    &c.Cache.Kind,
		"GITACCESS_CACHE_DIR":     &c.Cache.Dir,
		"GITACCESS_LOG_LEVEL":     &c.Log.Level,
		"GITACCESS_LOG_FORMAT":    &c.Log.Format,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("GITACCESS_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GITACCESS_WORKERS: %w", err)
		}
		c.Snapshot.Workers = n
	}
	if v, ok := os.LookupEnv("GITACCESS_STRICT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GITACCESS_STRICT: %w", err)
		}
		c.Snapshot.Strict = b
	}
	if v, ok := os.LookupEnv("GITACCESS_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GITACCESS_RATE_LIMIT: %w", err)
		}
		c.Limits.RequestsPerSecond = f
	}
	return nil
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if !strings.HasPrefix(c.MountPath, "/") {
		errs = append(errs, fmt.Errorf("mount_path %q must start with /", c.MountPath))
	}
	switch c.Source.Driver {
	case "sqlite":
		if c.Source.DSN == "" {
			errs = append(errs, errors.New("source.dsn is required for the sqlite driver"))
		}
	case "demo":
	default:
		errs = append(errs, fmt.Errorf("source.driver %q is not sqlite or demo", c.Source.Driver))
	}
	if _, err := snapshot.ParseCollisionPolicy(c.Snapshot.Collision); err != nil {
		errs = append(errs, err)
	}
	if c.Snapshot.Workers <= 0 {
		errs = append(errs, fmt.Errorf("snapshot.workers must be positive, got %d", c.Snapshot.Workers))
	}
	if c.Snapshot.AttachmentDir == "" || strings.Contains(c.Snapshot.AttachmentDir, "/") {
		errs = append(errs, fmt.Errorf("snapshot.attachment_dir %q must be a single path component", c.Snapshot.AttachmentDir))
	}
	if c.Snapshot.MainDir == "" || strings.Contains(c.Snapshot.MainDir, "/") {
		errs = append(errs, fmt.Errorf("snapshot.main_dir %q must be a single path component", c.Snapshot.MainDir))
	}
	if c.Commit.Branch == "" || strings.ContainsAny(c.Commit.Branch, " ~^:?*[\\") {
		errs = append(errs, fmt.Errorf("commit.branch %q is not a valid branch name", c.Commit.Branch))
	}
	switch c.Cache.Kind {
	case "memory":
	case "disk":
		if c.Cache.Dir == "" {
			errs = append(errs, errors.New("cache.dir is required for the disk cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind %q is not memory or disk", c.Cache.Kind))
	}
	if c.Limits.RequestsPerSecond < 0 || c.Limits.Burst < 0 || c.Limits.MaxRequestBytes < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SnapshotOptions converts the snapshot and commit sections.
func (c *Config) SnapshotOptions(log *slog.Logger) snapshot.Options {
	opts := snapshot.DefaultOptions()
	opts.Include = c.Snapshot.Namespaces
	opts.RootNamespace = content.NamespaceID(c.Snapshot.RootNamespace)
	opts.AttachmentNamespace = content.NamespaceID(c.Snapshot.AttachmentNamespace)
	opts.AttachmentDir = c.Snapshot.AttachmentDir
	opts.MainDir = c.Snapshot.MainDir
	opts.Exclude = c.Snapshot.Exclude
	opts.Collision = snapshot.CollisionPolicy(c.Snapshot.Collision)
	opts.Strict = c.Snapshot.Strict
	opts.Workers = c.Snapshot.Workers
	opts.Commit = snapshot.CommitOptions{
		AuthorName:  c.Commit.AuthorName,
		AuthorEmail: c.Commit.AuthorEmail,
		Message:     c.Commit.Message,
	}
	opts.Logger = log
	return opts
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// NewLogger builds the configured slog logger writing to w.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

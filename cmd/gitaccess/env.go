package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/gitaccess/pkg/config"
	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/content/sqlite"
	"github.com/odvcencio/gitaccess/pkg/object"
	"github.com/odvcencio/gitaccess/pkg/server"
	"github.com/odvcencio/gitaccess/pkg/snapshot"
	"github.com/spf13/cobra"
)

// env is everything a command needs to build snapshots.
type env struct {
	cfg       *config.Config
	log       *slog.Logger
	src       content.Source
	store     object.Store
	index     *snapshot.RootIndex
	indexPath string
	asm       *snapshot.Assembler
	closers   []io.Closer
}

// loadConfig reads --config and applies environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openEnv opens the configured source and object store. Logs go to
// stderr so command output stays clean.
func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log}

	switch cfg.Source.Driver {
	case "demo":
		e.src = demoWiki()
	default:
		src, err := sqlite.Open(ctx, cfg.Source.DSN, sqlite.Options{FilesDir: cfg.Source.FilesDir})
		if err != nil {
			return nil, err
		}
		e.src = src
		e.closers = append(e.closers, src)
	}

	if cfg.Cache.Kind == "disk" {
		ds, err := object.NewDiskStore(cfg.Cache.Dir)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.store = ds
		e.closers = append(e.closers, ds)
		e.indexPath = filepath.Join(cfg.Cache.Dir, "roots.cbor")
		e.index, err = snapshot.LoadRootIndex(e.indexPath)
		if err != nil {
			e.Close()
			return nil, err
		}
		if n := e.index.Prune(ds); n > 0 {
			log.Warn("dropped snapshots with missing objects", "count", n)
		}
	} else {
		e.store = object.NewMemoryStore()
		e.index = snapshot.NewRootIndex()
	}

	e.asm, err = snapshot.NewAssembler(e.src, e.store, cfg.SnapshotOptions(log))
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) snapshots() *server.Snapshots {
	return server.NewSnapshots(e.asm, e.index, e.indexPath, e.log)
}

// Close releases the source and store.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i].Close())
	}
	return errors.Join(errs...)
}

// parseMarker accepts "latest", "<rev>" or "<rev>/<log>".
func parseMarker(args []string) (content.Marker, error) {
	if len(args) == 0 {
		return content.Marker{}, nil
	}
	return server.ParseMarker(strings.Split(strings.Trim(args[0], "/"), "/"))
}

// demoWiki is a small built-in wiki for trying the server without a
// database.
func demoWiki() *content.MemorySource {
	src := content.NewMemorySource(content.DefaultNamespaces())
	at := func(day int) time.Time {
		return time.Date(2024, time.January, day, 12, 0, 0, 0, time.UTC)
	}
	src.Edit(1, content.NSMain, "Main_Page", 1, at(1), "text/x-wiki", "Welcome to the '''demo''' wiki.\n")
	src.Edit(2, content.NSGitAccessRoot, "README", 2, at(2), "text/plain", "This repository mirrors the demo wiki.\n")
	src.Edit(3, content.NSHelp, "Editing", 3, at(3), "text/x-wiki", "== Editing ==\nClick edit.\n")
	src.Edit(4, content.NSUser, "Admin/common.css", 4, at(4), "text/css", "body { margin: 0; }\n")
	src.Edit(1, content.NSMain, "Main_Page", 5, at(5), "text/x-wiki", "Welcome to the '''demo''' wiki.\nSee [[Help:Editing]].\n")
	src.Edit(5, content.NSFile, "Logo.svg", 6, at(6), "text/x-wiki", "The wiki logo.\n")
	src.Upload("Logo.svg", at(6), "image/svg+xml", []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`+"\n"))
	return src
}

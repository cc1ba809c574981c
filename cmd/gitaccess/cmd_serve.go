package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/odvcencio/gitaccess/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the wiki over smart HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := server.New(e.snapshots(), serverOptions(e))
			addr := e.cfg.Listen
			if listen != "" {
				addr = listen
			}
			e.log.Info("listening", "addr", addr, "mount", e.cfg.MountPath, "source", e.cfg.Source.Driver, "cache", e.cfg.Cache.Kind)
			if err := svc.ListenAndServe(ctx, addr); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides the config file)")
	return cmd
}

func serverOptions(e *env) server.Options {
	cfg := e.cfg
	opts := server.Options{
		MountPath:         cfg.MountPath,
		Branch:            cfg.Commit.Branch,
		Agent:             "gitaccess/" + version,
		MaxRequestBytes:   cfg.Limits.MaxRequestBytes,
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		Burst:             cfg.Limits.Burst,
		Logger:            e.log,
	}
	if len(cfg.Auth.Users) > 0 {
		opts.Authorizer = &server.BasicAuth{Realm: cfg.Auth.Realm, Users: cfg.Auth.Users}
	}
	return opts
}

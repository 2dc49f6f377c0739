// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/terafinder/internal/history"
	"github.com/pdiddy/terafinder/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve research sessions over a websocket",
	Long: `Serve listens for websocket connections on /ws. Each connection is a
session: the client sends {"query": "...", "mode": "simple"|"pro"} and
receives one message per pipeline stage followed by the answer. Follow-up
questions on the same connection carry the conversation forward.

GET /healthz answers "ok" while the server is up.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, map[string]string{
		"addr":      "server.addr",
		"providers": "retrieval.enabled_providers",
	}); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pipe, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	var store *history.Store
	if noHistory, _ := cmd.Flags().GetBool("no-history"); cfg.History.Enabled && !noHistory {
		store, err = history.Open(cfg.History)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(pipe, store, logger).ListenAndServe(ctx, cfg.Server.Addr)
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "listen address (use :8080 to accept remote clients)")
	serveCmd.Flags().StringSlice("providers", nil, "providers to query (default all)")
	serveCmd.Flags().Bool("no-history", false, "do not save runs to history")
	rootCmd.AddCommand(serveCmd)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"adtrim/internal/proxy"
)

var (
	serveAddr  string
	serveSites string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the viewing proxy",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8081", "listen address, e.g. :81 or 0.0.0.0:8081")
	serveCmd.Flags().StringVar(&serveSites, "sites", "", "directory of per-host YAML configs (overrides $ADTRIM_SITES_DIR)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr := serveAddr
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	cfg := proxy.DefaultConfig()
	cfg.Logger = logger
	if serveSites != "" {
		cfg.SitesDir = serveSites
	}
	handler := proxy.New(cfg)
	defer handler.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := handler.WatchSites(ctx); err != nil {
			logger.Warn("site config watch disabled", zap.Error(err))
		}
	}()

	errLog, _ := zap.NewStdLogAt(logger.Named("http"), zap.ErrorLevel)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Conservative timeouts to avoid slowloris and leaked connections blocking the server
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          errLog,
		ConnState: func(c net.Conn, s http.ConnState) {
			logger.Debug("conn", zap.String("state", s.String()), zap.String("remote", c.RemoteAddr().String()))
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.Info("listening", zap.String("addr", addr), zap.String("upstream", cfg.Upstream))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

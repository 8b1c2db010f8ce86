// Package server exposes the operator API and the telephony callbacks over
// HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zulandar/dropline/internal/campaign"
	"github.com/zulandar/dropline/internal/provider"
	"github.com/zulandar/dropline/internal/webhook"
)

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Campaign *campaign.Service
	Machine  *webhook.Machine
	Provider provider.Client // nil when credentials are not configured

	Port            int
	PublicBaseURL   string // overrides base URLs sent by API callers
	InputCSV        string // where uploaded datasets are written
	OutputCSV       string // refreshed after each upload
	ShutdownTimeout time.Duration

	Gatherer    prometheus.Gatherer // nil disables the metrics endpoint
	MetricsPath string

	Out io.Writer
}

func (o StartOpts) check() error {
	if o.Campaign == nil {
		return fmt.Errorf("server: campaign is required")
	}
	if o.Machine == nil {
		return fmt.Errorf("server: webhook machine is required")
	}
	return nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if err := opts.check(); err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 5000
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dropline listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

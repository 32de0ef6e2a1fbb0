// Command dlmd runs a single peer-to-peer lock manager cluster
// member: it loads a descriptor file, binds its UDP transport, starts
// the Heartbeat and Listener activities, and serves a Prometheus
// metrics endpoint until interrupted.
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

	"github.com/jabolina/dlmd/internal/config"
	"github.com/jabolina/dlmd/internal/daemon"
	"github.com/jabolina/dlmd/internal/loadgen"
	"github.com/jabolina/dlmd/internal/logging"
	"github.com/jabolina/dlmd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Exit codes distinguish a bad configuration from a transport that
// failed to bind, since an operator needs to know which to fix.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitTransportError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		testLoad   bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:     "dlmd",
		Short:   "Peer-to-peer distributed lock manager daemon",
		Version: "0.1.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return serve(configPath, testLoad, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the cluster descriptor file (required)")
	cmd.Flags().BoolVarP(&testLoad, "test-load", "t", false, "enable the synthetic load generator")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("config")

	if err := cmd.Execute(); err != nil {
		if exitErr, ok := err.(exitCodeError); ok {
			return int(exitErr)
		}
		return exitConfigError
	}
	return exitOK
}

// exitCodeError lets serve signal a specific process exit code back
// through cobra's plain error return without cobra printing a usage
// banner for what is really a runtime failure, not a flag-parsing one.
type exitCodeError int

func (e exitCodeError) Error() string { return fmt.Sprintf("exit code %d", int(e)) }

func serve(configPath string, testLoad, debug bool) error {
	log := logging.New(debug)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Errorf("configuration error: %v", err)
		return exitCodeError(exitConfigError)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	d, err := daemon.New(cfg, log, m)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			log.Errorf("transport error: %v", err)
			return exitCodeError(exitTransportError)
		}
		log.Errorf("configuration error: %v", err)
		return exitCodeError(exitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.Run(ctx)
	defer d.Shutdown()

	go sampleMetrics(ctx, d)

	var gen *loadgen.Generator
	if testLoad {
		gen = loadgen.New(d, "resource-1", 5*time.Second, log)
		gen.Run(ctx)
	}

	var httpServer *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpServer = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	log.Infof("dlmd started: node=%s listening=%s:%d peers=%d", cfg.LocalName, cfg.LocalAddress, cfg.LocalPort, len(cfg.Nodes)-1)

	<-ctx.Done()
	log.Infof("dlmd shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if gen != nil {
		<-gen.Done()
	}
	return nil
}

func sampleMetrics(ctx context.Context, d *daemon.Daemon) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RefreshMetrics()
		}
	}
}

// Command aip-server runs the AIP auction server.
//
// The server accepts platform context requests, fans invitations out to
// bidder pools, collects signed bids inside the auction window, settles the
// winner, and records the outcome in the ledger. Operator endpoints under
// /admin expose roster, configuration, and aggregate statistics.
//
// # Configuration
//
// The --config flag selects the YAML configuration document; absent the
// flag and the AIP_CONFIG_PATH environment variable, built-in development
// defaults apply. The bidder roster comes from --bidders or
// AIP_BIDDERS_PATH; with neither set, the server starts with an empty
// roster and every auction closes as no-bid.
//
// # Usage
//
//	go run ./cmd/aip-server --config=config.yaml --bidders=bidders.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GouniManikumar12/aip-server/api/httpserver"
	"github.com/GouniManikumar12/aip-server/cmd/common"
	"github.com/GouniManikumar12/aip-server/config"
	srvcommon "github.com/GouniManikumar12/aip-server/common"
	"github.com/GouniManikumar12/aip-server/registry"
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML configuration file (or AIP_CONFIG_PATH)")
		biddersPath = flag.String("bidders", "", "YAML bidder roster file (or AIP_BIDDERS_PATH)")
		addr        = flag.String("addr", "", "HTTP listen address, overrides the config file")
		metricsAddr = flag.String("metrics-addr", "", "metrics listen address, overrides the config file")
		enablePprof = flag.Bool("pprof", false, "enable the pprof debugging API")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Listen.Addr = *addr
	}
	if *metricsAddr != "" {
		cfg.Listen.MetricsAddr = *metricsAddr
	}

	log := common.NewLogger(cfg.Log)
	log.Info("Starting aip-server", "version", srvcommon.Version)

	reg, err := loadRoster(*biddersPath)
	if err != nil {
		log.Error("Bidder roster error", "err", err)
		os.Exit(1)
	}
	if reg.Len() == 0 {
		log.Warn("No bidders registered; auctions will close with no bids")
	} else {
		log.Info("Bidder roster loaded", "bidders", reg.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := common.BuildStack(ctx, cfg, reg, log)
	if err != nil {
		log.Error("Stack error", "err", err)
		os.Exit(1)
	}
	defer stack.Close()

	stack.Coordinator.Start()

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.Listen.Addr,
		MetricsAddr:              cfg.Listen.MetricsAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, stack.Service)
	if err != nil {
		log.Error("Server error", "err", err)
		os.Exit(1)
	}

	srv.RunInBackground()
	log.Info("Auction server ready",
		"addr", cfg.Listen.Addr,
		"window_ms", cfg.Auction.Window().Milliseconds(),
		"ledger", cfg.Ledger.Backend,
		"distribution", cfg.Auction.Distribution.Backend,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	srv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := stack.Coordinator.Shutdown(shutdownCtx); err != nil {
		log.Error("Coordinator shutdown error", "err", err)
	}
}

// loadConfig resolves the configuration document: the flag wins, then the
// environment, then the built-in defaults.
func loadConfig(flagPath string) (*config.Config, error) {
	if flagPath != "" {
		return config.LoadFile(flagPath)
	}
	return config.Load()
}

// loadRoster resolves the bidder document the same way. An empty path
// yields an empty roster rather than an error.
func loadRoster(flagPath string) (*registry.Registry, error) {
	path := config.BiddersPath(flagPath)
	if path == "" {
		return registry.New(), nil
	}
	return registry.LoadFile(path)
}

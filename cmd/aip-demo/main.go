// Command aip-demo runs a self-contained auction demonstration.
//
// The demo starts the server on in-memory backends, registers three bidder
// agents with freshly generated keys, attaches them to the local fanout,
// and fires one sample auction so the full flow is visible immediately:
// context in, invitations out, signed bids back, winner settled. The server
// then keeps serving until interrupted, so more requests can be sent with
// curl.
//
// # Usage
//
//	go run ./cmd/aip-demo
//	go run ./cmd/aip-demo --query="best credit card for travel"
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GouniManikumar12/aip-server/api/httpserver"
	"github.com/GouniManikumar12/aip-server/bidder"
	"github.com/GouniManikumar12/aip-server/cmd/common"
	"github.com/GouniManikumar12/aip-server/config"
	"github.com/GouniManikumar12/aip-server/crypto"
	"github.com/GouniManikumar12/aip-server/fanout"
	"github.com/GouniManikumar12/aip-server/protocol"
	"github.com/GouniManikumar12/aip-server/registry"
)

// demoAgent pairs a roster entry with the strategy its agent runs.
type demoAgent struct {
	name     string
	pools    []string
	strategy bidder.Strategy
}

func demoRoster() []demoAgent {
	return []demoAgent{
		{
			name:  "retail-agent",
			pools: []string{"retail"},
			strategy: &bidder.KeywordStrategy{
				Keywords: []string{"shoes", "sneakers", "jacket"},
				Next: &bidder.FixedStrategy{
					Price:        decimal.RequireFromString("1.25"),
					PricingModel: protocol.PricingCPC,
					Creative:     map[string]any{"headline": "Trail shoes, 20% off"},
				},
			},
		},
		{
			name:  "brand-agent",
			pools: []string{"retail", "general"},
			strategy: &bidder.FixedStrategy{
				Price:        decimal.RequireFromString("0.80"),
				PricingModel: protocol.PricingCPA,
				Creative:     map[string]any{"headline": "Official store"},
			},
		},
		{
			name:  "fintech-agent",
			pools: []string{"finance"},
			strategy: &bidder.KeywordStrategy{
				Keywords: []string{"loan", "credit", "card"},
				Next: &bidder.FixedStrategy{
					Price:        decimal.RequireFromString("2.40"),
					PricingModel: protocol.PricingCPX,
				},
			},
		},
	}
}

func main() {
	var (
		addr  = flag.String("addr", ":8080", "HTTP listen address")
		query = flag.String("query", "looking for trail running shoes", "sample query to auction")
	)
	flag.Parse()

	cfg := config.Default()
	cfg.Listen.Addr = *addr
	cfg.Listen.MetricsAddr = ""
	cfg.Classifier = config.ClassifierConfig{
		DefaultPools: []string{"general"},
		Rules: []config.RuleConfig{
			{Pool: "retail", Keywords: []string{"shoes", "sneakers", "jacket", "dress"}},
			{Pool: "finance", Keywords: []string{"loan", "credit", "card", "mortgage"}},
		},
	}

	log := common.NewLogger(cfg.Log)

	roster := demoRoster()
	reg := registry.New()
	keys := make(map[string]crypto.PrivateKey, len(roster))
	for _, entry := range roster {
		pubKey, privKey, err := crypto.GenerateKeyPair()
		if err != nil {
			log.Error("Key generation error", "err", err)
			os.Exit(1)
		}
		keys[entry.name] = privKey
		if err := reg.Add(&registry.Bidder{
			Name:          entry.name,
			Endpoint:      fmt.Sprintf("http://localhost%s/aip/invite", *addr),
			Pools:         entry.pools,
			Key:           pubKey,
			TimeoutMillis: registry.DefaultTimeoutMillis,
		}); err != nil {
			log.Error("Roster error", "err", err)
			os.Exit(1)
		}
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

	// The demo wires agents straight into the in-process fanout.
	localPub, ok := stack.Publisher.(*fanout.LocalPublisher)
	if !ok {
		log.Error("Demo requires the local fanout backend")
		os.Exit(1)
	}

	serverURL := "http://localhost" + *addr
	agents := make([]*bidder.Agent, 0, len(roster))
	for _, entry := range roster {
		agent := bidder.New(log, bidder.Config{
			Name:      entry.name,
			Key:       keys[entry.name],
			ServerURL: serverURL,
			Pools:     entry.pools,
			Strategy:  entry.strategy,
		})
		agent.Start(localPub)
		agents = append(agents, agent)
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.Listen.Addr,
		Log:                      log,
		DrainDuration:            time.Second,
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, stack.Service)
	if err != nil {
		log.Error("Server error", "err", err)
		os.Exit(1)
	}
	srv.RunInBackground()
	time.Sleep(100 * time.Millisecond)

	if err := runSampleAuction(serverURL, *query); err != nil {
		log.Error("Sample auction error", "err", err)
	}

	fmt.Printf("\nServer running on %s with bidders", serverURL)
	for _, agent := range agents {
		fmt.Printf(" %s", agent.Name())
	}
	fmt.Println(". Try:")
	fmt.Printf("  curl -s %s/aip/context -d '{\"request_id\":\"ctx_demo_%s\",\"session_id\":\"sess_demo\",\"query_text\":\"new sneakers\",\"timestamp\":\"%s\"}'\n",
		serverURL, uuid.NewString()[:8], time.Now().UTC().Format(time.RFC3339))
	fmt.Printf("  curl -s %s/admin/stats\n\n", serverURL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, agent := range agents {
		if err := agent.Shutdown(shutdownCtx); err != nil {
			log.Error("Agent shutdown error", "bidder", agent.Name(), "err", err)
		}
	}
	srv.Shutdown()
	if err := stack.Coordinator.Shutdown(shutdownCtx); err != nil {
		log.Error("Coordinator shutdown error", "err", err)
	}
}

// runSampleAuction posts one context request and prints the settled result.
func runSampleAuction(serverURL, query string) error {
	payload := map[string]any{
		"request_id": "ctx_demo_" + uuid.NewString()[:8],
		"session_id": "sess_demo",
		"query_text": query,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	fmt.Printf("Auctioning query: %q\n", query)
	res, err := http.Post(serverURL+"/aip/context", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", res.Status, raw)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return err
	}
	fmt.Printf("Auction result:\n%s\n", pretty.String())
	return nil
}

// Package cmd provides CLI commands for the AIP auction server.
//
// # Commands
//
// aip-server: Runs the auction server. Loads YAML configuration and the
// bidder roster, opens the ledger storage backend, and serves the platform,
// bidder, and operator HTTP surfaces.
//
//	go run ./cmd/aip-server --config=config.yaml --bidders=bidders.yaml
//	go run ./cmd/aip-server --addr=:8080
//
// aip-keygen: Generates an Ed25519 key pair for a bidder. Writes the
// private key and public key as PEM files; the public key block goes into
// the bidder roster document.
//
//	go run ./cmd/aip-keygen --out=alpha
//
// aip-demo: Runs a self-contained demonstration. Starts the server on
// in-memory backends with a small bidder roster, attaches in-process bidder
// agents to the local fanout, and fires one sample auction before serving.
//
//	go run ./cmd/aip-demo
//	go run ./cmd/aip-demo --query="running shoes for a marathon"
//
// # Configuration
//
// The server reads one YAML document selected by --config or the
// AIP_CONFIG_PATH environment variable; absent both, built-in development
// defaults apply (in-memory ledger, local fanout, listen on :8080). The
// bidder roster is a second document selected by --bidders or
// AIP_BIDDERS_PATH.
//
// Example server config:
//
//	listen:
//	  addr: ":8080"
//	  metrics_addr: ":8090"
//	transport:
//	  nonce_ttl_seconds: 60
//	  max_clock_skew_ms: 500
//	ledger:
//	  backend: redis
//	  redis:
//	    addr: "localhost:6379"
//	auction:
//	  window_ms: 50
//	  distribution:
//	    backend: local
//	classifier:
//	  default_pools: [general]
//	  rules:
//	    - pool: retail
//	      keywords: [shoes, jacket]
package cmd

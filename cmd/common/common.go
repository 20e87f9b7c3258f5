// Package common provides shared utilities for the AIP server binaries.
//
// This package contains helpers used across the standalone commands
// (aip-server, aip-keygen, aip-demo) to reduce code duplication:
//
//   - Signing key loading and generation for Ed25519 bidder keys
//   - Logger construction from the configuration document
//   - Assembly of the auction service stack from a loaded configuration
package common

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/GouniManikumar12/aip-server/auction"
	"github.com/GouniManikumar12/aip-server/config"
	"github.com/GouniManikumar12/aip-server/crypto"
	"github.com/GouniManikumar12/aip-server/fanout"
	"github.com/GouniManikumar12/aip-server/ledger"
	"github.com/GouniManikumar12/aip-server/registry"
	"github.com/GouniManikumar12/aip-server/server"
	"github.com/GouniManikumar12/aip-server/storage"
	"github.com/GouniManikumar12/aip-server/transport"
	"github.com/GouniManikumar12/aip-server/validation"
	"github.com/GouniManikumar12/aip-server/weave"
)

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadSigningKeyFile reads an Ed25519 private key from a PEM file, as
// written by aip-keygen.
func LoadSigningKeyFile(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return crypto.NewPrivateKeyFromPEM(string(data))
}

// NewLogger builds the process logger from the log configuration. JSON
// output is for deployments behind a log collector; text is for terminals.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// Stack is the assembled auction service and the backends it runs on.
// Callers start the coordinator, register Service routes, and Close the
// stack on the way out.
type Stack struct {
	Store       storage.Store
	Publisher   fanout.Publisher
	Inbox       *auction.Inbox
	Ledger      *ledger.Service
	Runner      *auction.Runner
	Coordinator *weave.Coordinator
	Verifier    *transport.Verifier
	Service     *server.Service
}

// BuildStack wires the full auction service from a loaded configuration and
// bidder roster: storage, fanout, the auction runner, the weave
// coordinator, transport security, and the HTTP service.
func BuildStack(ctx context.Context, cfg *config.Config, reg *registry.Registry, log *slog.Logger) (*Stack, error) {
	store, err := storage.Open(ctx, cfg.Ledger.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("opening ledger storage: %w", err)
	}

	pub, err := fanout.New(ctx, cfg.Auction.Distribution.FanoutConfig(), log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening fanout backend: %w", err)
	}

	rules := make([]auction.Rule, 0, len(cfg.Classifier.Rules))
	for _, rule := range cfg.Classifier.Rules {
		rules = append(rules, auction.Rule{Pool: rule.Pool, Keywords: rule.Keywords})
	}
	classifier := auction.NewClassifier(rules, cfg.Classifier.DefaultPools)

	inbox := auction.NewInbox()
	ledgerSvc := ledger.NewService(store, log)
	runner := auction.NewRunner(log, reg, classifier, pub, inbox, ledgerSvc, cfg.Auction.Window())
	coordinator := weave.NewCoordinator(log, store, runner, cfg.Weave.CoordinatorConfig())

	verifier := transport.NewVerifier(reg, newNonceStore(cfg), cfg.Transport.MaxClockSkew())

	schemas, err := validation.NewRegistry()
	if err != nil {
		pub.Close()
		store.Close()
		return nil, fmt.Errorf("loading schemas: %w", err)
	}

	svc := server.New(server.Config{
		Log:                 log,
		Registry:            reg,
		Runner:              runner,
		Inbox:               inbox,
		Ledger:              ledgerSvc,
		Verifier:            verifier,
		Schemas:             schemas,
		Coordinator:         coordinator,
		WindowMillis:        cfg.Auction.Window().Milliseconds(),
		DistributionBackend: cfg.Auction.Distribution.Backend,
		StorageBackend:      cfg.Ledger.Backend,
		NonceTTLSeconds:     cfg.Transport.NonceTTLSeconds,
		MaxClockSkewMillis:  cfg.Transport.MaxClockSkewMillis,
	})

	return &Stack{
		Store:       store,
		Publisher:   pub,
		Inbox:       inbox,
		Ledger:      ledgerSvc,
		Runner:      runner,
		Coordinator: coordinator,
		Verifier:    verifier,
		Service:     svc,
	}, nil
}

// newNonceStore picks the nonce backend. When the ledger runs on Redis the
// nonce reservations go there too, so replicas share one replay horizon;
// every other backend keeps nonces in process memory.
func newNonceStore(cfg *config.Config) transport.NonceStore {
	if cfg.Ledger.Backend == storage.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Ledger.Redis.Addr,
			Password: cfg.Ledger.Redis.Password,
			DB:       cfg.Ledger.Redis.DB,
		})
		return transport.NewRedisNonceStore(client, cfg.Transport.NonceTTL())
	}
	return transport.NewMemoryNonceStore(cfg.Transport.NonceTTL())
}

// Close releases the stack's backend connections. The coordinator is shut
// down separately because it owes in-flight work a deadline.
func (s *Stack) Close() {
	s.Publisher.Close()
	s.Store.Close()
}

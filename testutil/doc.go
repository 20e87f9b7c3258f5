/*
Package testutil provides shared test fixtures for the AIP auction server.

Tests across the repository need the same scaffolding: a bidder roster with
real Ed25519 keys, and signed payloads that pass the transport-security
checks. This package generates both so test writers can focus on the
behavior under test.

# Keyed rosters

NewKeyedRegistry builds a registry with a fresh key pair per entry and hands
back the private keys for signing:

	reg, keys, _ := testutil.NewKeyedRegistry(
	    testutil.RosterEntry{Name: "alpha", Pools: []string{"retail"}},
	    testutil.RosterEntry{Name: "beta", Pools: []string{"retail", "general"}},
	)

# Signed payloads

SignedBid and SignedEvent assemble wire-shaped payloads with fresh nonces
and current timestamps, then sign them:

	bid, _ := testutil.SignedBid(keys["alpha"], "ctx_1", "alpha", "1.50", "CPC")

	ev, _ := testutil.SignedEvent(keys["alpha"], "ctx_1", token, "alpha",
	    testutil.WithField("event_type", "cpx"),
	)

Options run before signing, so a test can shape the payload and still get a
valid signature. Tampering after the call is how signature failures are
provoked:

	bid["price"] = "9.99"

# Context requests

ContextPayload builds the platform-side request body. It is not signed; the
platform surface authenticates differently than the bidder surface.

This package is intended for testing purposes only and should not be used in
production code.
*/
package testutil

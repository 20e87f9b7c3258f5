// Package server is the AIP HTTP surface. It wires the auction runner, the
// bid inbox, the event ledger and the weave coordinator onto one chi router:
// platforms post context requests, bidders post signed bids and events, and
// the admin endpoints expose the roster, the effective configuration and
// operational stats.
//
// Every inbound body is checked against its embedded JSON Schema before any
// other work runs; signed payloads then pass the transport verifier before
// they are parsed. Failures are protocol errors and serialize uniformly as
// {"error": {"kind": ..., "message": ...}} with the status code the kind
// maps to.
package server

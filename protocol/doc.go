// Package protocol defines the wire types and error taxonomy of the Agentic
// Intent Protocol (AIP) auction server.
//
// # Auction Flow
//
// AIP mediates real-time advertising auctions between platforms and bidders:
//
//  1. A platform submits a ContextRequest describing user intent. The
//     request_id doubles as the auction id.
//
//  2. The server classifies the context into category pools and fans an
//     envelope out to the bidders subscribed to those pools. Fanout is
//     best-effort; bidders may equally learn about auctions through their
//     own subscriptions.
//
//  3. During a short auction window (tens of milliseconds) bidders submit
//     signed BidResponses on a separate endpoint. Each payload carries a
//     detached Ed25519 signature over its canonical JSON form, a timestamp
//     bounded by the permitted clock skew, and a single-use nonce.
//
//  4. When the window closes the server selects a winner by pricing-model
//     priority (CPA > CPC > CPX), then price descending, then bidder name
//     ascending, persists the outcome to the ledger, and answers the
//     platform with an AuctionResult carrying a server-minted serve token.
//
//  5. Ad events (EventCPX, EventCPC, EventCPA) reference the serve token and
//     advance the ledger record to its terminal state. Event application is
//     idempotent per (auction_id, event_type, nonce).
//
// # Error Taxonomy
//
// Failures carry an ErrorKind that is part of the wire contract. Transport
// security rejections (signature, timestamp, nonce) are deliberately
// distinct so bidders can tell a wrong key from clock drift from a replayed
// nonce. KindOf and AsError funnel unclassified errors to KindInternal.
//
// # Formatting
//
// Monetary amounts use four-decimal precision on results and two decimals
// for CPX floors. Rendered creatives are labelled with the "[Ad]" marker.
package protocol

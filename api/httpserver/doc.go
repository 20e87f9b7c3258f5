// Package httpserver is the HTTP shell shared by the auction server and
// the demo binary.
//
// A BaseServer owns the listener, the chi router with its standard
// middleware, the optional metrics listener, and the operational endpoints
// every deployment gets for free:
//
//   - /livez and /readyz for liveness and readiness probes
//   - /drain and /undrain to flip readiness ahead of a rollout, leaving a
//     configurable window for load balancers to catch up
//   - a pprof mount under /debug when profiling is enabled
//
// Domain routes come from RouteRegistrar implementations passed to New;
// the auction service registers its platform, bidder and admin endpoints
// that way. RunInBackground starts the listeners without blocking and
// Shutdown stops them gracefully, bounded by the configured duration.
package httpserver

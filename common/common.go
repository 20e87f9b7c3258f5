// Package common holds identifiers shared across all aip-server binaries.
package common

// PackageName is used as the metrics namespace and in log output.
const PackageName = "aip-server"

// Version is the server version reported on the meta and admin endpoints.
// Overridable at build time via -ldflags.
var Version = "1.0.0"

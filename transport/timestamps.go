package transport

import (
	"time"

	"github.com/GouniManikumar12/aip-server/protocol"
)

// ParseWithinSkew parses an RFC 3339 timestamp and checks it against the
// permitted clock skew around now. The zone designator is mandatory; parsed
// values are compared in UTC. Returns the parsed instant for downstream
// nonce horizon checks.
func ParseWithinSkew(value string, now time.Time, maxSkew time.Duration) (time.Time, error) {
	if value == "" {
		return time.Time{}, protocol.Errorf(protocol.KindTimestampOutOfRange, "timestamp missing")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, protocol.Errorf(protocol.KindTimestampOutOfRange, "timestamp is not RFC 3339: %v", err)
	}
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return time.Time{}, protocol.Errorf(protocol.KindTimestampOutOfRange,
			"timestamp skew %s exceeds max %s", skew, maxSkew)
	}
	return ts.UTC(), nil
}

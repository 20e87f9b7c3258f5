package auction

import (
	"strings"

	"github.com/GouniManikumar12/aip-server/protocol"
)

// Rule maps a pool to the query keywords that select it.
type Rule struct {
	Pool     string
	Keywords []string
}

// Classifier assigns context requests to bidder pools. Classification is a
// pure function of the request: explicit pools on the request win outright,
// otherwise the query text is matched against the keyword rules in order,
// and a query matching nothing lands in the default pools.
type Classifier struct {
	rules    []Rule
	defaults []string
}

// NewClassifier builds a classifier from keyword rules and default pools.
func NewClassifier(rules []Rule, defaults []string) *Classifier {
	return &Classifier{rules: rules, defaults: defaults}
}

// Classify returns the pools the request fans out to. The result preserves
// rule order and contains no duplicates; it is never empty when default
// pools are configured.
func (c *Classifier) Classify(req *protocol.ContextRequest) []string {
	if len(req.Pools) > 0 {
		return dedup(req.Pools)
	}

	query := strings.ToLower(req.QueryText)
	var pools []string
	for _, rule := range c.rules {
		for _, keyword := range rule.Keywords {
			if keyword != "" && strings.Contains(query, strings.ToLower(keyword)) {
				pools = append(pools, rule.Pool)
				break
			}
		}
	}
	if len(pools) == 0 {
		pools = c.defaults
	}
	return dedup(pools)
}

// Rules exposes the configured rules for the admin surface.
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// DefaultPools exposes the configured fallback pools.
func (c *Classifier) DefaultPools() []string {
	return c.defaults
}

func dedup(pools []string) []string {
	seen := make(map[string]bool, len(pools))
	out := make([]string, 0, len(pools))
	for _, pool := range pools {
		if pool == "" || seen[pool] {
			continue
		}
		seen[pool] = true
		out = append(out, pool)
	}
	return out
}

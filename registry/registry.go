// Package registry holds the roster of bidders allowed to participate in
// auctions. The roster is loaded once at startup from the bidder
// configuration document; bidder identity is the registered name, and every
// signed payload from a bidder verifies against the key registered here.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/GouniManikumar12/aip-server/crypto"
)

// DefaultTimeoutMillis is the per-bidder request timeout applied when the
// configuration does not set one.
const DefaultTimeoutMillis = 200

// Bidder is one configured auction participant.
type Bidder struct {
	Name          string
	Endpoint      string
	Pools         []string
	Key           crypto.PublicKey
	TimeoutMillis int64
}

// SubscribesTo reports whether the bidder subscribes to any of pools.
func (b *Bidder) SubscribesTo(pools []string) bool {
	for _, pool := range pools {
		for _, own := range b.Pools {
			if pool == own {
				return true
			}
		}
	}
	return false
}

// Registry maps bidder names to their registrations. Safe for concurrent
// use; after startup the roster is only read.
type Registry struct {
	mu      sync.RWMutex
	bidders map[string]*Bidder
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{bidders: make(map[string]*Bidder)}
}

// bidderDocument is the YAML shape of the bidder configuration.
type bidderDocument struct {
	Bidders []bidderEntry `yaml:"bidders"`
}

type bidderEntry struct {
	Name          string   `yaml:"name"`
	Endpoint      string   `yaml:"endpoint"`
	Pools         []string `yaml:"pools"`
	PublicKey     string   `yaml:"public_key"`
	TimeoutMillis int64    `yaml:"timeout_ms"`
}

// LoadFile reads the bidder configuration document and builds the registry.
// Any malformed entry fails the whole load: a server running with a
// half-parsed roster would silently reject that bidder's signed bids.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bidder config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var doc bidderDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing bidder config: %w", err)
	}

	reg := New()
	for i, entry := range doc.Bidders {
		if entry.Name == "" {
			return nil, fmt.Errorf("bidder %d: missing name", i)
		}
		key, err := crypto.NewPublicKeyFromPEM(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("bidder %q: %w", entry.Name, err)
		}
		timeout := entry.TimeoutMillis
		if timeout <= 0 {
			timeout = DefaultTimeoutMillis
		}
		pools := entry.Pools
		if len(pools) == 0 {
			pools = []string{"default"}
		}
		if err := reg.Add(&Bidder{
			Name:          entry.Name,
			Endpoint:      entry.Endpoint,
			Pools:         pools,
			Key:           key,
			TimeoutMillis: timeout,
		}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Add registers a bidder. Names must be unique.
func (r *Registry) Add(b *Bidder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bidders[b.Name]; ok {
		return fmt.Errorf("duplicate bidder name %q", b.Name)
	}
	r.bidders[b.Name] = b
	return nil
}

// LookupByName returns the bidder registered under name.
func (r *Registry) LookupByName(name string) (*Bidder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bidders[name]
	return b, ok
}

// PublicKey returns the verification key of the named bidder. This is the
// key lookup the transport verifier runs for every signed payload.
func (r *Registry) PublicKey(name string) (crypto.PublicKey, bool) {
	b, ok := r.LookupByName(name)
	if !ok {
		return nil, false
	}
	return b.Key, true
}

// LookupByPools returns every bidder subscribed to at least one of pools,
// each bidder at most once, ordered by name.
func (r *Registry) LookupByPools(pools []string) []*Bidder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Bidder, 0, len(r.bidders))
	for _, b := range r.bidders {
		if b.SubscribesTo(pools) {
			out = append(out, b)
		}
	}
	sortByName(out)
	return out
}

// All returns every registered bidder ordered by name.
func (r *Registry) All() []*Bidder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Bidder, 0, len(r.bidders))
	for _, b := range r.bidders {
		out = append(out, b)
	}
	sortByName(out)
	return out
}

// Len returns the number of registered bidders.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bidders)
}

func sortByName(bidders []*Bidder) {
	sort.Slice(bidders, func(i, j int) bool { return bidders[i].Name < bidders[j].Name })
}

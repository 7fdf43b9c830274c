package chain

import (
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"

	"github.com/go-equihash/headerchain/chaincfg"
)

// Registry is the process-wide set of chains (branches) known to this
// client, keyed by the hash of each chain's first header. Exactly one
// chain has a nil Parent: the trunk, keyed by the network's genesis hash.
//
// Registry.mu is the "registry lock" from SPEC_FULL.md §5: it guards the
// chains map and the structural fields (Parent, Forkpoint, ForkpointHash,
// PrevHash) that swapWithParent rewrites. Per-chain file/size state is
// guarded by that chain's own mutex, always acquired before the registry
// lock is taken (see swapOnce).
type Registry struct {
	mu sync.RWMutex

	params     *chaincfg.Params
	headersDir string

	chains map[chainhash.Hash]*Chain
}

// NewRegistry constructs an empty registry. Use ReadBlockchains to
// populate one from an existing headers directory at process start.
func NewRegistry(params *chaincfg.Params, headersDir string) *Registry {
	return &Registry{
		params:     params,
		headersDir: headersDir,
		chains:     make(map[chainhash.Hash]*Chain),
	}
}

// Trunk returns the chain with no parent, or nil if the registry has not
// been bootstrapped yet.
func (r *Registry) Trunk() *Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.chains {
		if c.parent == nil {
			return c
		}
	}
	return nil
}

// Get looks up a chain by its id (the hash of its first header).
func (r *Registry) Get(id chainhash.Hash) *Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chains[id]
}

// All returns every registered chain in no particular order.
func (r *Registry) All() []*Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	return out
}

// register adds a chain to the registry, keyed by its current id. Callers
// that also hold r.mu (e.g. swapOnce) must mutate r.chains directly
// instead of calling this, to avoid re-locking.
func (r *Registry) register(c *Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[c.ID()] = c
}

// unregister removes a chain from the registry by id.
func (r *Registry) unregister(id chainhash.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chains, id)
}

// directChildrenLocked must be called with r.mu held (for read or write).
func (c *Chain) directChildrenLocked() []*Chain {
	var out []*Chain
	for _, other := range c.reg.chains {
		if other.parent == c {
			out = append(out, other)
		}
	}
	return out
}

// newTrunk constructs the registry's genesis-rooted trunk chain. It does
// not touch disk; callers typically follow this with updateSize or rely
// on ReadBlockchains, which calls this internally.
func (r *Registry) newTrunk() *Chain {
	c := newChain(r, r.params, r.headersDir, 0, nil, r.params.GenesisHash, chainhash.Hash{})
	r.chains[c.ID()] = c
	return c
}

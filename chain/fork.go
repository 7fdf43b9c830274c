package chain

import (
	"fmt"
	"io"
	"os"

	"github.com/go-equihash/headerchain/header"
	"github.com/go-equihash/headerchain/retarget"
)

// CanConnect reports whether h could be appended to this chain: its
// PrevBlockHash must match this chain's hash at h.Height-1, and (unless
// checkHeight is false, used by Fork to test a header that forks off
// mid-chain rather than extending the tip) h.Height must be exactly one
// past this chain's current height.
//
// A missing header needed to answer the question (ErrMissingHeader) is
// not propagated: it simply means "no", matching the original client's
// try/except around get_target inside can_connect.
func (c *Chain) CanConnect(h *header.Header, checkHeight bool) (bool, error) {
	if checkHeight && h.Height != c.Height()+1 {
		return false, nil
	}

	prevHash, err := c.Hash(h.Height - 1)
	if err != nil {
		if isMissingHeader(err) {
			return false, nil
		}
		return false, err
	}
	if h.PrevBlockHash != prevHash {
		return false, nil
	}

	expectedTarget, err := c.GetTarget(h.Height)
	if err != nil {
		if isMissingHeader(err) {
			return false, nil
		}
		return false, err
	}

	return VerifyHeader(h, prevHash, expectedTarget, c.params.TestNet) == nil, nil
}

func isMissingHeader(err error) bool {
	_, ok := err.(*retarget.ErrMissingHeader)
	return ok
}

// Fork creates a new chain branching from parent at h's height. h must
// connect to parent's header at h.Height-1; it need not extend parent's
// tip. The new chain is registered and its first header written
// immediately.
func Fork(parent *Chain, h *header.Header) (*Chain, error) {
	if ok, err := parent.CanConnect(h, false); err != nil {
		return nil, err
	} else if !ok {
		return nil, &ErrForkingHeader{"forking header does not connect to parent chain"}
	}

	forkpointHash := header.Hash(h)
	prevHash, err := parent.Hash(h.Height - 1)
	if err != nil {
		return nil, err
	}

	c := newChain(parent.reg, parent.params, parent.headersDir, h.Height, parent, forkpointHash, prevHash)
	if err := c.ensureFile(); err != nil {
		return nil, err
	}
	if err := c.SaveHeader(h); err != nil {
		return nil, err
	}

	parent.reg.register(c)
	return c, nil
}

// GetMaxChild returns the height of the furthest-forked direct child of
// c, or -1 if c has none.
func (c *Chain) GetMaxChild() int32 {
	children := c.GetDirectChildren()
	max := int32(-1)
	for _, ch := range children {
		if ch.forkpoint > max {
			max = ch.forkpoint
		}
	}
	return max
}

// GetMaxForkpoint returns the highest forkpoint among c's direct
// children, or c's own forkpoint if it has no children. Deeper
// descendants are not looked at.
func (c *Chain) GetMaxForkpoint() int32 {
	if mc := c.GetMaxChild(); mc >= 0 {
		return mc
	}
	return c.forkpoint
}

// GetDirectChildren returns the chains whose parent is exactly c.
func (c *Chain) GetDirectChildren() []*Chain {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	return c.directChildrenLocked()
}

// GetBranchSize returns the number of headers unique to this branch: its
// own height minus GetMaxForkpoint, plus one.
func (c *Chain) GetBranchSize() int32 {
	return c.Height() - c.GetMaxForkpoint() + 1
}

// GetName returns a short, human-readable label for this chain: the
// leading zero-stripped hex of the hash at its maximum forkpoint,
// truncated to 10 characters.
func (c *Chain) GetName() (string, error) {
	h, err := c.Hash(c.GetMaxForkpoint())
	if err != nil {
		return "", err
	}
	name := trimLeadingZeros(h)
	if len(name) > 10 {
		name = name[:10]
	}
	return name, nil
}

// GetParentHeights returns, for every ancestor of c including c itself,
// the height of the last block that chain and c have in common. c maps
// to its own current height.
func (c *Chain) GetParentHeights() map[*Chain]int32 {
	result := map[*Chain]int32{c: c.Height()}
	cur := c
	for cur.parent != nil {
		result[cur.parent] = cur.forkpoint - 1
		cur = cur.parent
	}
	return result
}

// GetHeightOfLastCommonBlockWithChain returns the height of the highest
// block shared between c and other's ancestry chains.
func (c *Chain) GetHeightOfLastCommonBlockWithChain(other *Chain) int32 {
	ours := c.GetParentHeights()
	theirs := other.GetParentHeights()
	var best int32
	for chain, ourHeight := range ours {
		if theirHeight, ok := theirs[chain]; ok {
			h := ourHeight
			if theirHeight < h {
				h = theirHeight
			}
			if h > best {
				best = h
			}
		}
	}
	return best
}

// swapWithParent repeatedly promotes c over its parent for as long as it
// keeps winning, reparenting any former siblings that now connect to c
// instead. It is the entry point called after every successful write.
func (c *Chain) swapWithParent() error {
	count := 0
	for {
		swapped, oldParent, err := c.swapOnce()
		if err != nil {
			return err
		}
		if !swapped {
			return nil
		}
		count++
		if count > len(c.reg.All()) {
			return fmt.Errorf("chain: swapping fork with parent too many times: %d", count)
		}

		// Reparenting only needs the registry lock: a sibling's parent
		// pointer is a structural field guarded by c.reg.mu, not by any
		// chain's own mutex. The registry lock is taken only around
		// reads and writes of those fields and released before each
		// CheckHash (which locks c.mu/its own chain's mu internally), so
		// this section never nests a chain lock inside the registry
		// lock, and CheckHash runs without c.mu already held.
		c.reg.mu.RLock()
		siblings := oldParent.directChildrenLocked()
		c.reg.mu.RUnlock()
		for _, sibling := range siblings {
			if sibling == c {
				continue
			}
			c.reg.mu.RLock()
			fp, prevHash := sibling.forkpoint, sibling.prevHash
			c.reg.mu.RUnlock()
			if c.CheckHash(fp-1, prevHash) {
				c.reg.mu.Lock()
				sibling.parent = c
				c.reg.mu.Unlock()
			}
		}
	}
}

// swapOnce implements the REDESIGNED swap trigger: a child is only
// promoted over its parent once its tip height is strictly greater than
// the parent's tip height, rather than the source's unconditional per-save
// attempt (which always rewrote files even when the child could not
// possibly be ahead). See DESIGN.md / SPEC_FULL.md Open Questions #1.
//
// Per SPEC_FULL.md §5, the per-chain lock(s) are acquired before the
// registry lock: swapOnce takes c.mu and parent.mu first, then takes
// c.reg.mu while still holding both, so the registry lock is always the
// innermost lock in this call — never the other way around.
func (c *Chain) swapOnce() (swapped bool, oldParent *Chain, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent := c.parent
	if parent == nil {
		return false, nil, nil
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	childHeight := c.forkpoint + c.size - 1
	parentHeight := parent.forkpoint + parent.size - 1
	if childHeight <= parentHeight {
		return false, nil, nil
	}

	log.Debugf("chain: swapping forkpoint %d with parent forkpoint %d", c.forkpoint, parent.forkpoint)

	forkpoint := c.forkpoint
	childOldID := c.forkpointHash
	parentOldID := parent.forkpointHash
	childOldPath := c.Path()

	myData, err := readAll(childOldPath)
	if err != nil {
		return false, nil, err
	}

	offset := offsetFor(c.params, parent.forkpoint, forkpoint)
	parentData, err := readAllFrom(parent.Path(), offset)
	if err != nil {
		return false, nil, err
	}

	if err := c.write(parentData, 0, true); err != nil {
		return false, nil, err
	}
	if err := parent.write(myData, offset, true); err != nil {
		return false, nil, err
	}

	grandparent := parent.parent
	newParentHash := header.HashRaw(parentData[:header.Size(forkpoint, c.params.EquihashForkHeight)])

	c.parent = grandparent
	parent.parent = c
	c.forkpoint, parent.forkpoint = parent.forkpoint, forkpoint
	c.forkpointHash, parent.forkpointHash = parent.forkpointHash, newParentHash
	c.prevHash, parent.prevHash = parent.prevHash, c.prevHash

	if err := os.Rename(childOldPath, parent.Path()); err != nil {
		return false, nil, err
	}
	if err := c.updateSizeLocked(); err != nil {
		return false, nil, err
	}
	if err := parent.updateSizeLocked(); err != nil {
		return false, nil, err
	}

	delete(c.reg.chains, childOldID)
	delete(c.reg.chains, parentOldID)
	c.reg.chains[c.forkpointHash] = c
	c.reg.chains[parent.forkpointHash] = parent

	return true, parent, nil
}

// readAll reads the entirety of the file at path.
func readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// readAllFrom reads the file at path starting at byte offset to EOF.
func readAllFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

package chain

import (
	"github.com/go-equihash/headerchain/chaincfg"
	"github.com/go-equihash/headerchain/header"
)

// CheckHeader reports whether any chain already registered contains h at
// its own height, returning that chain if so.
func CheckHeader(reg *Registry, h *header.Header) *Chain {
	for _, c := range reg.All() {
		if c.CheckHeader(h) {
			return c
		}
	}
	return nil
}

// CanConnectAny reports which, if any, registered chain h could be
// appended to as its new tip.
func CanConnectAny(reg *Registry, h *header.Header) *Chain {
	for _, c := range reg.All() {
		if ok, err := c.CanConnect(h, true); err == nil && ok {
			return c
		}
	}
	return nil
}

// SaveChunk decodes and persists a 200-header chunk at the given chunk
// index. If the chunk's heights fall inside the checkpoint region and c
// is not the trunk, the write is delegated to the trunk, matching the
// original client's rule that checkpointed heights are always the
// trunk's responsibility regardless of which chain was asked.
//
// A chunk that straddles this chain's forkpoint (its first headers
// belong to the parent) has that prefix discarded; only the suffix
// actually owned by this chain is written.
func (c *Chain) SaveChunk(index int32, data []byte) error {
	startHeight := index * chaincfg.ChunkLen

	if startHeight <= c.params.MaxCheckpoint() && c.parent != nil {
		return c.reg.Trunk().SaveChunk(index, data)
	}

	prevHash, err := c.Hash(startHeight - 1)
	if err != nil {
		return err
	}

	// decoded headers are only needed to drive verification above; the
	// bytes actually persisted are the raw network payload.
	if _, err := VerifyChunk(data, startHeight, prevHash, c, c.params); err != nil {
		return err
	}

	// The spec's offset formula is evaluated with the chunk's
	// already-forkpoint-relative delta_height, not the absolute height:
	// offset(forkpoint, delta_height) rather than offset(forkpoint,
	// startHeight). That reproduces the original client's straddle
	// detection exactly, quirky double-subtraction and all — see
	// DESIGN.md.
	deltaHeight := startHeight - c.forkpoint
	deltaBytes := straddleOffset(c.params, c.forkpoint, deltaHeight)
	writeData := data
	if deltaBytes < 0 {
		discard := -deltaBytes
		if discard > int64(len(writeData)) {
			discard = int64(len(writeData))
		}
		writeData = writeData[discard:]
		deltaBytes = 0
	}

	// Chunks inside the checkpoint region are rewritten in place, never
	// truncated.
	truncate := startHeight > c.params.MaxCheckpoint()
	c.mu.Lock()
	err = c.write(writeData, deltaBytes, truncate)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.swapWithParent()
}

// ConnectChunk verifies and persists a chunk, converting any failure
// (bad linkage, bad bits, insufficient proof of work, I/O error) into a
// bool result instead of propagating the error, matching the original
// client's connect_chunk: a network layer can blacklist the offending
// peer and move on without the process crashing.
func (c *Chain) ConnectChunk(index int32, data []byte) bool {
	return c.SaveChunk(index, data) == nil
}

// straddleOffset computes the byte offset a chunk starting at deltaHeight
// (already relative to forkpoint) lands at, using the chain's own offset
// arithmetic (pre-fork and post-fork records) a second time. Unlike
// offsetFor, the pre-fork term is not clamped at zero, so the result is
// allowed to go negative: that is exactly
// how SaveChunk detects a chunk whose first headers belong to the
// parent, not this chain.
func straddleOffset(params *chaincfg.Params, forkpoint, deltaHeight int32) int64 {
	pre := deltaHeight
	if pre > params.EquihashForkHeight {
		pre = params.EquihashForkHeight
	}
	pre -= forkpoint

	base := forkpoint
	if base < params.EquihashForkHeight {
		base = params.EquihashForkHeight
	}
	post := deltaHeight - base
	if post < 0 {
		post = 0
	}
	return int64(pre)*int64(header.HdrLen) + int64(post)*int64(header.HdrLenFork)
}

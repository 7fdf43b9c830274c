package retarget

import (
	"github.com/jrick/bitset"

	"github.com/go-equihash/headerchain/header"
)

// inFlightWindow bounds how many heights an InFlight context can track
// before falling back to a plain lookup; it is sized generously above a
// chunk (chaincfg.ChunkLen), since a verify pass never holds more than one
// chunk's worth of pending headers at a time.
const inFlightWindow = 256

// InFlight is the rolling context window chunk verification threads
// through the retarget engine: headers that have passed verification but
// are not yet persisted to the store. GetTarget consults it before
// falling back to the backing Source, so a chunk's own headers are
// visible to the retarget of later headers in the same chunk.
//
// filled is a bitset.Bytes rather than a second map: the hot path for
// every retarget lookup is "do I have height h", and a packed bitmap
// answers that without touching the headers map at all.
type InFlight struct {
	headers              map[int32]*header.Header
	filled               bitset.Bytes
	base                 int32
	minHeight, maxHeight int32
	empty                bool
}

// NewInFlight returns an empty in-flight context.
func NewInFlight() *InFlight {
	return &InFlight{
		headers: make(map[int32]*header.Header),
		filled:  bitset.NewBytes(inFlightWindow),
		empty:   true,
	}
}

// Add records h as seen at its own height, extending the window's
// min/max bounds.
func (c *InFlight) Add(h *header.Header) {
	if c.empty {
		c.minHeight, c.maxHeight = h.Height, h.Height
		c.base = h.Height
		c.empty = false
	} else {
		if h.Height < c.minHeight {
			c.minHeight = h.Height
		}
		if h.Height > c.maxHeight {
			c.maxHeight = h.Height
		}
	}
	c.headers[h.Height] = h
	if idx := int(h.Height - c.base); idx >= 0 && idx < inFlightWindow {
		c.filled.Set(idx)
	}
}

// get returns the header at height if it falls within the populated
// window and was actually recorded there.
func (c *InFlight) get(height int32) (*header.Header, bool) {
	if c == nil || c.empty || height < c.minHeight || height > c.maxHeight {
		return nil, false
	}
	if idx := int(height - c.base); idx >= 0 && idx < inFlightWindow && !c.filled.Get(idx) {
		return nil, false
	}
	h, ok := c.headers[height]
	return h, ok
}

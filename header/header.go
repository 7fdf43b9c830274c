// Package header implements the wire encoding of a block header for an
// Equihash-based proof-of-work chain and the handful of pure functions
// that are derived from it: its hash, and the height-dependent on-disk
// size that drives every offset calculation in package chain.
package header

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

const (
	// HdrLen is the serialized size, in bytes, of a header below the
	// Equihash fork height: no solution field is present.
	HdrLen = 143

	// HdrLenFork is the serialized size, in bytes, of a header at or
	// above the Equihash fork height, including its solution.
	HdrLenFork = 1487

	// solutionLen is the number of solution bytes a post-fork header
	// carries; derived from the two constants above.
	solutionLen = HdrLenFork - HdrLen
)

// ErrInvalidHeader is returned by Deserialize when the supplied bytes
// cannot possibly encode a header at the given height or carry a sol_size
// tag that does not match them.
type ErrInvalidHeader struct {
	Reason string
}

func (e *ErrInvalidHeader) Error() string {
	return "invalid header: " + e.Reason
}

// Header is a decoded header record. PrevBlockHash, MerkleRoot and
// ReservedHash are kept in the same byte order the wire format uses
// (natural/network order, not reversed-for-display order); use
// chainhash.Hash.String() to print them the way a block explorer would.
type Header struct {
	Version       uint32
	PrevBlockHash chainhash.Hash
	MerkleRoot    chainhash.Hash
	ReservedHash  chainhash.Hash
	Timestamp     uint32
	Bits          uint32
	Nonce         [32]byte
	Solution      []byte

	// Height is attached at deserialization time; it is never part of
	// the wire encoding itself.
	Height int32
}

// Size returns the on-disk/wire size, in bytes, of a header at the given
// height. This is the single source of truth other packages consult to
// know how many bytes to read or write for a given height; never compute
// it independently elsewhere.
func Size(height int32, equihashForkHeight int32) int {
	if height < equihashForkHeight {
		return HdrLen
	}
	return HdrLenFork
}

// Serialize encodes h in wire format: little-endian scalars, natural byte
// order hashes, a 3-byte big-endian solution length tag followed by the
// solution itself. A nil/zero PrevBlockHash (the genesis case) serializes
// as 32 zero bytes, which is also chainhash.Hash's zero value, so no
// special case is required here.
func (h *Header) Serialize() []byte {
	size := HdrLen + len(h.Solution)
	buf := make([]byte, size)

	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevBlockHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	copy(buf[68:100], h.ReservedHash[:])
	binary.LittleEndian.PutUint32(buf[100:104], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[104:108], h.Bits)
	copy(buf[108:140], h.Nonce[:])
	putSolSize(buf[140:143], len(h.Solution))
	copy(buf[143:], h.Solution)

	return buf
}

// Deserialize decodes a header from b, which must be exactly
// Size(height, equihashForkHeight) bytes. The sol_size length tag is
// validated against the actual remaining byte count rather than trusted,
// per the fixed-width, height-derived sizing this format relies on.
func Deserialize(b []byte, height int32, equihashForkHeight int32) (*Header, error) {
	want := Size(height, equihashForkHeight)
	if len(b) != want {
		return nil, &ErrInvalidHeader{fmt.Sprintf("length %d at height %d, want %d", len(b), height, want)}
	}

	h := &Header{Height: height}
	h.Version = binary.LittleEndian.Uint32(b[0:4])
	copy(h.PrevBlockHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	copy(h.ReservedHash[:], b[68:100])
	h.Timestamp = binary.LittleEndian.Uint32(b[100:104])
	h.Bits = binary.LittleEndian.Uint32(b[104:108])
	copy(h.Nonce[:], b[108:140])

	solSize := solSizeOf(b[140:143])
	if solSize != len(b)-143 {
		return nil, &ErrInvalidHeader{fmt.Sprintf("sol_size tag %d does not match remaining %d bytes", solSize, len(b)-143)}
	}
	h.Solution = append([]byte(nil), b[143:]...)

	return h, nil
}

// Hash returns the double-SHA256 of the serialized header, as a
// chainhash.Hash. chainhash.Hash.String() prints this reversed, matching
// how this chain's explorers and the original client display it.
func Hash(h *Header) chainhash.Hash {
	first := sha256.Sum256(h.Serialize())
	second := sha256.Sum256(first[:])
	return chainhash.Hash(second)
}

// HashRaw hashes an already-serialized header, used when reconstructing a
// hash from raw bytes moved during a chain swap without round-tripping
// through Deserialize first.
func HashRaw(b []byte) chainhash.Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return chainhash.Hash(second)
}

func putSolSize(dst []byte, n int) {
	dst[0] = byte(n >> 16)
	dst[1] = byte(n >> 8)
	dst[2] = byte(n)
}

func solSizeOf(src []byte) int {
	return int(src[0])<<16 | int(src[1])<<8 | int(src[2])
}

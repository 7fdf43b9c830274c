package chain

import (
	"math/big"

	"github.com/decred/dcrd/chaincfg/chainhash"

	"github.com/go-equihash/headerchain/chaincfg"
	"github.com/go-equihash/headerchain/header"
	"github.com/go-equihash/headerchain/retarget"
	"github.com/go-equihash/headerchain/target"
)

// VerifyHeader checks h against the linkage and proof-of-work a chain
// expects at its height: its PrevBlockHash must match what the chain
// already has at height-1, its bits must equal the compact form of the
// target the retarget engine computed, and its own hash must not exceed
// that target.
//
// On TestNet, proof-of-work is not checked at all, matching the original
// client's testnet short-circuit (SPEC_FULL.md Open Questions #3); this
// path is never exercised by the default mainnet build.
func VerifyHeader(h *header.Header, expectedPrevHash chainhash.Hash, expectedTarget *big.Int, testNet bool) error {
	if h.PrevBlockHash != expectedPrevHash {
		return &ErrInvalidHeader{"prev block hash mismatch"}
	}
	if testNet {
		return nil
	}
	if wantBits := target.TargetToBits(expectedTarget); wantBits != h.Bits {
		return &ErrInvalidHeader{"bits mismatch"}
	}
	hash := header.Hash(h)
	hashInt := new(big.Int).SetBytes(reverseBytes(hash[:]))
	if hashInt.Cmp(expectedTarget) > 0 {
		return &ErrInvalidHeader{"insufficient proof of work"}
	}
	return nil
}

// reverseBytes returns a copy of b with byte order reversed, converting a
// hash from the wire's natural byte order into the big-endian order
// big.Int.SetBytes expects for numeric comparison against a target.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// VerifyChunk decodes and verifies a run of headers starting at height,
// threading a rolling InFlight context through GetTarget so that later
// headers in the same chunk can retarget against earlier ones that have
// not yet been persisted. Any failure aborts the whole chunk and returns
// the headers successfully decoded so far alongside the error, so a
// caller may log how far verification got.
func VerifyChunk(data []byte, height int32, prevHash chainhash.Hash, src retarget.Source, params *chaincfg.Params) ([]*header.Header, error) {
	ctx := retarget.NewInFlight()
	out := make([]*header.Header, 0, len(data)/header.HdrLen+1)

	pos := 0
	for pos < len(data) {
		sz := header.Size(height, params.EquihashForkHeight)
		if pos+sz > len(data) {
			return out, &ErrInvalidHeader{"truncated chunk"}
		}

		h, err := header.Deserialize(data[pos:pos+sz], height, params.EquihashForkHeight)
		if err != nil {
			return out, err
		}

		expectedTarget, err := retarget.GetTarget(height, ctx, src, params)
		if err != nil {
			return out, err
		}
		if err := VerifyHeader(h, prevHash, expectedTarget, params.TestNet); err != nil {
			return out, err
		}

		out = append(out, h)
		ctx.Add(h)
		prevHash = header.Hash(h)
		height++
		pos += sz
	}

	return out, nil
}

// Package chaincfg holds the network-specific constants a header store and
// verifier needs: the genesis hash, the compiled-in checkpoint table, and
// the heights at which consensus rules change.
package chaincfg

import (
	"math/big"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// Consensus constants shared by every network this package knows about.
// These come from the original client unchanged.
const (
	// ChunkLen is the number of headers in one network chunk message.
	ChunkLen = 200

	// PowAveragingWindow is the number of blocks the Digishield retarget
	// averages over.
	PowAveragingWindow = 17

	// PowMedianBlockSpan is the number of blocks a median-time
	// calculation looks back across.
	PowMedianBlockSpan = 11

	// PowMaxAdjustDown and PowMaxAdjustUp bound how far a single
	// Digishield retarget may move the timespan, as a percentage.
	PowMaxAdjustDown = 32
	PowMaxAdjustUp   = 16

	// PowDampingFactor damps the raw observed timespan before it is
	// clamped and applied.
	PowDampingFactor = 4

	// PowTargetSpacing is the target seconds between blocks.
	PowTargetSpacing = 60

	// EHEpoch1End is the height at which the first Equihash parameter
	// epoch ends; targets are floored to MinTarget in the window
	// leading up to it.
	EHEpoch1End = 266000

	// LWMAForkBlock is the height at which retargeting switches from
	// Digishield to Zawy's LWMA-3.
	LWMAForkBlock = 765000

	// ZawyLWMA3AveragingWindow is the number of blocks the LWMA-3
	// retarget averages over.
	ZawyLWMA3AveragingWindow = 60

	// EquihashForkHeight is the height at which the header format grows
	// to include an Equihash solution.
	EquihashForkHeight = 87550
)

// Checkpoint pins the hash and post-chunk target of the last header in a
// 200-header chunk. Headers at or below the height implied by the last
// checkpoint are trusted without re-verifying proof of work.
type Checkpoint struct {
	Hash   chainhash.Hash
	Target *big.Int
}

// Params groups the parameters for a single network.
type Params struct {
	Name string

	// GenesisHash is the hash of height 0, used as PrevBlockHash for the
	// first real header and as the trunk chain's identity.
	GenesisHash chainhash.Hash

	// Checkpoints is ordered from oldest to newest, one entry per
	// trusted chunk boundary.
	Checkpoints []Checkpoint

	// EquihashForkHeight, EHEpoch1End and LWMAForkBlock are per-network
	// so test networks can move them.
	EquihashForkHeight int32
	EHEpoch1End        int32
	LWMAForkBlock      int32

	// TestNet disables bits/PoW verification in VerifyHeader, matching
	// the original client's testnet short-circuit. Not exercised by the
	// default build; see SPEC_FULL.md Open Questions.
	TestNet bool
}

// MaxCheckpoint returns the height of the last header covered by the
// checkpoint table, or -1 if there are none.
func (p *Params) MaxCheckpoint() int32 {
	if len(p.Checkpoints) == 0 {
		return -1
	}
	return int32(len(p.Checkpoints))*ChunkLen - 1
}

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic("chaincfg: invalid hash constant " + s + ": " + err.Error())
	}
	return *h
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("chaincfg: invalid hex constant " + s)
	}
	return n
}

// MainNetParams returns the parameters for the main network.
//
// The checkpoint table below is a small, internally consistent synthetic
// set, not real chain data: this repository has no access to a live
// network to compile a real checkpoint list from. It exists so tests can
// exercise the checkpoint-region code path (chunks at or below
// MaxCheckpoint are the trunk's responsibility even when requested through
// a fork) without asserting anything about a real coin's history.
func MainNetParams() *Params {
	return &Params{
		Name:               "mainnet",
		GenesisHash:        mustHash("00040fe8ec8471911baa1db1266ea15dd06b4a8a5c453883c000b031973dce08"),
		EquihashForkHeight: EquihashForkHeight,
		EHEpoch1End:        EHEpoch1End,
		LWMAForkBlock:      LWMAForkBlock,
		Checkpoints: []Checkpoint{
			{
				Hash:   mustHash("0000000003eb1465412b7fdb99a4a130ed4fc84fe66a90c6b4bdcba2c9cd5e1c"),
				Target: mustBig("0007ffff00000000000000000000000000000000000000000000000000000000"),
			},
		},
	}
}

// RegTestParams returns parameters for a local, checkpoint-free network
// used by tests that need to exercise fork/reorg behaviour from height 0
// without a checkpoint region getting in the way.
func RegTestParams() *Params {
	return &Params{
		Name:               "regtest",
		GenesisHash:        mustHash("0000000000000000000000000000000000000000000000000000000000000000"),
		EquihashForkHeight: EquihashForkHeight,
		EHEpoch1End:        EHEpoch1End,
		LWMAForkBlock:      LWMAForkBlock,
	}
}

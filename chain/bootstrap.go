package chain

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/decred/dcrd/chaincfg/chainhash"

	"github.com/go-equihash/headerchain/chaincfg"
	"github.com/go-equihash/headerchain/header"
)

// ReadBlockchains scans headersDir at process start, rebuilds the trunk
// and every consistent fork file it finds into a fresh Registry, and
// unlinks anything that fails to connect. It is the sole entry point for
// populating a Registry from disk; callers never construct one any other
// way.
func ReadBlockchains(params *chaincfg.Params, headersDir string) (*Registry, error) {
	if err := os.MkdirAll(headersDir, 0755); err != nil {
		return nil, err
	}

	reg := NewRegistry(params, headersDir)
	trunk := reg.newTrunk()
	if err := trunk.updateSize(); err != nil {
		return nil, err
	}

	if trunk.Height() > params.MaxCheckpoint() {
		if ok, err := trunkConnectsAboveCheckpoint(trunk); err != nil {
			return nil, err
		} else if !ok {
			if err := os.Remove(trunk.Path()); err != nil && !os.IsNotExist(err) {
				return nil, err
			}
			trunk.size = 0
		}
	}

	forksDir := filepath.Join(headersDir, "forks")
	entries, err := os.ReadDir(forksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, err
	}

	type parsedFork struct {
		name          string
		forkpoint     int32
		prevHash      chainhash.Hash
		forkpointHash chainhash.Hash
	}
	var forks []parsedFork
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fp, prevHash, forkpointHash, ok := parseForkFilename(entry.Name())
		if !ok {
			continue
		}
		forks = append(forks, parsedFork{entry.Name(), fp, prevHash, forkpointHash})
	}
	sort.Slice(forks, func(i, j int) bool { return forks[i].forkpoint < forks[j].forkpoint })

	for _, f := range forks {
		path := filepath.Join(forksDir, f.name)

		if f.forkpoint <= params.MaxCheckpoint() {
			os.Remove(path)
			continue
		}

		parent := findParentByPrevHash(reg, f.forkpoint, f.prevHash)
		if parent == nil {
			os.Remove(path)
			continue
		}

		c := newChain(reg, params, headersDir, f.forkpoint, parent, f.forkpointHash, f.prevHash)
		if err := c.updateSize(); err != nil {
			return nil, err
		}

		first, err := c.Header(f.forkpoint)
		if err != nil || first == nil {
			os.Remove(path)
			continue
		}
		if header.Hash(first) != f.forkpointHash {
			os.Remove(path)
			continue
		}

		if ok, err := parent.CanConnect(first, false); err != nil || !ok {
			os.Remove(path)
			continue
		}

		if c.ID() != f.forkpointHash {
			os.Remove(path)
			continue
		}

		reg.chains[c.ID()] = c
	}

	return reg, nil
}

// trunkConnectsAboveCheckpoint verifies that the header immediately above
// the checkpoint region still connects to its predecessor, catching a
// trunk file that was truncated or corrupted mid-write.
func trunkConnectsAboveCheckpoint(trunk *Chain) (bool, error) {
	height := trunk.params.MaxCheckpoint() + 1
	if height > trunk.Height() {
		return true, nil
	}
	h, err := trunk.Header(height)
	if err != nil {
		return false, err
	}
	if h == nil {
		return false, nil
	}
	prevHash, err := trunk.Hash(height - 1)
	if err != nil {
		return false, err
	}
	return h.PrevBlockHash == prevHash, nil
}

// findParentByPrevHash scans the registry for a chain whose hash at
// forkpoint-1 equals prevHash: the parent a fork file claims to have.
func findParentByPrevHash(reg *Registry, forkpoint int32, prevHash chainhash.Hash) *Chain {
	for _, c := range reg.All() {
		if c.CheckHash(forkpoint-1, prevHash) {
			return c
		}
	}
	return nil
}

// parseForkFilename parses "fork2_<forkpoint>_<prevHash>_<forkpointHash>"
// back into its fields, left-padding the leading-zero-stripped hash
// fields to 64 hex characters.
func parseForkFilename(name string) (forkpoint int32, prevHash, forkpointHash chainhash.Hash, ok bool) {
	if strings.Contains(name, ".") {
		return 0, chainhash.Hash{}, chainhash.Hash{}, false
	}
	parts := strings.Split(name, "_")
	if len(parts) != 4 || parts[0] != "fork2" {
		return 0, chainhash.Hash{}, chainhash.Hash{}, false
	}

	fp, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, chainhash.Hash{}, chainhash.Hash{}, false
	}

	prev, err := parsePaddedHash(parts[2])
	if err != nil {
		return 0, chainhash.Hash{}, chainhash.Hash{}, false
	}
	fph, err := parsePaddedHash(parts[3])
	if err != nil {
		return 0, chainhash.Hash{}, chainhash.Hash{}, false
	}

	return int32(fp), prev, fph, true
}

// parsePaddedHash decodes a hex string produced by trimLeadingZeros back
// into a Hash. The string is natural (wire) byte order, matching how
// Path builds filenames — not chainhash's reversed display order, so
// this decodes directly with encoding/hex rather than
// chainhash.NewHashFromStr.
func parsePaddedHash(s string) (chainhash.Hash, error) {
	if len(s) > 64 {
		return chainhash.Hash{}, fmt.Errorf("chain: hash field too long: %s", s)
	}
	padded := strings.Repeat("0", 64-len(s)) + s
	b, err := hex.DecodeString(padded)
	if err != nil {
		return chainhash.Hash{}, err
	}
	var h chainhash.Hash
	copy(h[:], b)
	return h, nil
}

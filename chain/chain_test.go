package chain

import (
	"bytes"
	"testing"

	"github.com/decred/dcrd/chaincfg/chainhash"

	"github.com/go-equihash/headerchain/chaincfg"
	"github.com/go-equihash/headerchain/header"
)

// testParams returns a checkpoint-free network so fork/reorg behaviour can
// be exercised from height 0, with testnet PoW checks disabled so tests can
// build headers without mining real solutions.
func testParams() *chaincfg.Params {
	p := chaincfg.RegTestParams()
	p.TestNet = true
	return p
}

// buildHeader constructs the next header for c at height, chaining its
// prev_block_hash from c's own view of the preceding height.
func buildHeader(t *testing.T, c *Chain, height int32, salt byte) *header.Header {
	t.Helper()
	prevHash, err := c.Hash(height - 1)
	if err != nil {
		t.Fatalf("Hash(%d): %v", height-1, err)
	}
	h := &header.Header{
		Height:        height,
		Version:       1,
		PrevBlockHash: prevHash,
		Timestamp:     uint32(1600000000 + height*60),
		Bits:          0x1d00ffff,
	}
	h.MerkleRoot[0] = salt
	return h
}

// buildChunk serializes n consecutive headers starting at startHeight,
// chaining each one's prev_block_hash from the real hash of the one
// before it rather than through any chain's checkpoint shortcuts.
func buildChunk(startHeight int32, n int, firstPrevHash chainhash.Hash) ([]byte, []*header.Header) {
	var buf bytes.Buffer
	headers := make([]*header.Header, 0, n)
	prev := firstPrevHash
	for i := 0; i < n; i++ {
		height := startHeight + int32(i)
		h := &header.Header{
			Height:        height,
			Version:       1,
			PrevBlockHash: prev,
			Timestamp:     uint32(1600000000 + height*60),
			Bits:          0x1d00ffff,
		}
		h.MerkleRoot[0] = byte(height)
		buf.Write(h.Serialize())
		headers = append(headers, h)
		prev = header.Hash(h)
	}
	return buf.Bytes(), headers
}

func TestBootstrapFreshDirectoryIsGenesisOnly(t *testing.T) {
	dir := t.TempDir()
	params := testParams()

	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}

	chains := reg.All()
	if len(chains) != 1 {
		t.Fatalf("expected exactly one chain after bootstrap, got %d", len(chains))
	}
	trunk := reg.Trunk()
	if trunk == nil {
		t.Fatal("no trunk registered")
	}
	if trunk.ID() != params.GenesisHash {
		t.Fatalf("trunk id = %s, want genesis hash %s", trunk.ID(), params.GenesisHash)
	}
	if trunk.Height() != -1 {
		t.Fatalf("fresh trunk height = %d, want -1", trunk.Height())
	}

	got, err := trunk.Hash(0)
	if err != nil {
		t.Fatalf("Hash(0): %v", err)
	}
	if got != params.GenesisHash {
		t.Fatalf("Hash(0) = %s, want genesis hash", got)
	}
	if got, err := trunk.Hash(-1); err != nil || got != (chainhash.Hash{}) {
		t.Fatalf("Hash(-1) = %s, %v; want zero hash, nil", got, err)
	}
}

func TestSaveHeaderLinearExtension(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	for height := int32(0); height < 5; height++ {
		h := buildHeader(t, trunk, height, byte(height))
		if err := trunk.SaveHeader(h); err != nil {
			t.Fatalf("SaveHeader(%d): %v", height, err)
		}
	}
	if trunk.Height() != 4 {
		t.Fatalf("height = %d, want 4", trunk.Height())
	}

	got, err := trunk.Header(2)
	if err != nil {
		t.Fatalf("Header(2): %v", err)
	}
	if got == nil {
		t.Fatal("Header(2) = nil")
	}
	if got.MerkleRoot[0] != 2 {
		t.Fatalf("Header(2).MerkleRoot[0] = %d, want 2", got.MerkleRoot[0])
	}

	notYet, err := trunk.Header(5)
	if err != nil {
		t.Fatalf("Header(5) (not yet written): %v", err)
	}
	if notYet != nil {
		t.Fatalf("Header(5) = %v, want nil (not yet written)", notYet)
	}
}

func TestSaveHeaderRejectsNonSequentialHeight(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	h := &header.Header{Height: 3, Version: 1} // trunk is empty, expects height 0 first
	if err := trunk.SaveHeader(h); err == nil {
		t.Fatal("expected error saving out-of-sequence header, got nil")
	}
	if trunk.Height() != -1 {
		t.Fatalf("height changed after rejected save: %d", trunk.Height())
	}
}

// TestForkOvertakesTrunk exercises the core reorg scenario: a fork created
// below the trunk's tip is extended past it and swaps places, demoting the
// original trunk tail to a fork of the new one.
func TestForkOvertakesTrunk(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	for height := int32(0); height <= 10; height++ {
		h := buildHeader(t, trunk, height, byte(height))
		if err := trunk.SaveHeader(h); err != nil {
			t.Fatalf("SaveHeader(%d): %v", height, err)
		}
	}

	forkHeader := buildHeader(t, trunk, 5, 105)
	fork, err := Fork(trunk, forkHeader)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if fork.Height() != 5 {
		t.Fatalf("fork height = %d, want 5", fork.Height())
	}
	if len(reg.All()) != 2 {
		t.Fatalf("expected 2 chains after fork, got %d", len(reg.All()))
	}
	if reg.Trunk() != trunk {
		t.Fatal("trunk changed after a fork shorter than it")
	}

	for height := int32(6); height <= 11; height++ {
		h := buildHeader(t, fork, height, byte(height+100))
		if err := fork.SaveHeader(h); err != nil {
			t.Fatalf("SaveHeader(%d) on fork: %v", height, err)
		}
	}

	newTrunk := reg.Trunk()
	if newTrunk != fork {
		t.Fatal("expected fork to become trunk after overtaking it")
	}
	if newTrunk.Height() != 11 {
		t.Fatalf("new trunk height = %d, want 11", newTrunk.Height())
	}
	if newTrunk.ID() != params.GenesisHash {
		t.Fatalf("new trunk id = %s, want genesis hash", newTrunk.ID())
	}

	var demoted *Chain
	for _, c := range reg.All() {
		if c != newTrunk {
			demoted = c
		}
	}
	if demoted == nil {
		t.Fatal("no demoted branch found")
	}
	if demoted != trunk {
		t.Fatal("expected the original trunk object to become the demoted branch")
	}
	if demoted.Forkpoint() != 5 {
		t.Fatalf("demoted forkpoint = %d, want 5", demoted.Forkpoint())
	}
	if demoted.Height() != 10 {
		t.Fatalf("demoted height = %d, want 10", demoted.Height())
	}

	gotDemoted, err := demoted.Header(5)
	if err != nil {
		t.Fatalf("demoted.Header(5): %v", err)
	}
	if gotDemoted.MerkleRoot[0] != 5 {
		t.Fatalf("demoted height 5 merkle[0] = %d, want 5 (original trunk content)", gotDemoted.MerkleRoot[0])
	}

	gotNew, err := newTrunk.Header(5)
	if err != nil {
		t.Fatalf("newTrunk.Header(5): %v", err)
	}
	if gotNew.MerkleRoot[0] != 105 {
		t.Fatalf("new trunk height 5 merkle[0] = %d, want 105 (fork content)", gotNew.MerkleRoot[0])
	}

	// Heights below the forkpoint are shared ancestry and must read
	// identically from both chains.
	gotNewLow, err := newTrunk.Header(3)
	if err != nil {
		t.Fatalf("newTrunk.Header(3): %v", err)
	}
	if gotNewLow.MerkleRoot[0] != 3 {
		t.Fatalf("new trunk height 3 merkle[0] = %d, want 3 (shared ancestry)", gotNewLow.MerkleRoot[0])
	}
}

func TestSaveChunkLinear(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	data, headers := buildChunk(0, int(chaincfg.ChunkLen), chainhash.Hash{})
	if err := trunk.SaveChunk(0, data); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	if trunk.Height() != chaincfg.ChunkLen-1 {
		t.Fatalf("height = %d, want %d", trunk.Height(), chaincfg.ChunkLen-1)
	}

	got, err := trunk.Header(50)
	if err != nil {
		t.Fatalf("Header(50): %v", err)
	}
	if got == nil || got.MerkleRoot[0] != headers[50].MerkleRoot[0] {
		t.Fatalf("Header(50) = %v, want merkle[0] = %d", got, headers[50].MerkleRoot[0])
	}
}

func TestConnectChunkRejectsBadLinkage(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	data, _ := buildChunk(0, int(chaincfg.ChunkLen), chainhash.Hash{})
	data[4] ^= 0xff // corrupt the first byte of the genesis header's prev_block_hash

	if trunk.ConnectChunk(0, data) {
		t.Fatal("ConnectChunk accepted a chunk with bad genesis linkage")
	}
	if trunk.Height() != -1 {
		t.Fatalf("height changed after a rejected chunk: %d", trunk.Height())
	}
}

func TestBootstrapRoundTrip(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	for height := int32(0); height <= 10; height++ {
		h := buildHeader(t, trunk, height, byte(height))
		if err := trunk.SaveHeader(h); err != nil {
			t.Fatalf("SaveHeader(%d): %v", height, err)
		}
	}
	forkHeader := buildHeader(t, trunk, 8, 200)
	if _, err := Fork(trunk, forkHeader); err != nil {
		t.Fatalf("Fork: %v", err)
	}

	reg2, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains (reload): %v", err)
	}

	if len(reg2.All()) != len(reg.All()) {
		t.Fatalf("reloaded registry has %d chains, want %d", len(reg2.All()), len(reg.All()))
	}
	reloadedTrunk := reg2.Trunk()
	if reloadedTrunk == nil {
		t.Fatal("reloaded registry has no trunk")
	}
	if reloadedTrunk.Height() != trunk.Height() {
		t.Fatalf("reloaded trunk height = %d, want %d", reloadedTrunk.Height(), trunk.Height())
	}

	for _, c := range reg.All() {
		other := reg2.Get(c.ID())
		if other == nil {
			t.Fatalf("reloaded registry missing chain %s", c.ID())
		}
		if other.Forkpoint() != c.Forkpoint() || other.Height() != c.Height() {
			t.Fatalf("chain %s: forkpoint/height mismatch after reload (got %d/%d, want %d/%d)",
				c.ID(), other.Forkpoint(), other.Height(), c.Forkpoint(), c.Height())
		}
	}

	// Reloading a second time from the now-stable directory must be
	// idempotent: no fork files should have been dropped as inconsistent.
	reg3, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains (second reload): %v", err)
	}
	if len(reg3.All()) != len(reg2.All()) {
		t.Fatalf("second reload has %d chains, want %d", len(reg3.All()), len(reg2.All()))
	}
}

func TestCanConnectSwallowsMissingHeader(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	// trunk is empty: asking whether a header far in the future connects
	// requires retarget context this store does not have yet. CanConnect
	// must report (false, nil), never propagate ErrMissingHeader.
	h := &header.Header{Height: 500, PrevBlockHash: chainhash.Hash{42}}
	ok, err := trunk.CanConnect(h, false)
	if err != nil {
		t.Fatalf("CanConnect returned an error instead of swallowing it: %v", err)
	}
	if ok {
		t.Fatal("CanConnect reported true for an unconnectable header")
	}
}

func TestCheckHeaderFindsRegisteredChain(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	// Hash(0) is pinned to the genesis hash, so the header looked up here
	// sits at height 1.
	if err := trunk.SaveHeader(buildHeader(t, trunk, 0, 0)); err != nil {
		t.Fatalf("SaveHeader(0): %v", err)
	}
	h := buildHeader(t, trunk, 1, 7)
	if err := trunk.SaveHeader(h); err != nil {
		t.Fatalf("SaveHeader: %v", err)
	}

	if got := CheckHeader(reg, h); got != trunk {
		t.Fatalf("CheckHeader = %v, want trunk", got)
	}

	other := &header.Header{Height: 0, PrevBlockHash: chainhash.Hash{99}}
	if got := CheckHeader(reg, other); got != nil {
		t.Fatalf("CheckHeader matched an unrelated header: %v", got)
	}
}

// TestForkOvertakesTrunkReparentsSibling extends TestForkOvertakesTrunk
// with a third chain: a sibling forked off the original trunk below the
// swap point. Its prev_hash lies in the shared-ancestry region both the
// old and new trunk agree on, so once the other fork overtakes the trunk
// it must be re-parented onto the new trunk rather than left pointing at
// the now-demoted branch.
func TestForkOvertakesTrunkReparentsSibling(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	for height := int32(0); height <= 10; height++ {
		h := buildHeader(t, trunk, height, byte(height))
		if err := trunk.SaveHeader(h); err != nil {
			t.Fatalf("SaveHeader(%d): %v", height, err)
		}
	}

	siblingHeader := buildHeader(t, trunk, 3, 203)
	sibling, err := Fork(trunk, siblingHeader)
	if err != nil {
		t.Fatalf("Fork (sibling): %v", err)
	}
	if sibling.Parent() != trunk {
		t.Fatal("sibling's parent is not the original trunk object")
	}

	forkHeader := buildHeader(t, trunk, 5, 105)
	fork, err := Fork(trunk, forkHeader)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if len(reg.All()) != 3 {
		t.Fatalf("expected 3 chains after both forks, got %d", len(reg.All()))
	}

	for height := int32(6); height <= 11; height++ {
		h := buildHeader(t, fork, height, byte(height+100))
		if err := fork.SaveHeader(h); err != nil {
			t.Fatalf("SaveHeader(%d) on fork: %v", height, err)
		}
	}

	newTrunk := reg.Trunk()
	if newTrunk != fork {
		t.Fatal("expected fork to become trunk after overtaking it")
	}

	var demoted *Chain
	for _, c := range reg.All() {
		if c != newTrunk && c != sibling {
			demoted = c
		}
	}
	if demoted == nil {
		t.Fatal("no demoted branch found")
	}
	if demoted != trunk {
		t.Fatal("expected the original trunk object to become the demoted branch")
	}

	if sibling.Parent() != newTrunk {
		t.Fatalf("sibling.Parent() = %v, want new trunk %v (expected re-parenting)", sibling.Parent(), newTrunk)
	}
	if sibling.Forkpoint() != 3 {
		t.Fatalf("sibling forkpoint changed by reparenting: got %d, want 3", sibling.Forkpoint())
	}

	got, err := sibling.Header(3)
	if err != nil {
		t.Fatalf("sibling.Header(3): %v", err)
	}
	if got.MerkleRoot[0] != 203 {
		t.Fatalf("sibling.Header(3).MerkleRoot[0] = %d, want 203", got.MerkleRoot[0])
	}
}

// TestChainHelpersOnForkedTree exercises the SUPPLEMENTED FEATURES helper
// methods against a small two-chain tree: a trunk and a shorter fork that
// never overtakes it.
func TestChainHelpersOnForkedTree(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	for height := int32(0); height <= 10; height++ {
		h := buildHeader(t, trunk, height, byte(height))
		if err := trunk.SaveHeader(h); err != nil {
			t.Fatalf("SaveHeader(%d): %v", height, err)
		}
	}

	forkHeader := buildHeader(t, trunk, 5, 105)
	fork, err := Fork(trunk, forkHeader)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	for height := int32(6); height <= 9; height++ {
		h := buildHeader(t, fork, height, byte(height+100))
		if err := fork.SaveHeader(h); err != nil {
			t.Fatalf("SaveHeader(%d) on fork: %v", height, err)
		}
	}
	if fork.Height() >= trunk.Height() {
		t.Fatalf("fork height %d must stay below trunk height %d for this test", fork.Height(), trunk.Height())
	}

	children := trunk.GetDirectChildren()
	if len(children) != 1 || children[0] != fork {
		t.Fatalf("trunk.GetDirectChildren() = %v, want [fork]", children)
	}

	if got := trunk.GetMaxChild(); got != 5 {
		t.Fatalf("trunk.GetMaxChild() = %d, want 5", got)
	}
	if got := trunk.GetMaxForkpoint(); got != 5 {
		t.Fatalf("trunk.GetMaxForkpoint() = %d, want 5", got)
	}
	if got := fork.GetMaxForkpoint(); got != 5 {
		t.Fatalf("fork.GetMaxForkpoint() (no children of its own) = %d, want 5", got)
	}

	if got, want := trunk.GetBranchSize(), trunk.Height()-5+1; got != want {
		t.Fatalf("trunk.GetBranchSize() = %d, want %d", got, want)
	}

	name, err := fork.GetName()
	if err != nil {
		t.Fatalf("fork.GetName(): %v", err)
	}
	if name == "" || len(name) > 10 {
		t.Fatalf("fork.GetName() = %q, want a non-empty string of at most 10 characters", name)
	}

	trunkHeights := trunk.GetParentHeights()
	if len(trunkHeights) != 1 || trunkHeights[trunk] != trunk.Height() {
		t.Fatalf("trunk.GetParentHeights() = %v, want {trunk: %d}", trunkHeights, trunk.Height())
	}

	forkHeights := fork.GetParentHeights()
	if got, want := forkHeights[fork], fork.Height(); got != want {
		t.Fatalf("fork.GetParentHeights()[fork] = %d, want %d", got, want)
	}
	if got, want := forkHeights[trunk], fork.Forkpoint()-1; got != want {
		t.Fatalf("fork.GetParentHeights()[trunk] = %d, want %d", got, want)
	}

	if got := trunk.GetHeightOfLastCommonBlockWithChain(fork); got != 4 {
		t.Fatalf("trunk.GetHeightOfLastCommonBlockWithChain(fork) = %d, want 4", got)
	}
	if got := fork.GetHeightOfLastCommonBlockWithChain(trunk); got != 4 {
		t.Fatalf("fork.GetHeightOfLastCommonBlockWithChain(trunk) = %d, want 4", got)
	}
}

// TestGetCheckpoints checks that a chain whose tip is the last header of
// chunk 0 reports no checkpoint yet, and that once one header of the next
// chunk is saved it reports exactly one checkpoint, for chunk 0.
func TestGetCheckpoints(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	reg, err := ReadBlockchains(params, dir)
	if err != nil {
		t.Fatalf("ReadBlockchains: %v", err)
	}
	trunk := reg.Trunk()

	data, headers := buildChunk(0, int(chaincfg.ChunkLen), chainhash.Hash{})
	if err := trunk.SaveChunk(0, data); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}

	if cps, err := trunk.GetCheckpoints(); err != nil {
		t.Fatalf("GetCheckpoints (tip at end of chunk 0): %v", err)
	} else if len(cps) != 0 {
		t.Fatalf("GetCheckpoints() = %d entries, want 0 (no header past chunk 0 yet)", len(cps))
	}

	firstOfNextChunk := buildHeader(t, trunk, chaincfg.ChunkLen, 1)
	if err := trunk.SaveHeader(firstOfNextChunk); err != nil {
		t.Fatalf("SaveHeader(%d): %v", chaincfg.ChunkLen, err)
	}

	cps, err := trunk.GetCheckpoints()
	if err != nil {
		t.Fatalf("GetCheckpoints: %v", err)
	}
	if len(cps) != 1 {
		t.Fatalf("GetCheckpoints() = %d entries, want 1", len(cps))
	}

	wantHash := header.Hash(headers[chaincfg.ChunkLen-1])
	if cps[0].Hash != wantHash {
		t.Fatalf("checkpoint hash = %s, want %s (last header of chunk 0)", cps[0].Hash, wantHash)
	}
}

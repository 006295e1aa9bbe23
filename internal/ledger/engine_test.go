package ledger

import (
	"fmt"
	"strings"
	"testing"

	"github.com/synnergy-cubic/cubicledger/internal/events"
	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
	"github.com/synnergy-cubic/cubicledger/internal/store"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

func mustUTXO(t *testing.T, amount, validationTimestamp int) *txtypes.Transaction {
	t.Helper()
	raw := fmt.Sprintf(`{"type":"utxo","from":"A","to":"B","amount":%d}`, amount)
	tx, err := txtypes.FromReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse tx: %v", err)
	}
	return tx.WithField("validationTimestamp", validationTimestamp)
}

func TestAdmitFinalizedRejectsInvalidTransaction(t *testing.T) {
	eng := New(events.New(), nil, nil)
	tx, err := txtypes.FromReader(strings.NewReader(`{"type":"utxo","from":"A"}`))
	if err != nil {
		t.Fatalf("parse tx: %v", err)
	}
	_, err = eng.AdmitFinalized(tx)
	if err == nil {
		t.Fatalf("expected rejection for transaction missing required fields")
	}
}

// Spec §8 scenario 2: 9 distinct transactions seal exactly one level-1
// face, with block position matching content-hash sort order.
func TestFaceFormationScenario(t *testing.T) {
	eng := New(events.New(), nil, nil)
	var blocks []*Block
	for i := 1; i <= 9; i++ {
		tx := mustUTXO(t, i, i*1_000_000)
		b, err := eng.AdmitFinalized(tx)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		blocks = append(blocks, b)
	}

	open := eng.OpenCubes(1)
	if len(open) != 1 {
		t.Fatalf("open cubes at level 1 = %d, want 1", len(open))
	}
	if len(open[0].Faces) != 1 {
		t.Fatalf("faces on the open cube = %d, want 1", len(open[0].Faces))
	}
	var face *Face
	for _, f := range open[0].Faces {
		face = f
	}
	if !face.Sorted || face.Len() != 9 {
		t.Fatalf("face not sealed with 9 elements")
	}
	for i := 0; i < 9; i++ {
		hi := face.Placed[i].LeafHash()
		if i > 0 {
			prev := face.Placed[i-1].LeafHash()
			if cmpHash(prev, hi) > 0 {
				t.Fatalf("face placement not in ascending hash order at %d", i)
			}
		}
	}
	for _, b := range blocks {
		if b.Location.Level != 1 {
			t.Fatalf("block level = %d, want 1", b.Location.Level)
		}
	}
}

// Spec §8 scenario 3: 27 transactions seal one level-1 cube with 3 faces
// indexed 0/1/2 in merkle-root order.
func TestCubeFormationScenario(t *testing.T) {
	eng := New(events.New(), nil, nil)
	for i := 1; i <= 27; i++ {
		tx := mustUTXO(t, i, i*1_000_000)
		if _, err := eng.AdmitFinalized(tx); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}

	completed := eng.CompletedCubes(1)
	if len(completed) != 1 {
		t.Fatalf("completed cubes at level 1 = %d, want 1", len(completed))
	}
	cube := completed[0]
	if len(cube.Faces) != 3 {
		t.Fatalf("faces on completed cube = %d, want 3", len(cube.Faces))
	}
	seen := map[int]bool{}
	for _, f := range cube.Faces {
		seen[f.Index] = true
	}
	if !seen[0] || !seen[1] || !seen[2] {
		t.Fatalf("face indices not 0,1,2: %v", seen)
	}
	if cube.ID == "" {
		t.Fatalf("cube id not assigned")
	}
}

// Spec §6 persisted-state layout: admitting a block writes "block:<id>",
// and sealing its cube writes "cube:<id>".
func TestAdmitFinalizedPersistsBlocksAndCubes(t *testing.T) {
	st, err := store.Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	eng := New(events.New(), nil, st)
	var lastBlock *Block
	for i := 1; i <= 27; i++ {
		tx := mustUTXO(t, i, i*1_000_000)
		b, err := eng.AdmitFinalized(tx)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		lastBlock = b
	}

	if _, ok := st.Get("block:" + lastBlock.ID); !ok {
		t.Fatalf("expected block:%s to be persisted", lastBlock.ID)
	}

	completed := eng.CompletedCubes(1)
	if len(completed) != 1 {
		t.Fatalf("completed cubes at level 1 = %d, want 1", len(completed))
	}
	if _, ok := st.Get("cube:" + completed[0].ID); !ok {
		t.Fatalf("expected cube:%s to be persisted", completed[0].ID)
	}
}

func cmpHash(a, b [hashutil.Size]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Spec §8 scenario 4 (level-2 face half): 9 sealed level-1 cubes fold into
// exactly one level-2 face, regardless of the order they complete in.
func TestLevel2FaceFormsFromNineCubes(t *testing.T) {
	eng := New(events.New(), nil, nil)
	cubes := makeSealedCubes(t, 9, 0)
	eng.mu.Lock()
	eng.completedCubes[1] = append(eng.completedCubes[1], cubes...)
	eng.mu.Unlock()

	eng.runCascade(1)

	if len(eng.CompletedCubes(1)) != 0 {
		t.Fatalf("level 1 completed queue not drained")
	}
	if got := len(eng.pendingFaces[2]); got != 1 {
		t.Fatalf("pending level-2 faces = %d, want 1", got)
	}
}

// Spec §8 scenario 4/6: the same 27 level-1 cubes, admitted to two engines
// in opposite orders, produce an identical level-2 cube id.
func TestLevel2CubeIDIndependentOfCubeOrder(t *testing.T) {
	cubesForward := makeSealedCubes(t, 27, 0)
	cubesReverse := make([]*Cube, len(cubesForward))
	for i, c := range cubesForward {
		cubesReverse[len(cubesForward)-1-i] = c
	}

	idForward := driveToLevel2CubeID(t, cubesForward)
	idReverse := driveToLevel2CubeID(t, cubesReverse)

	if idForward != idReverse {
		t.Fatalf("level-2 cube ids diverge under reordering: %s vs %s", idForward, idReverse)
	}
}

func driveToLevel2CubeID(t *testing.T, cubes []*Cube) string {
	t.Helper()
	eng := New(events.New(), nil, nil)
	eng.mu.Lock()
	eng.completedCubes[1] = append(eng.completedCubes[1], cubes...)
	eng.mu.Unlock()
	eng.runCascade(1)

	completed := eng.CompletedCubes(2)
	if len(completed) != 1 {
		t.Fatalf("completed level-2 cubes = %d, want 1", len(completed))
	}
	return completed[0].ID
}

// A block's fractal address grows an ancestor step once its level-1 cube
// is folded into a level-2 super-cube, instead of staying frozen at its
// level-1 leaf step forever (spec §3/§4.6).
func TestBlockFractalAddressGrowsWhenCubeIsAbsorbed(t *testing.T) {
	eng := New(events.New(), nil, nil)
	var firstBlock *Block
	for i := 1; i <= 27; i++ {
		tx := mustUTXO(t, i, i*1_000_000)
		b, err := eng.AdmitFinalized(tx)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if firstBlock == nil {
			firstBlock = b
		}
	}

	if len(firstBlock.FractalAddress) != 1 {
		t.Fatalf("fractal address before absorption has %d steps, want 1 (leaf only)", len(firstBlock.FractalAddress))
	}

	// The ancestor step is only assigned once a full level-2 cube forms
	// (three faces of nine level-1 cubes each), so 26 synthetic siblings
	// join the one real cube to make 27.
	realCube := eng.CompletedCubes(1)[0]
	siblings := makeSealedCubes(t, 26, 1000)
	eng.mu.Lock()
	eng.completedCubes[1] = append([]*Cube{realCube}, siblings...)
	eng.mu.Unlock()

	eng.runCascade(1)

	if len(firstBlock.FractalAddress) != 2 {
		t.Fatalf("fractal address after absorption has %d steps, want 2 (one ancestor + leaf)", len(firstBlock.FractalAddress))
	}
	ancestor := firstBlock.FractalAddress[0]
	if ancestor.Level != 2 {
		t.Fatalf("ancestor step level = %d, want 2", ancestor.Level)
	}
	leaf := firstBlock.FractalAddress[1]
	if leaf.Level != 1 || leaf.FaceIndex == nil || leaf.Position == nil {
		t.Fatalf("leaf step malformed: %+v", leaf)
	}
}

// makeSealedCubes builds n fully-sealed level-1 cubes (3 faces of 9 fake
// elements each) with distinct content so every cube gets a distinct id.
func makeSealedCubes(t *testing.T, n int, tagOffset int) []*Cube {
	t.Helper()
	cubes := make([]*Cube, 0, n)
	tag := tagOffset
	for i := 0; i < n; i++ {
		cube := NewCube(1, i, uint64(i+1))
		for f := 0; f < 3; f++ {
			face := NewFace(uint64(i*3 + f + 1))
			for e := 0; e < 9; e++ {
				face.Add(newFakeElement(byte(tag)))
				tag++
			}
			cube.AddFace(face, nil)
		}
		cubes = append(cubes, cube)
	}
	return cubes
}

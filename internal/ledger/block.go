// Package ledger implements the cubic ledger construction engine of spec
// §4.7-§4.10: blocks, 9-element faces, 3-face cubes, and the recursive
// aggregator that groups finalized transactions into an unbounded tower
// of higher-level cubes.
package ledger

import (
	"time"

	"github.com/synnergy-cubic/cubicledger/internal/geometry"
	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

// Location pins a block within the cubic structure (spec §3).
type Location struct {
	FaceIndex           int
	Position             int
	CubeIndex            int
	CubeSequentialIndex int
	Level                int
}

// Coordinates are the absolute integer (x,y,z) of a block (spec §3).
type Coordinates struct {
	X, Y, Z int
}

// Block is an immutable-after-placement record binding a finalized
// transaction to its content hash, timestamp and geometric placement
// (spec §3, §4.7).
type Block struct {
	ID              string
	Tx              *txtypes.Transaction
	Hash            [hashutil.Size]byte
	Timestamp       uint64
	Location        Location
	Coordinates     Coordinates
	Vector          geometry.Vector
	FractalAddress  []geometry.DescentStep

	geo  *geometry.Engine
	cube *Cube // the level-1 cube this block belongs to, once placed (spec §4.6 ancestor chain)
}

// NewBlock constructs a Block from a validated transaction. hash and id
// are computed once; timestamp prefers tx.validationTimestamp, falling
// back to tx.timestamp, falling back to the current monotonic time in
// nanoseconds (spec §4.7).
func NewBlock(tx *txtypes.Transaction, geo *geometry.Engine) *Block {
	h := tx.ContentHash()
	ts, ok := txtypes.GetUint64Field(tx, "validationTimestamp")
	if !ok {
		ts, ok = txtypes.GetUint64Field(tx, "timestamp")
	}
	if !ok {
		ts = uint64(time.Now().UnixNano())
	}
	return &Block{
		ID:        hashutil.IDPrefix(h),
		Tx:        tx,
		Hash:      h,
		Timestamp: ts,
		geo:       geo,
	}
}

// SetTentativeLocation assigns the initial placement of a block on
// insertion into a pending face (spec §4.10 step 5): a tentative face
// index, a position equal to the current face length, and the target
// cube's back-reference and sequential index if already known.
func (b *Block) SetTentativeLocation(level, cubeIndex, cubeSequentialIndex, faceIndex, position int) {
	b.Location = Location{
		Level:                level,
		CubeIndex:            cubeIndex,
		CubeSequentialIndex: cubeSequentialIndex,
		FaceIndex:            faceIndex,
		Position:             position,
	}
	b.recompute()
}

// SetFinalPosition rewrites the block's final sorted position within its
// face, the first of the two post-admission location mutations (spec §3,
// §4.10 FaceFinalize step 2).
func (b *Block) SetFinalPosition(position int) {
	b.Location.Position = position
	b.recompute()
}

// SetFinalFaceIndex rewrites the block's final face index once its
// parent cube saturates, the second and last location mutation (spec §3,
// §4.9).
func (b *Block) SetFinalFaceIndex(faceIndex, cubeIndex, cubeSequentialIndex int) {
	b.Location.FaceIndex = faceIndex
	b.Location.CubeIndex = cubeIndex
	b.Location.CubeSequentialIndex = cubeSequentialIndex
	b.recompute()
}

// LeafHash implements Element: a block's content hash is both its sort
// key within a face and the leaf the face's merkle root is built over
// (spec §4.8).
func (b *Block) LeafHash() [hashutil.Size]byte {
	return b.Hash
}

// AssignPosition implements Element by delegating to SetFinalPosition.
func (b *Block) AssignPosition(pos int) {
	b.SetFinalPosition(pos)
}

func (b *Block) recompute() {
	loc := b.Location
	x, y, z := b.geo.AbsoluteCoordinates(loc.Level, loc.CubeIndex, loc.FaceIndex, loc.Position)
	b.Coordinates = Coordinates{X: x, Y: y, Z: z}
	b.Vector = b.geo.MakeVector(x, y, z)
	b.refreshFractalAddress()
}

// refreshFractalAddress rebuilds FractalAddress from the block's current
// location plus its containing cube's current ancestor chain: a leaf
// descent step at level 1, preceded by one ancestor step per level the
// block's cube has been folded into so far (spec §3/§4.6, "a sequence of
// descent records from the highest known level down to 1"). It is called
// both when the block's own location changes and — by Cube.finalize, via
// collectBlocks — whenever an ancestor cube higher up the tower forms, so
// the address keeps growing as the tower grows instead of staying frozen
// at its level-1 leaf.
func (b *Block) refreshFractalAddress() {
	var ancestors []geometry.DescentStep
	for cube := b.cube; cube != nil && cube.Parent != nil; cube = cube.Parent {
		ancestors = append(ancestors, geometry.AncestorDescentStep(cube.Parent.Level, cube.Parent.Index))
	}
	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}
	leaf := geometry.LeafDescentStep(b.Location.Level, b.Location.CubeIndex, b.Location.FaceIndex, b.Location.Position)
	b.FractalAddress = geometry.FractalAddress(append(ancestors, leaf)...)
}

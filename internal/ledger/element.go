package ledger

import "github.com/synnergy-cubic/cubicledger/internal/hashutil"

// Element is anything a Face can hold: a Block at level 1, or a Cube of
// the level immediately below at level >= 2 (spec §4.8, §4.9). Using a
// single interface rather than a type parameter per level lets the
// aggregation engine recurse to an unbounded depth at runtime, which a
// compile-time generic over "Cube of Cube of Cube..." cannot express.
type Element interface {
	// LeafHash is both the value a Face sorts its pending elements by and
	// the 32-byte leaf a Face's own merkle root is built over. For a
	// Block this is its full content hash; for a Cube this is its 16-hex
	// id left-aligned into 32 bytes (spec §4.9: "their hash for sorting
	// is the cube's id").
	LeafHash() [hashutil.Size]byte
	// AssignPosition records the element's final position (0..8) once
	// its containing face saturates and sorts.
	AssignPosition(pos int)
}

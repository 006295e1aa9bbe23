package ledger

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
)

// Cube is an ordered collection of exactly 3 faces, sorted by merkle root
// upon saturation (spec §3, §4.9).
type Cube struct {
	Timestamp                 uint64
	Index                     int
	Level                     int
	Faces                     map[uint64]*Face // keyed by face timestamp
	ID                        string
	ValidatorAverageTimestamp *uint64 // level 1 only; nil at level >= 2

	// Position is this cube's slot (0..8) within a higher-level face,
	// assigned when that face saturates. It is distinct from Index, the
	// cube's own sequential serial number at its level.
	Position int

	// Parent is the next-level-up cube this cube was folded into once its
	// containing higher-level face itself saturates into a cube, and
	// ParentFaceIndex is that face's index (0,1,2) within Parent. Both are
	// nil/zero until the tower grows past this cube's level (spec §4.6
	// ancestor chain).
	Parent          *Cube
	ParentFaceIndex int
}

// NewCube creates an empty cube at the given level with a sequential
// index equal to the current count of cubes at that level (spec §4.10
// FaceFinalize step 3).
func NewCube(level, index int, timestamp uint64) *Cube {
	return &Cube{Level: level, Index: index, Timestamp: timestamp, Faces: make(map[uint64]*Face)}
}

// AddFace inserts face keyed by its creation timestamp; if this is the
// cube's third face, it finalizes the cube (spec §4.9).
func (c *Cube) AddFace(face *Face, avgTimestampOf func(*Cube) *uint64) (saturated bool) {
	c.Faces[face.Timestamp] = face
	if len(c.Faces) != 3 {
		return false
	}
	c.finalize(avgTimestampOf)
	return true
}

// finalize sorts the three faces by merkle root ascending, reassigns
// their Index fields to 0,1,2, computes the cube's content-addressed id
// from the concatenation of the sorted merkle roots, stamps each member
// element with its parent/ancestor position, and refreshes the fractal
// address of every block transitively beneath this cube (spec §4.9, §4.6).
func (c *Cube) finalize(avgTimestampOf func(*Cube) *uint64) {
	faces := make([]*Face, 0, 3)
	for _, f := range c.Faces {
		faces = append(faces, f)
	}
	sort.Slice(faces, func(i, j int) bool {
		ri := faces[i].MerkleRoot()
		rj := faces[j].MerkleRoot()
		return bytes.Compare(ri[:], rj[:]) < 0
	})

	var concat []byte
	for i, f := range faces {
		f.Index = i
		root := f.MerkleRoot()
		concat = append(concat, root[:]...)
		for _, e := range f.Placed {
			if e == nil {
				continue
			}
			switch v := e.(type) {
			case *Cube:
				v.Parent = c
				v.ParentFaceIndex = i
			case *Block:
				v.cube = c
			}
		}
	}
	fullHash := hashutil.ContentHash(concat)
	c.ID = hashutil.IDPrefix(fullHash)

	if avgTimestampOf != nil {
		c.ValidatorAverageTimestamp = avgTimestampOf(c)
	}

	for _, f := range faces {
		for _, e := range f.Placed {
			if e == nil {
				continue
			}
			for _, blk := range collectBlocks(e) {
				blk.refreshFractalAddress()
			}
		}
	}
}

// collectBlocks returns every Block transitively placed beneath elem: elem
// itself if it is a Block, or every block reachable through elem's own
// faces if elem is a higher-level Cube (spec §4.6: ancestor chains span
// however many levels the tower has grown).
func collectBlocks(elem Element) []*Block {
	switch v := elem.(type) {
	case *Block:
		return []*Block{v}
	case *Cube:
		var out []*Block
		for _, f := range v.Faces {
			for _, e := range f.Placed {
				if e != nil {
					out = append(out, collectBlocks(e)...)
				}
			}
		}
		return out
	default:
		return nil
	}
}

// LeafHash implements Element: a cube used as an element of a
// higher-level face sorts (and hashes into that face's merkle root) by
// its 16-hex id, left-aligned into 32 bytes (spec §4.9).
func (c *Cube) LeafHash() [hashutil.Size]byte {
	var out [hashutil.Size]byte
	if raw, err := hex.DecodeString(c.ID); err == nil {
		copy(out[:], raw)
	}
	return out
}

// AssignPosition implements Element.
func (c *Cube) AssignPosition(pos int) {
	c.Position = pos
}

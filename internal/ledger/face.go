package ledger

import (
	"bytes"
	"sort"

	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
)

// Face is an ordered collection of up to 9 elements — blocks at level 1,
// sub-cubes at level >= 2 — sorted by content hash once it saturates
// (spec §3, §4.8).
type Face struct {
	Timestamp uint64
	Index     int
	Pending   []Element
	Placed    [9]Element
	Sorted    bool

	seen map[[hashutil.Size]byte]struct{}
}

// NewFace creates an empty, open face stamped with the given creation
// time (spec §4.10 step 3: "create a new face with timestamp =
// monotonic_now_ns()").
func NewFace(timestamp uint64) *Face {
	return &Face{Timestamp: timestamp, seen: make(map[[hashutil.Size]byte]struct{})}
}

// Len returns the number of elements currently held, pending or placed.
func (f *Face) Len() int {
	if f.Sorted {
		return len(f.Placed)
	}
	return len(f.Pending)
}

// Add appends elem to the pending list, sealing the face if this is its
// ninth element. It is a silent no-op if elem's content hash is already
// present, or if the face is already full (spec §4.8).
func (f *Face) Add(elem Element) (saturated bool) {
	if f.Sorted {
		return false
	}
	if len(f.Pending) >= 9 {
		return false
	}
	h := elem.LeafHash()
	if _, dup := f.seen[h]; dup {
		return false
	}
	f.seen[h] = struct{}{}
	f.Pending = append(f.Pending, elem)
	if len(f.Pending) == 9 {
		f.seal()
		return true
	}
	return false
}

// seal sorts the 9 pending elements by content hash ascending, binds
// positions 0..8, and moves them into Placed atomically from the
// observer's point of view (spec §4.8, §5): no external call can observe
// Face between the sort and the position assignment because both happen
// inside this single, lock-held call.
func (f *Face) seal() {
	sort.Slice(f.Pending, func(i, j int) bool {
		hi := f.Pending[i].LeafHash()
		hj := f.Pending[j].LeafHash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})
	for i, e := range f.Pending {
		e.AssignPosition(i)
		f.Placed[i] = e
	}
	f.Pending = nil
	f.Sorted = true
}

// Resort re-sorts and re-seals an already-saturated face. The ledger
// engine uses this when a face reached 9 elements through a path that
// did not yet trigger seal (spec §4.10 FaceFinalize step 1).
func (f *Face) Resort() {
	if f.Sorted {
		f.Pending = append([]Element(nil), f.Placed[:]...)
		f.Sorted = false
	}
	if len(f.Pending) == 9 {
		f.seal()
	}
}

// MerkleRoot computes merkle_root over the 9 placed leaf hashes, using
// the all-zero hash for any slot not yet placed (spec §4.8).
func (f *Face) MerkleRoot() [hashutil.Size]byte {
	leaves := make([][hashutil.Size]byte, 9)
	for i, e := range f.Placed {
		if e != nil {
			leaves[i] = e.LeafHash()
		}
	}
	return hashutil.MerkleRoot(leaves)
}

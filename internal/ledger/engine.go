package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synnergy-cubic/cubicledger/internal/events"
	"github.com/synnergy-cubic/cubicledger/internal/geometry"
	"github.com/synnergy-cubic/cubicledger/internal/hashutil"
	"github.com/synnergy-cubic/cubicledger/internal/store"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

// Publisher is the optional fire-and-forget gossip collaborator of spec
// §6: each Block/Face/Cube creation is published over a topic. A nil
// Publisher degrades the engine to local-only operation.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// LedgerRejection is returned by AdmitFinalized when the incoming
// transaction fails validation (spec §4.10 step 1).
type LedgerRejection struct {
	Err error
}

func (e *LedgerRejection) Error() string { return fmt.Sprintf("ledger: rejected: %v", e.Err) }
func (e *LedgerRejection) Unwrap() error { return e.Err }

// Engine is the recursive aggregator of spec §4.10: it admits finalized
// transactions, builds blocks, assembles faces, forms cubes, and drives
// cube formation upward through an unbounded tower of levels. The upward
// cascade is implemented with an explicit per-level work queue rather
// than recursive calls, so call-stack depth never grows with tower
// height (spec §9, "Unbounded recursion depth").
type Engine struct {
	mu sync.Mutex

	geo *geometry.Engine
	bus *events.Bus
	pub Publisher
	st  *store.Store
	now func() uint64

	// pendingFaces[level][faceTimestamp] = face still accepting elements
	// or freshly sealed and not yet attached to a cube.
	pendingFaces map[int]map[uint64]*Face
	// openCubes[level] = cubes with fewer than 3 faces, in no particular
	// order; level 1 selection additionally considers averaged block
	// timestamps, higher levels take the first available (spec §4.10).
	openCubes map[int][]*Cube
	// completedCubes[level] = sealed cubes at level awaiting aggregation
	// into a face at level+1 (spec §3, "Completed-cubes-by-level queue").
	completedCubes map[int][]*Cube
	cubeSeq        map[int]int
}

// New constructs an Engine. pub may be nil to disable gossip, st may be nil
// to disable block/cube persistence (spec §6 persisted-state layout).
func New(bus *events.Bus, pub Publisher, st *store.Store) *Engine {
	return &Engine{
		geo:            geometry.New(),
		bus:            bus,
		pub:            pub,
		st:             st,
		now:            func() uint64 { return uint64(time.Now().UnixNano()) },
		pendingFaces:   make(map[int]map[uint64]*Face),
		openCubes:      make(map[int][]*Cube),
		completedCubes: make(map[int][]*Cube),
		cubeSeq:        make(map[int]int),
	}
}

// persistedBlock is the JSON shape written under the "block:<id>" key
// (spec §6 persisted-state layout).
type persistedBlock struct {
	ID        string       `json:"id"`
	Hash      string       `json:"hash"`
	Timestamp uint64       `json:"timestamp"`
	Location  Location     `json:"location"`
	Coordinates Coordinates `json:"coordinates"`
}

// persistedCube is the JSON shape written under the "cube:<id>" key (spec
// §6: "id, merkle root, face indices, validator_average_timestamp,
// level"). The cube's id is itself the content hash of its three sorted
// face merkle roots concatenated, so it doubles as the merkle-root field
// this layout calls for.
type persistedCube struct {
	ID                        string  `json:"id"`
	Level                     int     `json:"level"`
	Index                     int     `json:"index"`
	FaceIndices               []int   `json:"faceIndices"`
	ValidatorAverageTimestamp *uint64 `json:"validatorAverageTimestamp,omitempty"`
}

// persistBlock writes block under "block:<id>", logging and swallowing any
// failure (spec §4.10/§7: persistence failures never abort the in-memory
// transition).
func (e *Engine) persistBlock(b *Block) {
	if e.st == nil {
		return
	}
	rec := persistedBlock{
		ID:          b.ID,
		Hash:        hashutil.HexHash(b.Hash),
		Timestamp:   b.Timestamp,
		Location:    b.Location,
		Coordinates: b.Coordinates,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		logrus.WithError(err).WithField("blockId", b.ID).Warn("ledger: marshal block for persistence")
		return
	}
	e.st.PutLogged("block:"+b.ID, body)
}

// persistCube writes cube under "cube:<id>", logging and swallowing any
// failure (spec §4.10/§7).
func (e *Engine) persistCube(c *Cube) {
	if e.st == nil {
		return
	}
	faceIndices := make([]int, 0, len(c.Faces))
	for _, f := range c.Faces {
		faceIndices = append(faceIndices, f.Index)
	}
	sort.Ints(faceIndices)
	rec := persistedCube{
		ID:                        c.ID,
		Level:                     c.Level,
		Index:                     c.Index,
		FaceIndices:               faceIndices,
		ValidatorAverageTimestamp: c.ValidatorAverageTimestamp,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		logrus.WithError(err).WithField("cubeId", c.ID).Warn("ledger: marshal cube for persistence")
		return
	}
	e.st.PutLogged("cube:"+c.ID, body)
}

// AdmitFinalized validates tx, builds a Block and threads it through face
// and (if triggered) cube formation, synchronously driving the whole
// cascade to completion before returning (spec §4.10, §5).
func (e *Engine) AdmitFinalized(tx *txtypes.Transaction) (*Block, error) {
	if err := txtypes.Validate(tx); err != nil {
		return nil, &LedgerRejection{Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	block := NewBlock(tx, e.geo)

	face, _ := e.selectOrCreatePendingFace(1)
	cube, hasCube := e.selectOpenCubeByAvgTimestamp(1)
	tentativeFaceIdx := 0
	tentativeCubeIdx := 0
	tentativeCubeSeq := 0
	if hasCube {
		tentativeFaceIdx = len(cube.Faces)
		tentativeCubeIdx = cube.Index
		tentativeCubeSeq = cube.Index
	}
	block.SetTentativeLocation(1, tentativeCubeIdx, tentativeCubeSeq, tentativeFaceIdx, face.Len())

	saturated := face.Add(block)
	e.persistBlock(block)
	e.publish(events.TopicBlockAdded, block)
	e.gossip(events.TopicBlockAdded, fmt.Sprintf("block-added:%s", block.ID))

	if saturated {
		e.faceFinalize(1, face)
	}
	return block, nil
}

func (e *Engine) selectOrCreatePendingFace(level int) (face *Face, created bool) {
	table := e.pendingFaces[level]
	if table == nil {
		table = make(map[uint64]*Face)
		e.pendingFaces[level] = table
	}
	var best *Face
	var bestTs uint64
	for ts, f := range table {
		if f.Len() >= 9 {
			continue
		}
		if best == nil || ts < bestTs {
			best = f
			bestTs = ts
		}
	}
	if best != nil {
		return best, false
	}
	ts := e.now()
	f := NewFace(ts)
	table[ts] = f
	e.gossip(events.TopicFaceComplete, fmt.Sprintf("face-created:%d:%d", level, ts))
	return f, true
}

func (e *Engine) selectOpenCubeByAvgTimestamp(level int) (*Cube, bool) {
	cubes := e.openCubes[level]
	var best *Cube
	var bestAvg uint64
	for _, c := range cubes {
		if len(c.Faces) == 0 {
			continue // nothing to average yet; not eligible for selection
		}
		avg := e.currentAverageBlockTimestamp(c)
		if best == nil || avg < bestAvg {
			best = c
			bestAvg = avg
		}
	}
	if best != nil {
		return best, true
	}
	if level >= 2 && len(cubes) > 0 {
		return cubes[0], true
	}
	return nil, false
}

func (e *Engine) currentAverageBlockTimestamp(c *Cube) uint64 {
	var sum uint64
	var n uint64
	for _, f := range c.Faces {
		for _, elem := range f.Placed {
			if elem == nil {
				continue
			}
			if b, ok := elem.(*Block); ok {
				sum += blockTimestampForAverage(b)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

func blockTimestampForAverage(b *Block) uint64 {
	if ts, ok := txtypes.GetUint64Field(b.Tx, "validationTimestamp"); ok {
		return ts
	}
	return b.Timestamp
}

// faceFinalize implements spec §4.10 FaceFinalize: re-sort if needed,
// rewrite final positions, attach to a level-N cube, and cascade into
// CubeFinalize if that cube saturates.
func (e *Engine) faceFinalize(level int, face *Face) {
	if !face.Sorted {
		face.Resort()
	}
	e.publish(events.TopicFaceComplete, face)
	e.gossip(events.TopicFaceComplete, fmt.Sprintf("face-complete:%d:%d", level, face.Timestamp))

	delete(e.pendingFaces[level], face.Timestamp)

	cube := e.selectOrCreateTargetCube(level)
	saturated := cube.AddFace(face, e.averageTimestampFor(level))
	e.gossip(events.TopicCubeComplete, fmt.Sprintf("cube-face-attached:%d:%d", level, cube.Index))

	if saturated {
		e.cubeFinalize(level, cube)
	}
}

func (e *Engine) selectOrCreateTargetCube(level int) *Cube {
	if cube, ok := e.selectOpenCubeByAvgTimestamp(level); ok {
		return cube
	}
	idx := e.cubeSeq[level]
	e.cubeSeq[level] = idx + 1
	cube := NewCube(level, idx, e.now())
	e.openCubes[level] = append(e.openCubes[level], cube)
	e.gossip(events.TopicCubeComplete, fmt.Sprintf("cube-created:%d:%d", level, idx))
	return cube
}

func (e *Engine) averageTimestampFor(level int) func(*Cube) *uint64 {
	if level != 1 {
		return nil
	}
	return func(c *Cube) *uint64 {
		var sum uint64
		var n uint64
		for _, f := range c.Faces {
			for _, elem := range f.Placed {
				if elem == nil {
					continue
				}
				if b, ok := elem.(*Block); ok {
					sum += blockTimestampForAverage(b)
					n++
				}
			}
		}
		if n == 0 {
			var zero uint64
			return &zero
		}
		avg := sum / n
		return &avg
	}
}

// cubeFinalize implements spec §4.9/§4.10 CubeFinalize: the cube's own
// sort/id/average-timestamp computation already happened inside
// Cube.AddFace; this pushes each block's final face index down from the
// now-finalized face ordering, removes the cube from the open set,
// emits the completion event, and enqueues it for upward aggregation.
func (e *Engine) cubeFinalize(level int, cube *Cube) {
	if level == 1 {
		for _, f := range cube.Faces {
			for _, elem := range f.Placed {
				if elem == nil {
					continue
				}
				if b, ok := elem.(*Block); ok {
					b.SetFinalFaceIndex(f.Index, cube.Index, cube.Index)
				}
			}
		}
	}

	e.removeOpenCube(level, cube)
	e.persistCube(cube)

	topic := events.TopicCubeComplete
	if level >= 2 {
		topic = events.TopicSupercubeComplete
	}
	e.publish(topic, cube)
	e.gossip(topic, fmt.Sprintf("cube-complete:%d:%d", level, cube.Index))

	e.completedCubes[level] = append(e.completedCubes[level], cube)
	e.runCascade(level)
}

func (e *Engine) removeOpenCube(level int, cube *Cube) {
	cubes := e.openCubes[level]
	for i, c := range cubes {
		if c == cube {
			e.openCubes[level] = append(cubes[:i], cubes[i+1:]...)
			return
		}
	}
}

// runCascade drives FormHigherFace/FormHigherCube upward from level using
// an explicit work queue instead of recursive calls (spec §9).
func (e *Engine) runCascade(level int) {
	queue := []int{level}
	queued := map[int]bool{level: true}
	for len(queue) > 0 {
		lvl := queue[0]
		queue = queue[1:]
		queued[lvl] = false

		for len(e.completedCubes[lvl]) >= 9 {
			nextLevel, formedCube := e.formHigherFace(lvl)
			if formedCube && !queued[nextLevel] {
				queue = append(queue, nextLevel)
				queued[nextLevel] = true
			}
		}
	}
}

// formHigherFace implements spec §4.10 FormHigherFace: drain 9 cubes,
// build a face sorted purely by cube id (no timestamps), and fold it
// into FormHigherCube if the next level's pending-face table reaches 3.
func (e *Engine) formHigherFace(level int) (nextLevel int, formedCube bool) {
	nextLevel = level + 1
	drained := e.completedCubes[level][:9]
	e.completedCubes[level] = e.completedCubes[level][9:]

	ts := e.now()
	face := NewFace(ts)
	for _, c := range drained {
		face.Add(c)
	}
	if !face.Sorted {
		// Defensive: Add() seals automatically at the 9th insert, but a
		// future caller draining fewer than 9 would leave this face
		// open, which must never happen for a level >= 2 face.
		logrus.WithField("level", level).Error("ledger: higher face did not saturate on 9 cubes")
	}

	if e.pendingFaces[nextLevel] == nil {
		e.pendingFaces[nextLevel] = make(map[uint64]*Face)
	}
	e.pendingFaces[nextLevel][ts] = face
	e.publish(events.TopicFaceComplete, face)
	e.gossip(events.TopicFaceComplete, fmt.Sprintf("higher-face:%d:%d", nextLevel, ts))

	if len(e.pendingFaces[nextLevel]) >= 3 {
		e.formHigherCube(nextLevel)
		return nextLevel, true
	}
	return nextLevel, false
}

// formHigherCube implements spec §4.10 FormHigherCube: take any 3 pending
// faces (the oldest three, for a deterministic tie-break), sort by
// merkle root, assign face indices, and seal a cube with
// ValidatorAverageTimestamp = nil.
func (e *Engine) formHigherCube(level int) {
	table := e.pendingFaces[level]
	timestamps := make([]uint64, 0, len(table))
	for ts := range table {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	chosen := timestamps[:3]

	idx := e.cubeSeq[level]
	e.cubeSeq[level] = idx + 1
	cube := NewCube(level, idx, e.now())
	for _, ts := range chosen {
		f := table[ts]
		delete(table, ts)
		cube.AddFace(f, nil)
	}
	// AddFace already finalized the cube on the third insertion, which
	// set ValidatorAverageTimestamp via a nil averager (left nil, as
	// required for level >= 2).
	e.persistCube(cube)

	e.publish(events.TopicSupercubeComplete, cube)
	e.gossip(events.TopicSupercubeComplete, fmt.Sprintf("higher-cube:%d:%d", level, cube.Index))

	e.completedCubes[level] = append(e.completedCubes[level], cube)
}

// CompletedCubes returns a snapshot of the sealed cubes at level still
// waiting to be folded into a higher face, for diagnostics and tests.
func (e *Engine) CompletedCubes(level int) []*Cube {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Cube(nil), e.completedCubes[level]...)
}

// OpenCubes returns a snapshot of the cubes at level still accepting
// faces (fewer than 3), for diagnostics and tests.
func (e *Engine) OpenCubes(level int) []*Cube {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Cube(nil), e.openCubes[level]...)
}

func (e *Engine) publish(topic string, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(topic, payload)
}

func (e *Engine) gossip(topic string, msg string) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(topic, []byte(msg)); err != nil {
		logrus.WithError(err).WithField("topic", topic).Warn("ledger: gossip publish failed")
	}
}

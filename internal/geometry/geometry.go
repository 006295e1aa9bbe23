// Package geometry implements the pure, deterministic mapping from a
// block's (level, cube index, face index, position) to cartesian
// coordinates, a direction vector and a fractal address (spec §4.6). It
// has no side effects and no dependency on mempool, consensus or ledger.
package geometry

import "math"

// Engine is stateless; every method is a pure function of its arguments.
// It exists as a type (rather than bare functions) to mirror how the rest
// of the system wires subsystems as injectable collaborators.
type Engine struct{}

// New returns a geometry Engine.
func New() *Engine {
	return &Engine{}
}

// LocalFacePosition returns the (x,y) offset in {-1,0,1} for a face
// position p in [0,8], interpreted row-major in a 3x3 grid. Positions
// outside [0,8] fall back to (0,0), the explicit placeholder for
// intermediate states described in spec §4.6.
func (e *Engine) LocalFacePosition(p int) (x, y int) {
	if p < 0 || p > 8 {
		return 0, 0
	}
	row := p / 3
	col := p % 3
	return col - 1, 1 - row
}

// LocalZFromFaceIndex returns the z offset for a face index f in {0,1,2}.
func (e *Engine) LocalZFromFaceIndex(f int) int {
	return f - 1
}

// CubeGridPosition returns the level-1 cube position for sequential cube
// index c, arranging 27 cubes per level-2 super-cube in a 3x3x3 grid of
// spacing 3 (spec §4.6). The rule extends uniformly for c >= 27.
func (e *Engine) CubeGridPosition(c int) (x, y, z int) {
	cubeFaceNum := c / 9
	posInFace := c % 9
	row := posInFace / 3
	col := posInFace % 3
	return (col - 1) * 3, (1 - row) * 3, (cubeFaceNum - 1) * 3
}

// LevelScale returns 3^(level-1), the factor by which coordinates at
// level > 1 are scaled relative to level 1 (spec §4.6).
func LevelScale(level int) int {
	scale := 1
	for i := 1; i < level; i++ {
		scale *= 3
	}
	return scale
}

// AbsoluteCoordinates combines a cube's grid position with a block's local
// face position and face-index z-offset, scaled for level.
func (e *Engine) AbsoluteCoordinates(level, cubeIndex, faceIndex, position int) (x, y, z int) {
	scale := LevelScale(level)
	cx, cy, cz := e.CubeGridPosition(cubeIndex)
	lx, ly := e.LocalFacePosition(position)
	lz := e.LocalZFromFaceIndex(faceIndex)
	return (cx + lx) * scale, (cy + ly) * scale, (cz + lz) * scale
}

// Vector is the cartesian position together with its magnitude and unit
// direction (spec §4.6). UnitX/Y/Z are all zero when Magnitude is zero.
type Vector struct {
	X, Y, Z            int
	Magnitude          float64
	UnitX, UnitY, UnitZ float64
}

// MakeVector computes the Vector for cartesian coordinates (x,y,z).
func (e *Engine) MakeVector(x, y, z int) Vector {
	mag := math.Sqrt(float64(x*x + y*y + z*z))
	v := Vector{X: x, Y: y, Z: z, Magnitude: mag}
	if mag != 0 {
		v.UnitX = float64(x) / mag
		v.UnitY = float64(y) / mag
		v.UnitZ = float64(z) / mag
	}
	return v
}

// DescentStep is one level of a fractal address: the cube descended into
// at Level, and — only at the leaf level — the face index and position
// within that cube's face (spec §4.6).
type DescentStep struct {
	Level     int
	CubeIndex int
	FaceIndex *int
	Position  *int
}

// LeafDescentStep builds the terminal step of a fractal address, carrying
// the face index and position in addition to level and cube index.
func LeafDescentStep(level, cubeIndex, faceIndex, position int) DescentStep {
	f := faceIndex
	pos := position
	return DescentStep{Level: level, CubeIndex: cubeIndex, FaceIndex: &f, Position: &pos}
}

// AncestorDescentStep builds a non-leaf step of a fractal address, carrying
// only level and cube index.
func AncestorDescentStep(level, cubeIndex int) DescentStep {
	return DescentStep{Level: level, CubeIndex: cubeIndex}
}

// FractalAddress returns a copy of steps in the order given; it does not
// sort them. Callers build the steps from the highest known level down to
// 1 (spec §4.6); this helper exists so call sites read intention-fully
// rather than manipulating slices inline.
func FractalAddress(steps ...DescentStep) []DescentStep {
	out := make([]DescentStep, len(steps))
	copy(out, steps)
	return out
}

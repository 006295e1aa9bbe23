package geometry

import "testing"

func TestLocalFacePositionGrid(t *testing.T) {
	e := New()
	cases := []struct {
		p    int
		x, y int
	}{
		{0, -1, 1}, {1, 0, 1}, {2, 1, 1},
		{3, -1, 0}, {4, 0, 0}, {5, 1, 0},
		{6, -1, -1}, {7, 0, -1}, {8, 1, -1},
	}
	for _, c := range cases {
		x, y := e.LocalFacePosition(c.p)
		if x != c.x || y != c.y {
			t.Fatalf("LocalFacePosition(%d) = (%d,%d), want (%d,%d)", c.p, x, y, c.x, c.y)
		}
	}
}

func TestLocalFacePositionInvalidFallsBackToOrigin(t *testing.T) {
	e := New()
	x, y := e.LocalFacePosition(99)
	if x != 0 || y != 0 {
		t.Fatalf("invalid position should fall back to (0,0), got (%d,%d)", x, y)
	}
}

func TestCubeGridPositionFirstCube(t *testing.T) {
	e := New()
	x, y, z := e.CubeGridPosition(0)
	if x != -3 || y != 3 || z != -3 {
		t.Fatalf("CubeGridPosition(0) = (%d,%d,%d), want (-3,3,-3)", x, y, z)
	}
}

func TestCubeGridPositionExtendsPast27(t *testing.T) {
	e := New()
	_, _, z := e.CubeGridPosition(27)
	if z == 0 {
		t.Fatalf("cube 27 should be in the next super-cube face, z=%d", z)
	}
}

func TestLevelScale(t *testing.T) {
	if LevelScale(1) != 1 {
		t.Fatalf("LevelScale(1) = %d, want 1", LevelScale(1))
	}
	if LevelScale(2) != 3 {
		t.Fatalf("LevelScale(2) = %d, want 3", LevelScale(2))
	}
	if LevelScale(3) != 9 {
		t.Fatalf("LevelScale(3) = %d, want 9", LevelScale(3))
	}
}

func TestMakeVectorZero(t *testing.T) {
	e := New()
	v := e.MakeVector(0, 0, 0)
	if v.Magnitude != 0 || v.UnitX != 0 || v.UnitY != 0 || v.UnitZ != 0 {
		t.Fatalf("zero vector should have zero magnitude and zero unit direction, got %+v", v)
	}
}

func TestMakeVectorUnitDirection(t *testing.T) {
	e := New()
	v := e.MakeVector(3, 4, 0)
	if v.Magnitude != 5 {
		t.Fatalf("magnitude = %v, want 5", v.Magnitude)
	}
	if v.UnitX != 0.6 || v.UnitY != 0.8 {
		t.Fatalf("unit direction = (%v,%v), want (0.6,0.8)", v.UnitX, v.UnitY)
	}
}

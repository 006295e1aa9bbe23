package ledger

import "testing"

func fullFace(timestamp uint64, tagBase byte) *Face {
	face := NewFace(timestamp)
	for i := byte(0); i < 9; i++ {
		face.Add(newFakeElement(tagBase + i))
	}
	return face
}

func TestCubeFinalizesOnThirdFace(t *testing.T) {
	cube := NewCube(1, 0, 1)
	f1 := fullFace(1, 0)
	f2 := fullFace(2, 9)
	f3 := fullFace(3, 18)

	if saturated := cube.AddFace(f1, nil); saturated {
		t.Fatalf("cube saturated after first face")
	}
	if saturated := cube.AddFace(f2, nil); saturated {
		t.Fatalf("cube saturated after second face")
	}
	if saturated := cube.AddFace(f3, nil); !saturated {
		t.Fatalf("cube did not saturate after third face")
	}
	if cube.ID == "" {
		t.Fatalf("cube id not assigned on saturation")
	}

	seen := map[int]bool{}
	for _, f := range cube.Faces {
		seen[f.Index] = true
	}
	if !seen[0] || !seen[1] || !seen[2] {
		t.Fatalf("faces not reindexed to 0,1,2: %v", seen)
	}
}

func TestCubeIDIndependentOfFaceInsertionOrder(t *testing.T) {
	f1 := fullFace(1, 0)
	f2 := fullFace(2, 9)
	f3 := fullFace(3, 18)

	cubeA := NewCube(1, 0, 1)
	cubeA.AddFace(f1, nil)
	cubeA.AddFace(f2, nil)
	cubeA.AddFace(f3, nil)

	g1 := fullFace(30, 0)
	g2 := fullFace(20, 9)
	g3 := fullFace(10, 18)

	cubeB := NewCube(1, 0, 1)
	cubeB.AddFace(g3, nil)
	cubeB.AddFace(g1, nil)
	cubeB.AddFace(g2, nil)

	if cubeA.ID != cubeB.ID {
		t.Fatalf("cube ids differ under reordered face insertion: %s vs %s", cubeA.ID, cubeB.ID)
	}
}

func TestCubeAverageTimestampSetByAverager(t *testing.T) {
	f1 := fullFace(1, 0)
	f2 := fullFace(2, 9)
	f3 := fullFace(3, 18)

	avg := uint64(42)
	cube := NewCube(2, 0, 1)
	cube.AddFace(f1, nil)
	cube.AddFace(f2, nil)
	cube.AddFace(f3, func(*Cube) *uint64 { return &avg })

	if cube.ValidatorAverageTimestamp == nil {
		t.Fatalf("expected average timestamp to be set by the injected averager")
	}
	if *cube.ValidatorAverageTimestamp != 42 {
		t.Fatalf("average timestamp = %d, want 42", *cube.ValidatorAverageTimestamp)
	}
}

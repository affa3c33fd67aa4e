package framestack

import "testing"

func TestProjectionRuns(t *testing.T) {
	// a 4x4 block at (4, 4) of an 8x8 frame, tile rows 2..6 full width
	block := BlockPlacement{Sig: Slice{Origin: []int{4, 4}, Shape: MustShape([]int{4, 4}, 2)}}
	tile := Slice{Origin: []int{2, 0}, Shape: MustShape([]int{4, 8}, 2)}

	projs := projectBlocks([]BlockPlacement{block}, tile)
	if len(projs) != 1 {
		t.Fatalf("expected 1 projection, got %d", len(projs))
	}
	if got := projs[0].region.String(); got != "<Slice origin=(4, 4) shape=(2, 4)>" {
		t.Errorf("region: %s", got)
	}
	runs := projs[0].runs(tile)
	want := []run{{src: 0, dst: 20, n: 4}, {src: 4, dst: 28, n: 4}}
	if len(runs) != len(want) {
		t.Fatalf("runs: %+v", runs)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("run %d: got %+v, want %+v", i, runs[i], want[i])
		}
	}

	plans := planProjections([]BlockPlacement{block}, tile)
	if plans[0].lo != 0 || plans[0].hi != 8 {
		t.Errorf("span [%d, %d)", plans[0].lo, plans[0].hi)
	}

	outside := Slice{Origin: []int{0, 0}, Shape: MustShape([]int{4, 4}, 2)}
	if len(projectBlocks([]BlockPlacement{block}, outside)) != 0 {
		t.Error("disjoint block projected")
	}
}

package camera

import "testing"

func TestDropScheduleKeepsExactTargetPerCycle(t *testing.T) {
	cases := []struct{ native, target int }{
		{30, 10}, {30, 15}, {25, 5}, {10, 3}, {1, 1},
	}
	for _, c := range cases {
		d := newDropSchedule(c.native, c.target)
		kept := 0
		for i := 0; i < c.native; i++ {
			if !d.shouldDrop() {
				kept++
			}
		}
		if kept != c.target {
			t.Errorf("newDropSchedule(%d, %d): kept %d frames over one cycle, want %d", c.native, c.target, kept, c.target)
		}
	}
}

func TestDropScheduleTargetAtOrAboveNativeNeverDrops(t *testing.T) {
	d := newDropSchedule(10, 10)
	for i := 0; i < 30; i++ {
		if d.shouldDrop() {
			t.Fatalf("shouldDrop() = true at i=%d with target==native, want false", i)
		}
	}

	d = newDropSchedule(10, 50) // clamps target down to native
	for i := 0; i < 30; i++ {
		if d.shouldDrop() {
			t.Fatalf("shouldDrop() = true at i=%d with target clamped to native, want false", i)
		}
	}
}

func TestDropScheduleZeroInputsFloorToOne(t *testing.T) {
	d := newDropSchedule(0, 0)
	if d.nativeFPS != 1 || d.targetFPS != 1 {
		t.Fatalf("newDropSchedule(0, 0) = {native:%d target:%d}, want both 1", d.nativeFPS, d.targetFPS)
	}
}

package camera

// dropSchedule implements spec §4.1 "Frame-rate coercion": given a native
// capture rate S and a desired effective rate E = min(E_configured, S),
// it decides, for each native frame in turn, whether to drop it so that
// exactly E of every S frames are kept, uniformly spaced.
type dropSchedule struct {
	nativeFPS int
	targetFPS int
	idx       int // wraps 1..nativeFPS
	drop      map[int]bool
}

func newDropSchedule(nativeFPS, targetFPS int) *dropSchedule {
	if nativeFPS <= 0 {
		nativeFPS = 1
	}
	if targetFPS <= 0 {
		targetFPS = 1
	}
	if targetFPS > nativeFPS {
		targetFPS = nativeFPS
	}
	return &dropSchedule{
		nativeFPS: nativeFPS,
		targetFPS: targetFPS,
		drop:      buildDropMap(nativeFPS, targetFPS),
	}
}

// buildDropMap precomputes, for native rate S and target rate E, the set
// of 1-based positions in a length-S cycle that must be dropped so exactly
// E of every S frames survive. Ported from the reference implementation's
// drop_suggest walk: drop_index starts at 1 and only advances on a drop,
// so each successive drop slot is spaced S/(S-E) positions after the last.
func buildDropMap(nativeFPS, targetFPS int) map[int]bool {
	diff := nativeFPS - targetFPS
	if diff <= 0 {
		return nil
	}
	if targetFPS == 1 {
		drop := make(map[int]bool, nativeFPS-1)
		for i := 2; i <= nativeFPS; i++ {
			drop[i] = true
		}
		return drop
	}

	drop := make(map[int]bool, diff)
	avg := float64(nativeFPS) / float64(diff)
	dropIndex := 1
	for i := 1; i <= nativeFPS; i++ {
		dropSuggest := avg * float64(dropIndex)
		if float64(i) >= dropSuggest {
			drop[i] = true
			dropIndex++
		}
	}
	return drop
}

// shouldDrop advances the schedule by one native frame and reports
// whether that frame should be dropped.
func (d *dropSchedule) shouldDrop() bool {
	d.idx++
	if d.idx > d.nativeFPS {
		d.idx = 1
	}
	return d.drop[d.idx]
}

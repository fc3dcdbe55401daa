package rods

import "github.com/banshee-data/rodtracker/internal/stereo"

// InsertMissing pads every (color, frame) bucket of t that holds fewer than
// expected rods with placeholder rows. Placeholders take the lowest particle
// IDs not already used in the bucket. Buckets holding more rods than expected
// are left alone and logged. It returns the number of rows inserted.
func InsertMissing(t *Table, expected int) int {
	inserted := 0
	for _, color := range t.Colors() {
		for _, frame := range t.Frames(color) {
			current := t.Frame(color, frame)
			if len(current) > expected {
				stereo.Opsf("%d rods in frame %d of color %q, expected %d; not padded", len(current), frame, color, expected)
				continue
			}
			missing := expected - len(current)
			if missing == 0 {
				continue
			}
			used := make(map[int]bool, len(current))
			for _, r := range current {
				used[r.Particle] = true
			}
			next := 0
			for i := 0; i < missing; i++ {
				for used[next] {
					next++
				}
				used[next] = true
				current = append(current, Placeholder(color, frame, next))
			}
			t.Replace(color, frame, current)
			inserted += missing
		}
	}
	return inserted
}

package rods

import (
	"sort"
	"sync"
)

// Key addresses one bucket of a Table.
type Key struct {
	Color string
	Frame int
}

// Table is the rod collection of a single run, bucketed by (color, frame).
// Readers get copies; writers replace a whole bucket at a time.
type Table struct {
	mu      sync.RWMutex
	cams    [2]string
	buckets map[Key][]Rod
}

// NewTable creates an empty table for the given camera identifiers, which
// name the per-camera columns on export.
func NewTable(cam1, cam2 string) *Table {
	return &Table{
		cams:    [2]string{cam1, cam2},
		buckets: make(map[Key][]Rod),
	}
}

// CameraIDs returns the two camera identifiers.
func (t *Table) CameraIDs() [2]string {
	return t.cams
}

// Frame returns a copy of the rods stored for (color, frame), ordered by
// particle.
func (t *Table) Frame(color string, frame int) []Rod {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src := t.buckets[Key{color, frame}]
	if len(src) == 0 {
		return nil
	}
	return append([]Rod(nil), src...)
}

// Replace overwrites the bucket for (color, frame). Each rod's Color and
// Frame are set to the bucket's. An empty slice removes the bucket.
func (t *Table) Replace(color string, frame int, rods []Rod) {
	cp := make([]Rod, len(rods))
	for i, r := range rods {
		r.Color = color
		r.Frame = frame
		cp[i] = r
	}
	sortByParticle(cp)

	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key{color, frame}
	if len(cp) == 0 {
		delete(t.buckets, key)
		return
	}
	t.buckets[key] = cp
}

// Append adds rods to their buckets. It is meant for loading; matching and
// tracking results are stored with Replace.
func (t *Table) Append(rods ...Rod) {
	t.mu.Lock()
	defer t.mu.Unlock()
	touched := make(map[Key]bool)
	for _, r := range rods {
		key := Key{r.Color, r.Frame}
		t.buckets[key] = append(t.buckets[key], r)
		touched[key] = true
	}
	for key := range touched {
		sortByParticle(t.buckets[key])
	}
}

// Colors returns the colors present, sorted.
func (t *Table) Colors() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := make(map[string]struct{})
	for k := range t.buckets {
		set[k.Color] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Frames returns the frames present for color, ascending.
func (t *Table) Frames(color string) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int
	for k := range t.buckets {
		if k.Color == color {
			out = append(out, k.Frame)
		}
	}
	sort.Ints(out)
	return out
}

// Color returns copies of all rods of one color ordered by frame, then
// particle.
func (t *Table) Color(color string) []Rod {
	var out []Rod
	for _, f := range t.Frames(color) {
		out = append(out, t.Frame(color, f)...)
	}
	return out
}

// Rows returns copies of every rod ordered by color, frame and particle.
func (t *Table) Rows() []Rod {
	var out []Rod
	for _, c := range t.Colors() {
		out = append(out, t.Color(c)...)
	}
	return out
}

// Len returns the number of stored rods.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b)
	}
	return n
}

// Select returns a new table holding the buckets of the given colors whose
// frame lies in [first, last]. A nil colors slice selects every color and a
// negative last leaves the range open.
func (t *Table) Select(colors []string, first, last int) *Table {
	want := make(map[string]bool, len(colors))
	for _, c := range colors {
		want[c] = true
	}
	out := NewTable(t.cams[0], t.cams[1])

	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, b := range t.buckets {
		if colors != nil && !want[k.Color] {
			continue
		}
		if k.Frame < first || (last >= 0 && k.Frame > last) {
			continue
		}
		out.buckets[k] = append([]Rod(nil), b...)
	}
	return out
}

// GroupByFrame splits rods of a single color into per-frame slices, ordered
// by frame. The input order within a frame is kept.
func GroupByFrame(rods []Rod) ([]int, map[int][]Rod) {
	byFrame := make(map[int][]Rod)
	for _, r := range rods {
		byFrame[r.Frame] = append(byFrame[r.Frame], r)
	}
	frames := make([]int, 0, len(byFrame))
	for f := range byFrame {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	return frames, byFrame
}

func sortByParticle(rods []Rod) {
	sort.SliceStable(rods, func(i, j int) bool {
		return rods[i].Particle < rods[j].Particle
	})
}

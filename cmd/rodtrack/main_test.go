package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rodtracker/internal/config"
	"github.com/banshee-data/rodtracker/internal/match"
	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
	"github.com/banshee-data/rodtracker/internal/storage/sqlite"
	"github.com/banshee-data/rodtracker/internal/timeutil"
)

// TestFlagDefaults verifies the defaults a bare invocation runs with.
func TestFlagDefaults(t *testing.T) {
	if mode == nil || renumber == nil || lastFrame == nil {
		t.Fatal("flags not defined")
	}
	assert.Equal(t, modeMatch, *mode)
	assert.True(t, *renumber, "renumber should default to true")
	assert.Equal(t, 0, *firstFrame)
	assert.Equal(t, -1, *lastFrame)
	assert.Equal(t, "", *dbPath)
	assert.Equal(t, 0, *workers)
}

func TestSplitColors(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  ", nil},
		{"red", []string{"red"}},
		{"red, blue ,,green", []string{"red", "blue", "green"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitColors(tt.in), "splitColors(%q)", tt.in)
	}
}

func TestOptionsValidate(t *testing.T) {
	base := func() options {
		return options{
			mode:      modeMatch,
			calibPath: "calib.json",
			inPath:    "in.csv",
			outPath:   "out.csv",
			cam1:      "gp1",
			cam2:      "gp2",
			last:      -1,
			tuning:    config.DefaultTuningConfig(),
		}
	}
	bad := -1
	tests := []struct {
		name    string
		mutate  func(*options)
		wantErr string
	}{
		{"valid", func(*options) {}, ""},
		{"global needs no calibration", func(o *options) { o.mode = modeGlobal; o.calibPath = "" }, ""},
		{"reorder needs no calibration", func(o *options) { o.mode = modeReorder; o.calibPath = "" }, ""},
		{"unknown mode", func(o *options) { o.mode = "fit" }, "unknown mode"},
		{"track needs calibration", func(o *options) { o.mode = modeTrack; o.calibPath = "" }, "-calibration"},
		{"missing output", func(o *options) { o.outPath = "" }, "-in and -out"},
		{"same cameras", func(o *options) { o.cam2 = "gp1" }, "must differ"},
		{"detected cameras", func(o *options) { o.cam1, o.cam2 = "", "" }, ""},
		{"one camera", func(o *options) { o.cam2 = "" }, "set together"},
		{"inverted range", func(o *options) { o.first, o.last = 5, 2 }, "before -first"},
		{"open range", func(o *options) { o.first, o.last = 5, -1 }, ""},
		{"no tuning", func(o *options) { o.tuning = nil }, "no tuning"},
		{"bad tuning", func(o *options) { o.tuning.ExpectedRods = &bad }, "expected_rods"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base()
			tt.mutate(&o)
			err := o.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// writeCalibration stores the synthetic rig in the OpenCV JSON layout.
func writeCalibration(t *testing.T, dir string) (string, *stereo.Calibration) {
	t.Helper()
	calib := stereo.SyntheticCalibration()
	doc := map[string]interface{}{
		"CM1":   calib.Camera(0).Matrix,
		"dist1": calib.Camera(0).Distortion,
		"CM2":   calib.Camera(1).Matrix,
		"dist2": calib.Camera(1).Distortion,
		"R":     calib.Rotation(),
		"T":     []float64{calib.Translation().X, calib.Translation().Y, calib.Translation().Z},
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "calib.json")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path, calib
}

// writeObservations stores frames of three rods drifting in the camera-1
// frame, with the camera-2 rows rotated so row order carries no pairing.
func writeObservations(t *testing.T, dir string, calib *stereo.Calibration, frames int) string {
	t.Helper()
	return writeObservationsAs(t, dir, calib, frames, "gp1", "gp2")
}

func writeObservationsAs(t *testing.T, dir string, calib *stereo.Calibration, frames int, cam1, cam2 string) string {
	t.Helper()
	world := stereo.IdentityTransform()
	base := [][2]r3.Vector{
		{{X: -150, Y: -40, Z: 980}, {X: -110, Y: -20, Z: 1010}},
		{{X: 0, Y: 60, Z: 1000}, {X: 30, Y: 100, Z: 1040}},
		{{X: 120, Y: -50, Z: 1060}, {X: 170, Y: -70, Z: 1040}},
	}
	tbl := rods.NewTable(cam1, cam2)
	for f := 0; f < frames; f++ {
		step := r3.Vector{X: 4, Y: 2, Z: -3}.Mul(float64(f))
		var rows []rods.Rod
		for i, b := range base {
			r := match.ObservedRow(calib, world, i, b[0].Add(step), b[1].Add(step))
			r.Color, r.Frame = "red", f
			rows = append(rows, r)
		}
		for i := range rows {
			b := base[(i+f)%len(base)]
			_, c2 := match.Observe(calib, world, b[0].Add(step), b[1].Add(step))
			rows[i].Cam[1] = c2
		}
		tbl.Replace("red", f, rows)
	}
	path := filepath.Join(dir, "in.csv")
	require.NoError(t, rods.SaveCSV(path, tbl))
	return path
}

func testOptions(dir, mode, in, out string) options {
	return options{
		mode:     mode,
		inPath:   in,
		outPath:  out,
		cam1:     "gp1",
		cam2:     "gp2",
		last:     -1,
		renumber: true,
		dbPath:   filepath.Join(dir, "runs.db"),
		tuning:   config.DefaultTuningConfig(),
	}
}

func TestRunPipeline(t *testing.T) {
	dir := t.TempDir()
	calibPath, calib := writeCalibration(t, dir)
	in := writeObservations(t, dir, calib, 5)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	matched := filepath.Join(dir, "matched.csv")
	opts := testOptions(dir, modeMatch, in, matched)
	opts.calibPath = calibPath
	require.NoError(t, opts.validate())
	sum, err := run(context.Background(), opts, clock)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Colors)
	assert.Equal(t, 5, sum.Frames)
	assert.Equal(t, 15, sum.Rods)
	assert.Zero(t, sum.Skipped)
	assert.Less(t, sum.CostMax, 1e-3)
	assert.NotEmpty(t, sum.RunID)

	out, err := rods.LoadCSV(matched, "gp1", "gp2")
	require.NoError(t, err)
	assert.Equal(t, 15, out.Len())
	for _, r := range out.Rows() {
		assert.True(t, r.Has3D(), "frame %d particle %d", r.Frame, r.Particle)
	}

	db, err := sqlite.Open(opts.dbPath)
	require.NoError(t, err)
	store := sqlite.NewRunStore(db.DB, clock)
	rec, err := store.GetRun(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusCompleted, rec.Status)
	assert.Equal(t, modeMatch, rec.Kind)
	stored, err := store.ListRods(sum.RunID, "red")
	require.NoError(t, err)
	assert.Len(t, stored, 15)
	require.NoError(t, db.Close())

	// Global relabelling follows each rod through the drift.
	global := filepath.Join(dir, "global.csv")
	sum, err = run(context.Background(), testOptions(dir, modeGlobal, matched, global), clock)
	require.NoError(t, err)
	assert.Equal(t, 15, sum.Rods)
	assert.Zero(t, sum.Skipped)
	assertStableIDs(t, global)

	// Reordering already consistent endpoints swaps nothing.
	reordered := filepath.Join(dir, "reordered.csv")
	sum, err = run(context.Background(), testOptions(dir, modeReorder, global, reordered), clock)
	require.NoError(t, err)
	assert.Zero(t, sum.Swapped)
	assert.Equal(t, 15, sum.Rods)
}

func TestRunTrack(t *testing.T) {
	dir := t.TempDir()
	calibPath, calib := writeCalibration(t, dir)
	in := writeObservations(t, dir, calib, 4)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	tracked := filepath.Join(dir, "tracked.csv")
	opts := testOptions(dir, modeTrack, in, tracked)
	opts.calibPath = calibPath
	sum, err := run(context.Background(), opts, clock)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Frames)
	assert.Equal(t, 12, sum.Rods)
	assertStableIDs(t, tracked)
}

func TestRunDetectsCameras(t *testing.T) {
	dir := t.TempDir()
	calibPath, calib := writeCalibration(t, dir)
	in := writeObservationsAs(t, dir, calib, 3, "left", "right")

	out := filepath.Join(dir, "out.csv")
	opts := testOptions(dir, modeMatch, in, out)
	opts.calibPath = calibPath
	opts.dbPath = ""
	opts.cam1, opts.cam2 = "", ""
	require.NoError(t, opts.validate())
	sum, err := run(context.Background(), opts, timeutil.RealClock{})
	require.NoError(t, err)
	assert.Equal(t, 9, sum.Rods)
	assert.Zero(t, sum.Empty)

	tbl, err := rods.LoadCSV(out, "", "")
	require.NoError(t, err)
	assert.Equal(t, [2]string{"left", "right"}, tbl.CameraIDs())
	assert.Equal(t, 9, tbl.Len())

	// Camera IDs that the input does not carry are an error, not an empty run.
	opts.cam1, opts.cam2 = "gp1", "gp2"
	_, err = run(context.Background(), opts, timeutil.RealClock{})
	assert.ErrorIs(t, err, rods.ErrMissingColumn)
}

func TestRunFrameRange(t *testing.T) {
	dir := t.TempDir()
	calibPath, calib := writeCalibration(t, dir)
	in := writeObservations(t, dir, calib, 6)

	opts := testOptions(dir, modeMatch, in, filepath.Join(dir, "out.csv"))
	opts.calibPath = calibPath
	opts.dbPath = ""
	opts.first, opts.last = 2, 3
	sum, err := run(context.Background(), opts, timeutil.RealClock{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Frames)
	assert.Equal(t, 6, sum.Rods)
	assert.Empty(t, sum.RunID)
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	calibPath, calib := writeCalibration(t, dir)
	in := writeObservations(t, dir, calib, 3)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := filepath.Join(dir, "out.csv")
	opts := testOptions(dir, modeTrack, in, out)
	opts.calibPath = calibPath
	sum, err := run(ctx, opts, clock)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, sum)
	assert.True(t, sum.Cancelled)

	// Partial output is still written.
	_, statErr := os.Stat(out)
	assert.NoError(t, statErr)

	db, err := sqlite.Open(opts.dbPath)
	require.NoError(t, err)
	defer db.Close()
	rec, err := sqlite.NewRunStore(db.DB, clock).GetRun(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusCancelled, rec.Status)
}

func TestRunBadCalibration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calib.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"CM1": [[1,0,0],[0,1,0],[0,0,1]]}`), 0o644))

	opts := testOptions(dir, modeMatch, filepath.Join(dir, "in.csv"), filepath.Join(dir, "out.csv"))
	opts.calibPath = path
	sum, err := run(context.Background(), opts, timeutil.RealClock{})
	assert.Nil(t, sum)
	assert.ErrorIs(t, err, stereo.ErrConfiguration)
	_, statErr := os.Stat(opts.dbPath)
	assert.True(t, os.IsNotExist(statErr), "no run should be recorded for a configuration error")
}

// assertStableIDs checks that every particle of a result keeps a rod whose
// midpoint moves by the fixture step between consecutive frames.
func assertStableIDs(t *testing.T, path string) {
	t.Helper()
	tbl, err := rods.LoadCSV(path, "gp1", "gp2")
	require.NoError(t, err)
	step := r3.Vector{X: 4, Y: 2, Z: -3}
	frames := tbl.Frames("red")
	for i := 1; i < len(frames); i++ {
		prev := map[int]rods.Rod{}
		for _, r := range tbl.Frame("red", frames[i-1]) {
			prev[r.Particle] = r
		}
		for _, r := range tbl.Frame("red", frames[i]) {
			p, ok := prev[r.Particle]
			require.True(t, ok, "particle %d appears in frame %d only", r.Particle, frames[i])
			moved := r.Center().Sub(p.Center())
			assert.InDelta(t, 0, moved.Sub(step).Norm(), 1e-2,
				"particle %d frame %d moved %v", r.Particle, frames[i], moved)
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rodtracker/internal/config"
	"github.com/banshee-data/rodtracker/internal/match"
	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
	"github.com/banshee-data/rodtracker/internal/storage/sqlite"
	"github.com/banshee-data/rodtracker/internal/timeutil"
	"github.com/banshee-data/rodtracker/internal/track"
)

const (
	modeMatch   = "match"
	modeTrack   = "track"
	modeGlobal  = "global"
	modeReorder = "reorder"
)

type options struct {
	mode          string
	calibPath     string
	transformPath string
	inPath        string
	outPath       string
	cam1, cam2    string
	colors        []string
	first, last   int
	renumber      bool
	dbPath        string
	tuning        *config.TuningConfig
}

func (o options) validate() error {
	switch o.mode {
	case modeMatch, modeTrack:
		if o.calibPath == "" {
			return fmt.Errorf("-calibration is required in %s mode", o.mode)
		}
	case modeGlobal, modeReorder:
	default:
		return fmt.Errorf("unknown mode %q", o.mode)
	}
	if o.inPath == "" || o.outPath == "" {
		return errors.New("-in and -out are required")
	}
	if (o.cam1 == "") != (o.cam2 == "") {
		return fmt.Errorf("-cam1 and -cam2 must be set together, got %q and %q", o.cam1, o.cam2)
	}
	if o.cam1 != "" && o.cam1 == o.cam2 {
		return fmt.Errorf("camera IDs must differ, both are %q", o.cam1)
	}
	if o.last >= 0 && o.last < o.first {
		return fmt.Errorf("-last %d is before -first %d", o.last, o.first)
	}
	if o.tuning == nil {
		return errors.New("no tuning config")
	}
	return o.tuning.Validate()
}

// params is the JSON form of a run's inputs stored with the run record.
type params struct {
	Mode        string   `json:"mode"`
	Calibration string   `json:"calibration,omitempty"`
	Transform   string   `json:"transform,omitempty"`
	Input       string   `json:"input"`
	Output      string   `json:"output"`
	Colors      []string `json:"colors,omitempty"`
	First       int      `json:"first"`
	Last        int      `json:"last"`
	Renumber    bool     `json:"renumber"`
}

// summary is the outcome of a run, logged and stored as run diagnostics.
type summary struct {
	Mode      string  `json:"mode"`
	Colors    int     `json:"colors"`
	Frames    int     `json:"frames"`
	Rods      int     `json:"rods"`
	Skipped   int     `json:"skipped"`
	Empty     int     `json:"empty"`
	Imputed   int     `json:"imputed"`
	Swapped   int     `json:"swapped"`
	CostMean  float64 `json:"cost_mean"`
	CostStd   float64 `json:"cost_std"`
	CostMax   float64 `json:"cost_max"`
	Elapsed   string  `json:"elapsed"`
	Cancelled bool    `json:"cancelled,omitempty"`
	RunID     string  `json:"run_id,omitempty"`
}

func (s *summary) String() string {
	msg := fmt.Sprintf("%s: %d colors, %d frames, %d rods, %d skipped, %d empty, %d imputed, %d swapped, cost mean %.4f std %.4f max %.4f in %s",
		s.Mode, s.Colors, s.Frames, s.Rods, s.Skipped, s.Empty, s.Imputed, s.Swapped, s.CostMean, s.CostStd, s.CostMax, s.Elapsed)
	if s.Cancelled {
		msg += " (cancelled, partial output)"
	}
	if s.RunID != "" {
		msg += " run " + s.RunID
	}
	return msg
}

func (s *summary) setCost(c match.CostSummary) {
	s.CostMean, s.CostStd, s.CostMax = c.Mean, c.Std, c.Max
}

// run executes one pass. Configuration errors are returned before any frame
// is processed. On cancellation the partial output is still written and the
// context error is returned with the summary.
func run(ctx context.Context, opts options, clock timeutil.Clock) (*summary, error) {
	start := clock.Now()

	var (
		calib *stereo.Calibration
		world = stereo.IdentityTransform()
		err   error
	)
	rotTol := opts.tuning.GetRotationTolerance()
	if opts.mode == modeMatch || opts.mode == modeTrack {
		if calib, err = stereo.LoadCalibration(opts.calibPath, rotTol); err != nil {
			return nil, err
		}
		if opts.transformPath != "" {
			if world, err = stereo.LoadWorldTransform(opts.transformPath, rotTol); err != nil {
				return nil, err
			}
		}
	}

	in, err := rods.LoadCSV(opts.inPath, opts.cam1, opts.cam2)
	if err != nil {
		return nil, err
	}
	in = in.Select(opts.colors, opts.first, opts.last)
	colors := opts.colors
	if colors == nil {
		colors = in.Colors()
	}

	var store *sqlite.RunStore
	var runRec *sqlite.Run
	if opts.dbPath != "" {
		db, err := sqlite.Open(opts.dbPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		store = sqlite.NewRunStore(db.DB, clock)
		runRec, err = store.StartRun(opts.mode, params{
			Mode: opts.mode, Calibration: opts.calibPath, Transform: opts.transformPath,
			Input: opts.inPath, Output: opts.outPath, Colors: opts.colors,
			First: opts.first, Last: opts.last, Renumber: opts.renumber,
		})
		if err != nil {
			return nil, err
		}
	}

	sum := &summary{Mode: opts.mode, Colors: len(colors)}
	var done atomic.Int64
	stopProgress := reportProgress(ctx, clock, opts.tuning.GetProgressInterval(), opts.mode, len(colors), &done)

	out, runErr := execute(ctx, opts, calib, world, in, colors, sum, &done)
	stopProgress()

	if n := opts.tuning.GetExpectedRods(); n > 0 {
		sum.Imputed = rods.InsertMissing(out, n)
	}
	sum.Rods = out.Len()
	sum.Elapsed = clock.Since(start).Round(time.Millisecond).String()
	sum.Cancelled = runErr != nil && ctx.Err() != nil

	if err := rods.SaveCSV(opts.outPath, out); err != nil {
		return sum, errors.Join(runErr, err)
	}

	if store != nil {
		sum.RunID = runRec.RunID
		status := sqlite.RunStatusCompleted
		switch {
		case sum.Cancelled:
			status = sqlite.RunStatusCancelled
		case runErr != nil:
			status = sqlite.RunStatusFailed
		}
		if err := store.InsertRods(runRec.RunID, out.Rows()); err != nil {
			return sum, errors.Join(runErr, err)
		}
		if err := store.CompleteRun(runRec.RunID, status, sum, runErr); err != nil {
			return sum, errors.Join(runErr, err)
		}
	}
	return sum, runErr
}

// execute runs the selected pass over in and returns the result table.
func execute(ctx context.Context, opts options, calib *stereo.Calibration, world stereo.WorldTransform,
	in *rods.Table, colors []string, sum *summary, done *atomic.Int64) (*rods.Table, error) {
	cams := in.CameraIDs()
	out := rods.NewTable(cams[0], cams[1])
	cfg := track.ConfigFromTuning(opts.tuning)

	switch opts.mode {
	case modeMatch:
		mode := match.Fixed
		if opts.renumber {
			mode = match.Free
		}
		m := match.NewMatcher(calib, world, cfg.Match)
		res, report, err := m.Batch(ctx, in, colors, mode)
		done.Store(int64(len(colors)))
		sum.Frames, sum.Skipped, sum.Empty = len(report.Frames), report.Skipped, report.Empty
		sum.setCost(report.Totals.Cost)
		return res, err

	case modeTrack:
		tr := track.NewTracker(match.NewMatcher(calib, world, cfg.Match), cfg)
		var costs []float64
		for _, c := range colors {
			res, err := tr.Track(ctx, in, c, nil, opts.renumber)
			storeFrames(out, c, res.Rods)
			sum.Frames += len(res.Frames)
			sum.Skipped += res.Skipped
			sum.Empty += res.Empty
			for _, r := range res.Rods {
				costs = append(costs, r.Cost)
			}
			for _, d := range res.Frames {
				sum.Swapped += d.Swapped
			}
			done.Add(1)
			if err != nil {
				sum.setCost(match.Summarize(costs))
				return out, err
			}
		}
		sum.setCost(match.Summarize(costs))
		return out, nil

	case modeGlobal:
		var costs []float64
		for _, c := range colors {
			res, err := track.AssignGlobal(ctx, in.Color(c), cfg.Workers)
			storeFrames(out, c, res.Rods)
			sum.Frames += len(in.Frames(c))
			for _, tr := range res.Transitions {
				if tr.Feasible {
					costs = append(costs, tr.Cost)
				} else {
					sum.Skipped++
				}
			}
			done.Add(1)
			if err != nil {
				sum.setCost(match.Summarize(costs))
				return out, err
			}
		}
		sum.setCost(match.Summarize(costs))
		return out, nil

	case modeReorder:
		var costs []float64
		for _, c := range colors {
			res, err := track.ReorderEndpoints(ctx, in.Color(c))
			storeFrames(out, c, res.Rods)
			sum.Frames += len(in.Frames(c))
			sum.Swapped += res.Swapped
			for _, rc := range res.Costs {
				costs = append(costs, rc.Cost)
			}
			done.Add(1)
			if err != nil {
				sum.setCost(match.Summarize(costs))
				return out, err
			}
		}
		sum.setCost(match.Summarize(costs))
		return out, nil
	}
	return out, fmt.Errorf("unknown mode %q", opts.mode)
}

// storeFrames writes rods of one color into t frame by frame.
func storeFrames(t *rods.Table, color string, rs []rods.Rod) {
	frames, byFrame := rods.GroupByFrame(rs)
	for _, f := range frames {
		t.Replace(color, f, byFrame[f])
	}
}

// reportProgress logs the number of finished colors every interval until
// the returned stop function is called.
func reportProgress(ctx context.Context, clock timeutil.Clock, interval time.Duration, mode string, total int, done *atomic.Int64) func() {
	if interval <= 0 {
		return func() {}
	}
	ticker := clock.NewTicker(interval)
	quit := make(chan struct{})
	finished := make(chan struct{})
	start := clock.Now()
	go func() {
		defer close(finished)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				stereo.Diagf("%s: %d/%d colors done after %s", mode, done.Load(), total,
					clock.Since(start).Round(time.Second))
			case <-ctx.Done():
				return
			case <-quit:
				return
			}
		}
	}()
	return func() {
		close(quit)
		<-finished
	}
}

package match

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
)

// BatchReport summarizes a Batch run.
type BatchReport struct {
	Frames []FrameResult
	Totals Stats
	// Skipped counts frames with a non-empty-frame error; Empty counts frames
	// without candidates in a camera.
	Skipped int
	Empty   int
}

// Batch matches every (color, frame) bucket of src independently and writes
// the results into a new table with the same camera IDs. Frames are processed
// in parallel by at most cfg.Workers goroutines; per-frame failures are
// recorded in the report and do not stop the batch. On cancellation the
// frames finished so far are returned with ctx.Err().
func (m *Matcher) Batch(ctx context.Context, src *rods.Table, colors []string, mode Mode) (*rods.Table, BatchReport, error) {
	cams := src.CameraIDs()
	dst := rods.NewTable(cams[0], cams[1])
	if colors == nil {
		colors = src.Colors()
	}

	var keys []rods.Key
	for _, c := range colors {
		for _, f := range src.Frames(c) {
			keys = append(keys, rods.Key{Color: c, Frame: f})
		}
	}

	results := make([]FrameResult, len(keys))
	done := make([]bool, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	workers := m.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, _ := m.MatchFrame(src.Frame(key.Color, key.Frame), key.Frame, key.Color, mode)
			results[i] = res
			done[i] = true
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	report := BatchReport{}
	for i, res := range results {
		if !done[i] {
			continue
		}
		report.Frames = append(report.Frames, res)
		report.Totals.Add(res.Stats)
		switch {
		case res.Err == nil:
			dst.Replace(res.Color, res.Frame, res.Rods)
		case errors.Is(res.Err, stereo.ErrEmptyFrame):
			report.Empty++
		default:
			report.Skipped++
		}
	}
	var costs []float64
	for _, res := range report.Frames {
		costs = append(costs, res.Costs...)
	}
	report.Totals.Cost = Summarize(costs)
	stereo.Diagf("batch: %d/%d frames, %d rods, %d skipped, %d empty, cost mean %.3f std %.3f max %.3f",
		len(report.Frames), len(keys), dst.Len(), report.Skipped, report.Empty,
		report.Totals.Cost.Mean, report.Totals.Cost.Std, report.Totals.Cost.Max)
	return dst, report, err
}

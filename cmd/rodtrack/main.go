// Command rodtrack reconstructs and tracks rods seen by a calibrated stereo
// camera pair.
//
// Modes:
//
//	match    reconstruct every frame independently
//	track    reconstruct frame by frame, carrying particle IDs forward
//	global   relabel already reconstructed rods by minimal displacement
//	reorder  re-orient endpoints of already tracked rods
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/rodtracker/internal/config"
	"github.com/banshee-data/rodtracker/internal/stereo"
	"github.com/banshee-data/rodtracker/internal/timeutil"
	"github.com/banshee-data/rodtracker/internal/version"
)

var (
	mode          = flag.String("mode", "match", "Pass to run: match, track, global or reorder")
	calibPath     = flag.String("calibration", "", "Stereo calibration JSON (match and track)")
	transformPath = flag.String("transform", "", "World transformation JSON; identity when empty")
	inPath        = flag.String("in", "", "Input rod CSV")
	outPath       = flag.String("out", "", "Output rod CSV")
	cam1ID        = flag.String("cam1", "", "First camera ID; overrides the tuning file, detected from the CSV header when unset")
	cam2ID        = flag.String("cam2", "", "Second camera ID; overrides the tuning file, detected from the CSV header when unset")
	colorsFlag    = flag.String("colors", "", "Comma-separated colors to process; all when empty")
	firstFrame    = flag.Int("first", 0, "First frame to process")
	lastFrame     = flag.Int("last", -1, "Last frame to process; -1 for no limit")
	renumber      = flag.Bool("renumber", true, "Match freely and assign particle IDs instead of trusting the input IDs")
	tuningPath    = flag.String("config", "", "Tuning config JSON; defaults are used when empty")
	dbPath        = flag.String("db", "", "SQLite database to record the run in; disabled when empty")
	workers       = flag.Int("workers", 0, "Parallel workers; overrides the tuning file when > 0")
	verbose       = flag.Bool("verbose", false, "Log per-run diagnostics")
	trace         = flag.Bool("trace", false, "Log per-frame telemetry")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	lw := stereo.LogWriters{Ops: os.Stderr}
	if *verbose || *trace {
		lw.Diag = os.Stderr
	}
	if *trace {
		lw.Trace = os.Stderr
	}
	stereo.SetLogWriters(lw)

	tuning := config.DefaultTuningConfig()
	if *tuningPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*tuningPath); err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	opts, err := optionsFromFlags(tuning)
	if err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, opts, timeutil.RealClock{})
	if summary != nil {
		log.Print(summary)
	}
	if err != nil {
		log.Fatalf("rodtrack %s: %v", opts.mode, err)
	}
}

func optionsFromFlags(tuning *config.TuningConfig) (options, error) {
	opts := options{
		mode:          *mode,
		calibPath:     *calibPath,
		transformPath: *transformPath,
		inPath:        *inPath,
		outPath:       *outPath,
		cam1:          tuning.GetCam1ID(),
		cam2:          tuning.GetCam2ID(),
		colors:        splitColors(*colorsFlag),
		first:         *firstFrame,
		last:          *lastFrame,
		renumber:      *renumber,
		dbPath:        *dbPath,
		tuning:        tuning,
	}
	if *cam1ID != "" {
		opts.cam1 = *cam1ID
	}
	if *cam2ID != "" {
		opts.cam2 = *cam2ID
	}
	if *workers > 0 {
		w := *workers
		tuning.Workers = &w
	}
	return opts, opts.validate()
}

func splitColors(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

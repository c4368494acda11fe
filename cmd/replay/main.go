package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalsfoundry/flight-replay/internal/acmi"
	"github.com/signalsfoundry/flight-replay/internal/config"
	"github.com/signalsfoundry/flight-replay/internal/datasource"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/internal/playback"
	"github.com/signalsfoundry/flight-replay/model"
	"github.com/signalsfoundry/flight-replay/timectrl"
)

type options struct {
	file     string
	sortie   string
	object   string
	importTo string
	list     bool
	duration time.Duration
	hudEvery int
	iasMPS   bool
}

func main() {
	var opts options
	envFile := flag.String("env", ".env", "optional .env file with REPLAY_* settings")
	flag.StringVar(&opts.file, "file", "", "play an ACMI recording directly")
	flag.StringVar(&opts.sortie, "sortie", "", "play a sortie from the configured data source")
	flag.StringVar(&opts.object, "object", "", "ACMI object id to follow (default: first object with a transform)")
	flag.StringVar(&opts.importTo, "import", "", "import this ACMI recording into the configured sqlite or postgres store and exit")
	flag.BoolVar(&opts.list, "list", false, "list sorties from the configured data source and exit")
	flag.DurationVar(&opts.duration, "duration", 0, "stop after this much playback frame time (0 = until the recording ends)")
	flag.IntVar(&opts.hudEvery, "hud-every", 60, "print an instrument readout every N frames")
	flag.BoolVar(&opts.iasMPS, "ias-mps", false, "the ACMI recording writes IAS in m/s; convert it to knots")
	rate := flag.Float64("rate", 0, "playback rate (overrides REPLAY_RATE)")
	loop := flag.String("loop", "", "loop policy: stop or repeat (overrides REPLAY_LOOP)")
	flag.Parse()

	log := logging.NewFromEnv()
	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *rate != 0 {
		cfg.Rate = *rate
	}
	if *loop != "" {
		cfg.Loop = *loop
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, cfg, opts, os.Stdout, log); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, out io.Writer, log logging.Logger) error {
	switch {
	case opts.importTo != "":
		return importRecording(ctx, cfg, opts, out, log)
	case opts.list:
		return listSorties(ctx, cfg, out, log)
	case opts.file != "":
		rec, err := acmi.ParseFile(opts.file, parseOptions(opts)...)
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(filepath.Base(opts.file), filepath.Ext(opts.file))
		return play(ctx, cfg, opts, out, log, nil, func(p *playback.Player) (playback.Status, error) {
			return p.SelectSamples(ctx, rec.Meta(id), rec.Samples)
		})
	case opts.sortie != "":
		src, closeSource, err := datasource.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeSource()
		meta, err := findSortie(ctx, src, opts.sortie)
		if err != nil {
			return err
		}
		return play(ctx, cfg, opts, out, log, src, func(p *playback.Player) (playback.Status, error) {
			return p.Select(ctx, meta)
		})
	default:
		return errors.New("nothing to do: pass -file, -sortie, -list or -import")
	}
}

func parseOptions(opts options) []acmi.Option {
	var out []acmi.Option
	if opts.object != "" {
		out = append(out, acmi.WithObject(opts.object))
	}
	if opts.iasMPS {
		out = append(out, acmi.WithIASInMetresPerSecond())
	}
	return out
}

func findSortie(ctx context.Context, src datasource.Source, id string) (model.SortieMeta, error) {
	list, err := src.ListSorties(ctx)
	if err != nil {
		return model.SortieMeta{}, err
	}
	for _, m := range list {
		if m.ID == id {
			return m, nil
		}
	}
	// Sources may serve telemetry for ids they do not list.
	return model.SortieMeta{ID: id}, nil
}

// play runs a headless session on an accelerated frame clock and prints HUD
// readouts until the recording ends, the duration elapses or ctx is done.
func play(ctx context.Context, cfg config.Config, opts options, out io.Writer, log logging.Logger, source playback.TelemetrySource, selectFn func(*playback.Player) (playback.Status, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	every := opts.hudEvery
	if every < 1 {
		every = 1
	}
	frames := 0
	lastState := timectrl.Running
	sink := playback.SinkFunc(func(f playback.Frame) {
		frames++
		if (frames-1)%every == 0 || f.Render.State == timectrl.Stopped {
			printHUD(out, f)
		}
		if f.Render.State == timectrl.Stopped && lastState == timectrl.Running {
			cancel()
		}
		lastState = f.Render.State
	})

	clock := timectrl.NewFrameClock(cfg.Tick, timectrl.Accelerated)
	player := playback.NewPlayer(source, clock,
		playback.WithLogger(log),
		playback.WithSinks(sink),
		playback.WithLoopPolicy(cfg.LoopPolicy()),
		playback.WithRate(cfg.Rate),
	)
	defer player.Close()

	st, err := selectFn(player)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "playing %s (%s, %s): %d samples, %s to %s, orientation from %s\n",
		st.Sortie.ID, st.Sortie.AircraftType, st.Sortie.MissionName, st.Samples,
		st.Start.Format(time.RFC3339), st.Stop.Format(time.RFC3339), st.Orientation)

	<-clock.Run(ctx, opts.duration)

	final := player.Status()
	fmt.Fprintf(out, "stopped at %+.2fs after %d frames\n", final.Offset, clock.Frames())
	return nil
}

func printHUD(out io.Writer, f playback.Frame) {
	s := f.HUD.Sample
	r := f.Render
	fmt.Fprintf(out, "t=%+8.2fs  lat=%9.5f lon=%10.5f  hdg=%5.1f pit=%5.1f rol=%6.1f  alt=%7.0fm ias=%4.0fkt g=%4.1f\n",
		r.Offset, r.Position.Lat, r.Position.Lon,
		r.Orientation.Heading, r.Orientation.Pitch, r.Orientation.Roll,
		s.Alt, s.IAS, s.GForce)
}

func listSorties(ctx context.Context, cfg config.Config, out io.Writer, log logging.Logger) error {
	src, closeSource, err := datasource.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSource()

	list, err := src.ListSorties(ctx)
	if err != nil {
		return err
	}
	for _, m := range list {
		fmt.Fprintf(out, "%-12s %-24s %-12s %s\n", m.ID, m.MissionName, m.AircraftType, m.StartTime)
	}
	return nil
}

func importRecording(ctx context.Context, cfg config.Config, opts options, out io.Writer, log logging.Logger) error {
	var (
		store *datasource.SQLStore
		err   error
	)
	switch cfg.Source {
	case config.SourceSQLite:
		store, err = datasource.OpenSQLite(ctx, cfg.DSN, log)
	case config.SourcePostgres:
		store, err = datasource.OpenPostgres(ctx, cfg.DSN, log)
	default:
		return fmt.Errorf("-import needs a sqlite or postgres source, got %q", cfg.Source)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := acmi.ParseFile(opts.importTo, parseOptions(opts)...)
	if err != nil {
		return err
	}
	res, err := store.ImportRecording(ctx, rec, filepath.Base(opts.importTo))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %s as sortie %s (%d samples, job %s)\n",
		filepath.Base(opts.importTo), res.SortieID, res.Samples, res.JobID)
	return nil
}

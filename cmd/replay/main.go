// Command replay runs a number of simulated days headless and prints a report.
// Runs are deterministic: the same seed and catalog always print the same numbers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/config"
	"github.com/talgya/statecraft/internal/engine"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/logger"
	"github.com/talgya/statecraft/internal/persistence"
	"github.com/talgya/statecraft/internal/world"
)

// Result is the outcome of a replay.
type Result struct {
	Start  engine.Report  `json:"start"`
	End    engine.Report  `json:"end"`
	Days   int            `json:"days"`
	Counts map[string]int `json:"event_counts"`
	Lines  []string       `json:"events,omitempty"`
}

func main() {
	var (
		days     int
		seed     int64
		nations  int
		fromDB   bool
		jsonOut  bool
		verbose  bool
		progress int
	)
	flag.IntVar(&days, "days", 360, "Number of days to simulate")
	flag.Int64Var(&seed, "seed", 0, "World seed (0 = SEED env or random)")
	flag.IntVar(&nations, "nations", 0, "AI nations to generate (0 = config default)")
	flag.BoolVar(&fromDB, "from-db", false, "Start from the latest snapshot in DB_DSN")
	flag.BoolVar(&jsonOut, "json", false, "Output the result as JSON")
	flag.BoolVar(&verbose, "v", false, "Include every event line in the output")
	flag.IntVar(&progress, "progress", 0, "Log a progress line every N days")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.InitWith(cfg.LogLevel, cfg.LogFile)

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("catalog load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("interrupted, finishing current day")
		cancel()
	}()

	var st world.State
	if fromDB {
		db, err := persistence.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database open failed")
		}
		st, err = db.LatestSnapshot(ctx)
		db.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load snapshot")
		}
		world.Normalize(&st, cat)
	} else {
		gen := world.GenConfig{Seed: cfg.Seed, Nations: cfg.Sim.Nations, Epoch: cfg.Sim.Epoch}
		if seed != 0 {
			gen.Seed = seed
		}
		if nations > 0 {
			gen.Nations = nations
		}
		st = world.Generate(gen, cat)
	}

	p := engine.NewPipeline(cat, engine.Options{Trade: cfg.Sim.Trade, Disabled: cfg.Sim.DisabledStages})
	res, _ := Replay(ctx, p, st, days, verbose, func(s world.State) {
		if progress > 0 && s.Day%progress == 0 {
			r := engine.Summarize(&s)
			log.Info().
				Str("date", engine.Calendar(s.Day)).
				Str("treasury", humanize.CommafWithDigits(r.Treasury, 2)).
				Int("wars", r.Wars).
				Msg("progress")
		}
	})

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatal().Err(err).Msg("encode result")
		}
		return
	}
	Print(os.Stdout, st.Seed, res)
}

// Replay advances st by up to days days. It stops early when ctx is done,
// dropping the interrupted day, and returns the result along with the final
// snapshot.
func Replay(ctx context.Context, p *engine.Pipeline, st world.State, days int, keepLines bool, each func(world.State)) (Result, world.State) {
	res := Result{Start: engine.Summarize(&st), Counts: make(map[string]int)}
	for i := 0; i < days; i++ {
		next, evs := p.Tick(ctx, st, nil)
		if ctx.Err() != nil {
			break
		}
		st = next
		res.Days++
		for _, e := range evs {
			res.Counts[e.Tag()]++
		}
		if keepLines {
			res.Lines = append(res.Lines, events.Lines(evs)...)
		}
		if each != nil {
			each(st)
		}
	}
	res.End = engine.Summarize(&st)
	return res, st
}

// Print writes a human-readable report.
func Print(w io.Writer, seed int64, res Result) {
	fmt.Fprintf(w, "Replay of seed %d: %d days, %s to %s\n\n", seed, res.Days,
		engine.Calendar(res.Start.Day), engine.Calendar(res.End.Day))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tstart\tend")
	fmt.Fprintf(tw, "population\t%s\t%s\n", humanize.Comma(int64(res.Start.Population)), humanize.Comma(int64(res.End.Population)))
	fmt.Fprintf(tw, "treasury\t%s\t%s\n", humanize.CommafWithDigits(res.Start.Treasury, 2), humanize.CommafWithDigits(res.End.Treasury, 2))
	fmt.Fprintf(tw, "private wealth\t%s\t%s\n", humanize.CommafWithDigits(res.Start.PrivateWealth, 2), humanize.CommafWithDigits(res.End.PrivateWealth, 2))
	fmt.Fprintf(tw, "stability\t%.1f\t%.1f\n", res.Start.Stability, res.End.Stability)
	fmt.Fprintf(tw, "approval\t%.1f\t%.1f\n", res.Start.Approval, res.End.Approval)
	fmt.Fprintf(tw, "nations\t%d\t%d\n", res.Start.Nations, res.End.Nations)
	fmt.Fprintf(tw, "wars\t%d\t%d\n", res.Start.Wars, res.End.Wars)
	tw.Flush()

	fmt.Fprintln(w, "\nPrices")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, key := range slices.Sorted(maps.Keys(res.End.Prices)) {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\n", key, res.Start.Prices[key], res.End.Prices[key])
	}
	tw.Flush()

	fmt.Fprintln(w, "\nEvents")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, tag := range slices.Sorted(maps.Keys(res.Counts)) {
		fmt.Fprintf(tw, "%s\t%s\n", tag, humanize.Comma(int64(res.Counts[tag])))
	}
	tw.Flush()

	for _, line := range res.Lines {
		fmt.Fprintln(w, line)
	}
}

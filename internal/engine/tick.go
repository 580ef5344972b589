// Package engine runs the daily tick: a fixed pipeline of stages that takes
// one immutable snapshot to the next, and a real-time loop that drives it.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/world"
)

// Calendar constants.
const (
	DaysPerSeason = 90
	DaysPerYear   = 4 * DaysPerSeason
)

// Engine drives a Pipeline forward one simulated day per interval.
type Engine struct {
	Pipeline *Pipeline
	Interval time.Duration // Base interval per day at speed 1

	// Source overrides the per-day seeded source when set (tests, crypto play).
	Source entropy.Source

	// OnDay is called after every day with the new snapshot and its events.
	OnDay func(s world.State, evs []events.Event)

	mu      sync.RWMutex
	state   world.State
	speed   float64
	running bool
	cancel  context.CancelFunc
}

// NewEngine creates an engine at speed 1 starting from s.
func NewEngine(p *Pipeline, s world.State) *Engine {
	return &Engine{
		Pipeline: p,
		Interval: time.Second,
		state:    s,
		speed:    1.0,
	}
}

// Run advances the simulation until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.running = true
	e.cancel = cancel
	day, speed := e.state.Day, e.speed
	e.mu.Unlock()

	log.Info().Int("day", day).Float64("speed", speed).Msg("simulation engine started")

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		day := e.state.Day
		e.mu.Unlock()
		cancel()
		log.Info().Int("day", day).Msg("simulation engine stopped")
	}()

	for {
		speed := e.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			if !sleep(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		start := time.Now()
		e.Step(ctx)

		// Sleep for the remainder of the interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target && !sleep(ctx, target-elapsed) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stop halts a running loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Step advances the simulation by exactly one day and returns the result.
// A day whose context is cancelled before it finishes is discarded: the
// snapshot stays where it was and OnDay is not called.
func (e *Engine) Step(ctx context.Context) (world.State, []events.Event) {
	e.mu.Lock()
	next, evs := e.Pipeline.Tick(ctx, e.state, e.Source)
	if err := ctx.Err(); err != nil {
		cur := e.state.Clone()
		e.mu.Unlock()
		log.Debug().Err(err).Int("day", next.Day).Msg("tick cancelled, day discarded")
		return cur, nil
	}
	e.state = next
	onDay := e.OnDay
	e.mu.Unlock()

	report(next, evs)
	if onDay != nil {
		onDay(next.Clone(), evs)
	}
	return next.Clone(), evs
}

// State returns a copy of the current snapshot.
func (e *Engine) State() world.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Apply replaces the snapshot with fn's result. No tick runs while fn does.
// On error the snapshot is left unchanged.
func (e *Engine) Apply(fn func(world.State) (world.State, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := fn(e.state.Clone())
	if err != nil {
		return err
	}
	e.state = next
	return nil
}

// Speed returns the current speed multiplier; 0 means paused.
func (e *Engine) Speed() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Negative values pause.
func (e *Engine) SetSpeed(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = max(0, v)
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func report(s world.State, evs []events.Event) {
	r := Summarize(&s)
	log.Info().
		Str("date", Calendar(r.Day)).
		Str("population", humanize.Comma(int64(r.Population))).
		Str("treasury", humanize.CommafWithDigits(r.Treasury, 2)).
		Str("private_wealth", humanize.CommafWithDigits(r.PrivateWealth, 2)).
		Float64("stability", r.Stability).
		Int("wars", r.Wars).
		Int("nations", r.Nations).
		Int("events", len(evs)).
		Msg("daily report")
}

// Calendar renders a simulation day as a season date.
func Calendar(day int) string {
	if day < 0 {
		day = 0
	}
	seasonNames := [4]string{"Spring", "Summer", "Autumn", "Winter"}
	season := (day / DaysPerSeason) % 4
	year := day/DaysPerYear + 1
	return fmt.Sprintf("%s Day %d, Year %d", seasonNames[season], day%DaysPerSeason+1, year)
}

// Package dispatch is the single entry point for player actions against AI
// nations. Every action runs on a copy of the snapshot; on error the caller
// keeps its original state.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog/log"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/trade"
	"github.com/talgya/statecraft/internal/world"
)

// Sentinel errors.
var (
	ErrUnknownAction     = errors.New("unknown action")
	ErrUnknownNation     = errors.New("unknown nation")
	ErrNationAnnexed     = errors.New("nation has been annexed")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAtWar             = errors.New("at war with this nation")
)

// MaxTypoDistance is the largest edit distance at which a misspelled action
// name still resolves.
const MaxTypoDistance = 2

// Action names.
const (
	Negotiate  = "negotiate"
	DeclareWar = "declare_war"
	Provoke    = "provoke"
	TradeRoute = "trade_route"
	Investment = "investment"
	Peace      = "peace"
	Attack     = "attack"
)

// call is everything one action handler sees.
type call struct {
	cat     *catalog.Catalog
	s       *world.State
	l       *ledger.Ledger
	nation  *world.Nation
	payload json.RawMessage
	rng     entropy.Source
}

type handler func(c *call) ([]events.Event, error)

// Dispatcher routes actions to their handlers.
type Dispatcher struct {
	cat      *catalog.Catalog
	handlers map[string]handler

	// Source overrides the per-day action source when set.
	Source entropy.Source
}

// New creates a Dispatcher over cat.
func New(cat *catalog.Catalog) *Dispatcher {
	return &Dispatcher{
		cat: cat,
		handlers: map[string]handler{
			Negotiate:  negotiate,
			DeclareWar: declareWar,
			Provoke:    provoke,
			TradeRoute: tradeRoute,
			Investment: invest,
			Peace:      peace,
			Attack:     attack,
		},
	}
}

// Actions returns the known action names, sorted.
func (d *Dispatcher) Actions() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps an action name to a known action, tolerating small typos.
// Ties between equally close names resolve to neither.
func (d *Dispatcher) Resolve(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	if _, ok := d.handlers[name]; ok {
		return name, nil
	}
	best, bestDist, tie := "", MaxTypoDistance+1, false
	for _, cand := range d.Actions() {
		dist := levenshtein.ComputeDistance(name, cand)
		switch {
		case dist < bestDist:
			best, bestDist, tie = cand, dist, false
		case dist == bestDist:
			tie = true
		}
	}
	if best == "" || tie {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return best, nil
}

// Do applies one action by the player toward nationID and returns the new
// snapshot and its events. state is not modified.
func (d *Dispatcher) Do(ctx context.Context, state world.State, nationID, actionType string, payload json.RawMessage) (world.State, []events.Event, error) {
	if err := ctx.Err(); err != nil {
		return state, nil, err
	}
	action, err := d.Resolve(actionType)
	if err != nil {
		return state, nil, err
	}

	s := state.Clone()
	world.Normalize(&s, d.cat)
	n := s.Nation(nationID)
	switch {
	case n == nil:
		return state, nil, fmt.Errorf("%w: %q", ErrUnknownNation, nationID)
	case n.Annexed:
		return state, nil, fmt.Errorf("%w: %s", ErrNationAnnexed, n.Name)
	}

	c := &call{
		cat:     d.cat,
		s:       &s,
		l:       s.Ledger(),
		nation:  n,
		payload: payload,
		rng:     d.source(&s, nationID, action),
	}
	evs, err := d.handlers[action](c)
	if err != nil {
		log.Info().Err(err).Str("action", action).Str("nation", nationID).Msg("action rejected")
		return state, nil, fmt.Errorf("%s %s: %w", action, nationID, err)
	}
	log.Info().Str("action", action).Str("nation", nationID).Int("events", len(evs)).Msg("action applied")
	return s, evs, nil
}

// source returns the roll source for one action: fixed per seed, day,
// nation and action, so retrying the same action the same day rolls the
// same dice.
func (d *Dispatcher) source(s *world.State, nationID, action string) entropy.Source {
	if d.Source != nil {
		return d.Source
	}
	h := fnv.New64a()
	h.Write([]byte(nationID))
	h.Write([]byte{0})
	h.Write([]byte(action))
	return entropy.ForDay(s.Seed^int64(h.Sum64()), s.Day)
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}

// SetMerchantAssignment assigns count merchants to trade with nationID.
// Zero removes the assignment. The total across partners may not exceed
// the merchant population.
func SetMerchantAssignment(state world.State, nationID string, count int) (world.State, error) {
	s := state.Clone()
	if s.Assignments == nil {
		s.Assignments = make(map[string]int)
	}
	n := s.Nation(nationID)
	switch {
	case n == nil:
		return state, fmt.Errorf("%w: %q", ErrUnknownNation, nationID)
	case n.Annexed:
		return state, fmt.Errorf("%w: %s", ErrNationAnnexed, n.Name)
	case count < 0:
		return state, fmt.Errorf("%w: negative merchant count %d", ErrInvalidPayload, count)
	case count > 0 && n.AtWarWith(world.PlayerID):
		return state, fmt.Errorf("%w: %s", ErrAtWar, n.Name)
	}
	if count == 0 {
		delete(s.Assignments, nationID)
		return s, nil
	}

	total := count
	for id, c := range s.Assignments {
		if id != nationID {
			total += c
		}
	}
	if merchants := s.Player.Strata[trade.Merchant].Count; total > merchants {
		return state, fmt.Errorf("%w: %d merchants assigned, only %d exist", ErrInvalidPayload, total, merchants)
	}
	s.Assignments[nationID] = count
	return s, nil
}

// SetTradePreference sets the player's trade preference multiplier for a
// tradable resource, clamped to [0, world.MaxPref]. 1 is neutral.
func SetTradePreference(cat *catalog.Catalog, state world.State, resource string, mult float64) (world.State, error) {
	if !cat.Tradable(resource) {
		return state, fmt.Errorf("%w: %q is not tradable", ErrInvalidPayload, resource)
	}
	s := state.Clone()
	if s.Preferences == nil {
		s.Preferences = make(map[string]float64)
	}
	switch {
	case mult != mult:
		return state, fmt.Errorf("%w: preference is NaN", ErrInvalidPayload)
	case mult < 0:
		mult = 0
	case mult > world.MaxPref:
		mult = world.MaxPref
	}
	if mult == 1 {
		delete(s.Preferences, resource)
	} else {
		s.Preferences[resource] = mult
	}
	return s, nil
}

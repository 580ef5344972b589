// Package economy provides goods-market pricing for the player realm and
// the inventory-driven markets of AI nations.
package economy

import (
	"math"
	"sort"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Pricing tunables.
const (
	PriceFloor          = 0.0001
	Smoothing           = 0.1
	InventoryTargetDays = 1.5
	InventoryImpact     = 0.25
	MinMultiplier       = 0.5
	MaxMultiplier       = 3.5
	MultiplierReversion = 0.02
	CostMargin          = 1.1
)

// PriceInput is everything a pricing pass reads besides the market itself.
type PriceInput struct {
	Stock       map[string]float64 // player inventory
	Supply      map[string]float64 // produced or imported this tick
	Demand      map[string]float64 // consumed or wanted this tick
	Buildings   map[string]int
	Wages       map[string]float64
	ResourceTax map[string]float64
}

// UpdatePrices returns the next market for every tradable resource.
// The previous market is not modified.
func UpdatePrices(cat *catalog.Catalog, market map[string]world.MarketEntry, in PriceInput) map[string]world.MarketEntry {
	next := make(map[string]world.MarketEntry, len(market))
	for k, v := range market {
		next[k] = v
	}
	prices := make(map[string]float64, len(market))
	for k, v := range market {
		prices[k] = v.Price
	}

	for _, key := range cat.TradableKeys() {
		prev := market[key]
		base := cat.BasePrice(key)
		if prev.Price <= 0 {
			prev.Price = base
		}
		if prev.Multiplier <= 0 {
			prev.Multiplier = 1
		}

		floor, produced := CostFloor(cat, key, in.Buildings, prices, in.Wages, in.ResourceTax)
		minPrice := base
		if produced {
			minPrice = math.Max(floor*CostMargin, base)
		}

		// Stock pressure compounds; absent pressure the multiplier relaxes to 1.
		mult := prev.Multiplier * InventoryFactor(in.Stock[key], in.Demand[key])
		mult = mathx.Clamp(mathx.Approach(mult, 1, MultiplierReversion), MinMultiplier, MaxMultiplier)
		target := minPrice * mult
		price := math.Max(PriceFloor, mathx.Approach(prev.Price, target, Smoothing))

		next[key] = world.MarketEntry{
			Price:      mathx.Finite(price, prev.Price),
			Supply:     in.Supply[key],
			Demand:     in.Demand[key],
			CostFloor:  floor,
			Multiplier: mult,
		}
	}
	return next
}

// InventoryFactor is the per-tick multiplier drift from stock cover. Below
// the target number of days of demand it rises (up to 1+impact at zero
// stock); above it falls (approaching 1-impact). It is strictly decreasing
// in stock whenever demand is positive.
func InventoryFactor(stock, demand float64) float64 {
	if demand <= 0 {
		return 1
	}
	ratio := math.Max(0, stock) / demand / InventoryTargetDays
	if ratio < 1 {
		return 1 + InventoryImpact*(1-ratio)
	}
	return 1 - InventoryImpact*(ratio-1)/ratio
}

// CostFloor returns the lowest unit production cost for resource among the
// owned buildings that produce it, and whether any does. Owner-operated
// buildings carry no wage cost.
func CostFloor(cat *catalog.Catalog, resource string, buildings map[string]int, prices, wages, tax map[string]float64) (float64, bool) {
	best, found := 0.0, false
	for _, bk := range cat.Producers(resource) {
		if buildings[bk] <= 0 {
			continue
		}
		b := cat.Buildings[bk]
		out := b.Outputs[resource]
		if out <= 0 {
			continue
		}
		input := 0.0
		for _, ik := range sortedKeys(b.Inputs) {
			price := prices[ik]
			if price <= 0 {
				price = cat.BasePrice(ik)
			}
			input += b.Inputs[ik] * price * (1 + tax[ik])
		}
		labor := 0.0
		if _, selfOwned := b.Jobs[b.Owner]; !selfOwned || b.Owner == "" {
			for _, role := range sortedKeys(b.Jobs) {
				labor += float64(b.Jobs[role]) * wages[role]
			}
		}
		cost := (input + labor) / out
		if !found || cost < best {
			best, found = cost, true
		}
	}
	return mathx.NonNeg(best), found
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

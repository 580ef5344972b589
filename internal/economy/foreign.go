package economy

import (
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Foreign market tunables.
const (
	DefaultVolatility = 0.3
	ConvergenceRate   = 0.05
	ConvergenceGap    = 0.10
)

// TargetInventory is a nation's baseline stock for resource, before drift.
func TargetInventory(n *world.Nation, resource string) float64 {
	bias := bias(n, resource)
	base := math.Round(500 * math.Pow(bias, 1.2))
	wealth := mathx.Clamp(n.Wealth/1000, 0.8, 1.5)
	return base * wealth * (1 + float64(n.Epoch)*0.2)
}

// ForeignPrice is what nation n charges or pays for resource. Scarcity in
// its stock raises the price, surplus lowers it, and each war adds 15%.
func ForeignPrice(cat *catalog.Catalog, resource string, n *world.Nation) float64 {
	base := cat.BasePrice(resource)
	if n == nil {
		return base
	}
	target := TargetInventory(n, resource)
	ratio := 1.0
	if target > 0 {
		ratio = n.Inventory[resource] / target
	}
	shortage := 1 + math.Min(2.5, math.Max(0, 1-ratio)*0.9)
	surplus := 1 - math.Min(0.95, math.Max(0, ratio-1)*0.6)
	biasFactor := 1 + (mathx.Clamp(bias(n, resource), 0.6, 1.6)-1)*0.25

	war := 1.0
	if w := n.ActiveWars(); w > 0 {
		war = 1 + math.Min(0.75, float64(w)*0.15)
	}

	price := base * biasFactor * shortage * surplus * war
	price = mathx.Clamp(price, base*0.25, base*4)
	return math.Round(price*100) / 100
}

// TradeStatus is a nation's current appetite for one resource.
type TradeStatus struct {
	Target         float64
	ShortageAmount float64
	SurplusAmount  float64
	Shortage       bool
	Surplus        bool
}

// Status computes the trade status of resource for n on day. The target
// drifts sinusoidally so markets open and close over time.
func Status(resource string, n *world.Nation, day int) TradeStatus {
	b := bias(n, resource)
	target := TargetInventory(n, resource) * (1 + math.Sin(float64(day)*0.015+float64(keyOffset(resource)))*DefaultVolatility)

	shortMul, surplusMul := 0.9, 1.1
	switch {
	case b > 1:
		shortMul, surplusMul = 0.5, 0.7
	case b < 1:
		shortMul, surplusMul = 1.2, 1.5
	}
	stock := n.Inventory[resource]
	short := math.Max(0, target*shortMul-stock)
	plus := math.Max(0, stock-target*surplusMul)
	return TradeStatus{
		Target:         target,
		ShortageAmount: short,
		SurplusAmount:  plus,
		Shortage:       short > 0,
		Surplus:        plus > 0,
	}
}

// ConvergePrices pulls the player's prices toward each bloc partner's
// foreign price where they differ by more than 10%.
func ConvergePrices(cat *catalog.Catalog, market map[string]world.MarketEntry, partners []*world.Nation) {
	if len(partners) == 0 {
		return
	}
	for _, key := range cat.TradableKeys() {
		m := market[key]
		if m.Price <= 0 {
			continue
		}
		sum := 0.0
		for _, n := range partners {
			sum += ForeignPrice(cat, key, n)
		}
		avg := sum / float64(len(partners))
		if math.Abs(avg-m.Price)/m.Price <= ConvergenceGap {
			continue
		}
		m.Price = math.Max(PriceFloor, mathx.Approach(m.Price, avg, ConvergenceRate))
		market[key] = m
	}
}

func bias(n *world.Nation, resource string) float64 {
	if b, ok := n.Traits.ResourceBias[resource]; ok && b > 0 {
		return b
	}
	return 1
}

func keyOffset(key string) int {
	sum := 0
	for _, r := range key {
		sum += int(r)
	}
	return sum
}

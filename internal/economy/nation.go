package economy

import (
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// UpdateAIInventory drifts an AI nation's stock toward its target with
// production favouring its specialities, heavier consumption at war, a
// small random shock, and budget recovery toward half its wealth.
func UpdateAIInventory(cat *catalog.Catalog, n *world.Nation, rng entropy.Source) {
	if n.Annexed {
		return
	}
	if n.Inventory == nil {
		n.Inventory = make(map[string]float64)
	}
	war := 1.0
	if n.ActiveWars() > 0 {
		war = 1.3 + n.Aggression*0.5
	}
	e := float64(n.Epoch)
	epoch := 1 + e*0.5 + math.Pow(e, 1.3)*0.1
	wealth := mathx.Clamp(n.Wealth/1000, 0.8, 2)

	for _, key := range cat.TradableKeys() {
		b := bias(n, key)
		stock := n.Inventory[key]
		target := math.Round(math.Round(500*math.Pow(b, 1.2)) * epoch * wealth)

		prod := 3 * epoch * wealth * b
		cons := 3 * epoch * wealth * war * math.Pow(1/b, 0.6)
		ratio := stock / target
		switch {
		case ratio > 1.5:
			prod *= 0.5
			cons *= 1.15
		case ratio > 1.1:
			prod *= 0.8
			cons *= 1.05
		case ratio < 0.5:
			prod *= 1.5
			cons *= 0.85
		case ratio < 0.9:
			prod *= 1.2
			cons *= 0.95
		}
		correction := (target - stock) * 0.01
		shock := (rng.Float64() - 0.5) * target * 0.1
		next := stock + prod - cons + correction + shock
		n.Inventory[key] = mathx.Clamp(mathx.Finite(next, stock), target*0.2, target*3)
	}

	n.Budget = math.Max(0, mathx.Approach(n.Budget, n.Wealth*0.5, 0.02))
}

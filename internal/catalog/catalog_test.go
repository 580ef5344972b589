package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c := Default()
	if len(c.Resources) == 0 || len(c.Strata) == 0 || len(c.Buildings) == 0 {
		t.Fatal("default catalog is empty")
	}
	if len(c.Treaties) != 10 {
		t.Errorf("treaty types = %d, want 10", len(c.Treaties))
	}
	if got := c.Tier("official"); got != 3 {
		t.Errorf("official tier = %d, want 3", got)
	}
	if c.Tradable("culture") {
		t.Error("culture should not be tradable")
	}
	if c.PriorityIndex("official") != 0 {
		t.Errorf("official should be first in role priority")
	}
	if c.PriorityIndex("nobody") != len(c.RolePriority) {
		t.Errorf("unknown role should sort last")
	}
	if u := c.Units["militia"]; u.ObsoleteAfter != 2 {
		t.Errorf("militia obsolete_after = %d, want default 2", u.ObsoleteAfter)
	}
}

func TestTradableKeysSorted(t *testing.T) {
	keys := Default().TradableKeys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("tradable keys not sorted: %v", keys)
		}
	}
}

func TestProducers(t *testing.T) {
	got := Default().Producers("food")
	if len(got) != 2 || got[0] != "farm" || got[1] != "manor" {
		t.Errorf("Producers(food) = %v, want [farm manor]", got)
	}
	if p := Default().Producers("spice"); len(p) != 0 {
		t.Errorf("spice should have no producers, got %v", p)
	}
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	doc := "resources:\n  - {key: food, name: Grain, base_price: 2.5, tradable: true}\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.BasePrice("food"); got != 2.5 {
		t.Errorf("overridden food price = %v, want 2.5", got)
	}
	if _, ok := c.Resources["wood"]; !ok {
		t.Error("overlay dropped default resources")
	}
}

func TestParseRejectsUnknownJobRole(t *testing.T) {
	doc := `
resources:
  - {key: food, base_price: 1, tradable: true}
buildings:
  - {key: farm, outputs: {food: 1}, jobs: {ghost: 1}}
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected error for unknown job role")
	}
}

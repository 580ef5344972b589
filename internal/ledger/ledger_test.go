package ledger

import (
	"math"
	"testing"
)

type book struct {
	treasury float64
	strata   map[string]float64
}

func (b *book) Balance(e Entity) (float64, bool) {
	if e.IsTreasury() {
		return b.treasury, true
	}
	if k, ok := e.StratumKey(); ok {
		v, exists := b.strata[k]
		return v, exists
	}
	return 0, false
}

func (b *book) SetBalance(e Entity, v float64) {
	if e.IsTreasury() {
		b.treasury = v
		return
	}
	if k, ok := e.StratumKey(); ok {
		b.strata[k] = v
	}
}

func newBook() *book {
	return &book{treasury: 100, strata: map[string]float64{"peasant": 0, "merchant": 40}}
}

func TestHeadTaxScenario(t *testing.T) {
	b := newBook()
	stats := NewStats()
	l := New(b, &stats, 1)

	l.Transfer(Void, Stratum("peasant"), 500, CategoryIncome, Wage, nil)
	before := b.treasury
	moved := l.Transfer(Stratum("peasant"), Treasury, 50, CategoryTax, HeadTax, nil)

	if moved != 50 {
		t.Fatalf("moved = %v, want 50", moved)
	}
	if b.strata["peasant"] != 450 {
		t.Errorf("peasant wealth = %v, want 450", b.strata["peasant"])
	}
	if b.treasury-before != 50 {
		t.Errorf("treasury delta = %v, want 50", b.treasury-before)
	}
	if got := stats.Tax("headTax"); got != 50 {
		t.Errorf("headTax breakdown = %v, want 50", got)
	}
	if got := stats.IncomeOf("peasant", Wage); got != 500 {
		t.Errorf("peasant wage income = %v, want 500", got)
	}
}

func TestTransferConservesBetweenNonVoid(t *testing.T) {
	amounts := []float64{0.5, 10, 39.99, 40, 41, 1e6}
	for _, amt := range amounts {
		b := newBook()
		l := New(b, nil, 0)
		srcBefore, dstBefore := b.strata["merchant"], b.treasury
		l.Transfer(Stratum("merchant"), Treasury, amt, CategoryTax, BusinessTax, nil)
		dec := srcBefore - b.strata["merchant"]
		inc := b.treasury - dstBefore
		if math.Abs(dec-inc) > 1e-9 {
			t.Errorf("amount %v: source lost %v, destination gained %v", amt, dec, inc)
		}
		if b.strata["merchant"] < 0 || b.treasury < 0 {
			t.Errorf("amount %v: negative balance", amt)
		}
	}
}

func TestNoOpAmounts(t *testing.T) {
	for _, amt := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		b := newBook()
		l := New(b, nil, 0)
		if moved := l.Transfer(Treasury, Stratum("peasant"), amt, CategoryIncome, Subsidy, nil); moved != 0 {
			t.Errorf("amount %v moved %v, want 0", amt, moved)
		}
		if b.treasury != 100 {
			t.Errorf("amount %v changed treasury to %v", amt, b.treasury)
		}
	}
}

func TestUnknownStratumIsVoid(t *testing.T) {
	b := newBook()
	l := New(b, nil, 0)
	moved := l.Transfer(Treasury, Stratum("ghost"), 30, CategoryIncome, Subsidy, nil)
	if moved != 30 {
		t.Fatalf("moved = %v, want 30 (paid out to void)", moved)
	}
	if b.treasury != 70 {
		t.Errorf("treasury = %v, want 70", b.treasury)
	}
	if _, ok := b.strata["ghost"]; ok {
		t.Error("unknown stratum was created")
	}
}

func TestSubsidyBreakdownAndPay(t *testing.T) {
	b := newBook()
	stats := NewStats()
	l := New(b, &stats, 0)
	if ok := l.Pay(Treasury, Stratum("peasant"), 150, CategoryIncome, Subsidy, nil); ok {
		t.Error("Pay should refuse when treasury cannot cover the amount")
	}
	if b.treasury != 100 {
		t.Errorf("refused Pay moved money: treasury %v", b.treasury)
	}
	l.Transfer(Treasury, Stratum("peasant"), 20, CategoryIncome, Subsidy, nil)
	if got := stats.Tax("subsidy"); got != 20 {
		t.Errorf("subsidy breakdown = %v, want 20", got)
	}
}

func TestChangeLogBounded(t *testing.T) {
	b := newBook()
	stats := NewStats()
	l := New(b, &stats, 0)
	for i := 0; i < maxChanges+10; i++ {
		l.Transfer(Void, Stratum("peasant"), 1, CategoryIncome, Wage, nil)
	}
	if n := len(stats.Changes["peasant"]); n != maxChanges {
		t.Errorf("change log length = %d, want %d", n, maxChanges)
	}
	last := stats.Changes["peasant"][maxChanges-1]
	if last.Balance != float64(maxChanges+10) {
		t.Errorf("last logged balance = %v", last.Balance)
	}
}

func TestStatsCloneIsIndependent(t *testing.T) {
	b := newBook()
	stats := NewStats()
	l := New(b, &stats, 0)
	l.Transfer(Void, Treasury, 5, CategoryIncome, Tribute, nil)
	cp := stats.Clone()
	l.Transfer(Void, Treasury, 5, CategoryIncome, Tribute, nil)
	if cp.TotalIncome("state") != 5 {
		t.Errorf("clone mutated: %v", cp.TotalIncome("state"))
	}
	if stats.TotalIncome("state") != 10 {
		t.Errorf("original total = %v, want 10", stats.TotalIncome("state"))
	}
}

package models

import "time"

// Holding represents a single stock position within a portfolio.
// Holdings are immutable once synced for a scan cycle.
type Holding struct {
	Symbol        string
	Quantity      float64
	PurchasePrice float64
	PurchaseDate  time.Time
}

// CostBasis returns the total purchase cost of the holding.
func (h Holding) CostBasis() float64 {
	return h.Quantity * h.PurchasePrice
}

// Portfolio represents one owner's synced holdings. A portfolio is
// replaced wholesale on each resync; individual holdings are never
// mutated in place.
type Portfolio struct {
	OwnerID  string
	Name     string
	Holdings []Holding
	SyncedAt time.Time
}

// Holding returns the holding for symbol, or false if the portfolio
// does not contain it.
func (p *Portfolio) Holding(symbol string) (Holding, bool) {
	for _, h := range p.Holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}

// Symbols returns the portfolio's symbols in holding order.
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		out = append(out, h.Symbol)
	}
	return out
}

// Weight returns the fraction of the portfolio's total cost basis held
// in symbol, in [0, 1]. Returns 0 for symbols not in the portfolio or
// when the portfolio is empty.
func (p *Portfolio) Weight(symbol string) float64 {
	var total, part float64
	for _, h := range p.Holdings {
		cb := h.CostBasis()
		total += cb
		if h.Symbol == symbol {
			part += cb
		}
	}
	if total <= 0 {
		return 0
	}
	return part / total
}

package costing

import (
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/shopspring/decimal"
)

// Draw is the quantity taken from one lot.
type Draw struct {
	LotID    int64           `json:"lot_id"`
	Quantity int64           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Consumption is the FIFO plan for one requested quantity.
type Consumption struct {
	Requested int64           `json:"requested"`
	Consumed  int64           `json:"consumed"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Draws     []Draw          `json:"draws,omitempty"`
}

// AverageCost is TotalCost spread over the requested quantity. ok is false
// when nothing could be drawn (no purchase history).
func (c Consumption) AverageCost() (avg decimal.Decimal, ok bool) {
	if c.Consumed == 0 || c.Requested <= 0 {
		return decimal.Zero, false
	}
	return c.TotalCost.Div(decimal.NewFromInt(c.Requested)), true
}

// PlanConsumption walks lots in the given order (oldest first) and draws
// min(remaining, stillNeeded) from each. lots are not modified.
func PlanConsumption(lots []*models.CostLot, qty int64) Consumption {
	c := Consumption{Requested: qty, TotalCost: decimal.Zero}
	need := qty
	for _, l := range lots {
		if need <= 0 {
			break
		}
		if l.RemainingQuantity <= 0 {
			continue
		}
		take := min(l.RemainingQuantity, need)
		c.Draws = append(c.Draws, Draw{LotID: l.ID, Quantity: take, UnitCost: l.UnitCost})
		c.TotalCost = c.TotalCost.Add(l.UnitCost.Mul(decimal.NewFromInt(take)))
		c.Consumed += take
		need -= take
	}
	return c
}

// Ledger holds working copies of open lots per product for one batch, so
// several lines of the same product draw from what earlier lines left.
type Ledger struct {
	lots map[int64][]*models.CostLot
}

func NewLedger() *Ledger {
	return &Ledger{lots: map[int64][]*models.CostLot{}}
}

func (l *Ledger) Loaded(productID int64) bool {
	_, ok := l.lots[productID]
	return ok
}

// Load copies lots, which must already be sorted oldest first.
func (l *Ledger) Load(productID int64, lots []*models.CostLot) {
	cp := make([]*models.CostLot, 0, len(lots))
	for _, lot := range lots {
		c := *lot
		cp = append(cp, &c)
	}
	l.lots[productID] = cp
}

// Consume plans qty against the working copies and applies the plan to them.
func (l *Ledger) Consume(productID int64, qty int64) Consumption {
	c := PlanConsumption(l.lots[productID], qty)
	for _, d := range c.Draws {
		for _, lot := range l.lots[productID] {
			if lot.ID == d.LotID {
				lot.RemainingQuantity -= d.Quantity
				break
			}
		}
	}
	return c
}

// Remaining reports the working remaining quantity of every loaded lot of a product.
func (l *Ledger) Remaining(productID int64) []int64 {
	out := make([]int64, 0, len(l.lots[productID]))
	for _, lot := range l.lots[productID] {
		out = append(out, lot.RemainingQuantity)
	}
	return out
}

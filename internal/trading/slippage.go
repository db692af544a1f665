package trading

import (
	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
)

// SlippageModel perturbs the quoted price into an execution price,
// representing market impact. Models must be deterministic so that replaying
// a submission produces the same fill.
type SlippageModel interface {
	// Adjust returns the execution price and the signed slippage applied.
	// Slippage always worsens the taker's side: opening long and closing
	// short pay up, opening short and closing long receive less.
	Adjust(kind model.TradeKind, quoted decimal.Decimal, shares int64) (price, slippage decimal.Decimal)
}

// NoSlippage executes exactly at the quoted price. Used in unit tests.
type NoSlippage struct{}

func (NoSlippage) Adjust(_ model.TradeKind, quoted decimal.Decimal, _ int64) (decimal.Decimal, decimal.Decimal) {
	return quoted, decimal.Zero
}

var bpsDivisor = decimal.NewFromInt(10000)

// LinearImpact scales impact linearly with order size relative to a depth
// parameter: impactBps = Bps × shares / Depth, capped at MaxBps.
type LinearImpact struct {
	Bps    decimal.Decimal // impact in basis points per Depth shares
	Depth  int64           // reference order size
	MaxBps decimal.Decimal // cap on total impact
}

func (m LinearImpact) Adjust(kind model.TradeKind, quoted decimal.Decimal, shares int64) (decimal.Decimal, decimal.Decimal) {
	if m.Depth <= 0 || !m.Bps.IsPositive() {
		return quoted, decimal.Zero
	}

	impact := m.Bps.Mul(decimal.NewFromInt(shares)).Div(decimal.NewFromInt(m.Depth))
	if impact.GreaterThan(m.MaxBps) {
		impact = m.MaxBps
	}

	slip := quoted.Mul(impact).Div(bpsDivisor)
	switch kind {
	case model.KindBuy, model.KindCover:
		// taker pays up
	case model.KindSell, model.KindShort:
		slip = slip.Neg()
	}
	return quoted.Add(slip), slip
}

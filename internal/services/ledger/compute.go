package ledger

import (
	"math"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// UnclassifiedSector collects exposure with no sector tag.
const UnclassifiedSector = "Unclassified"

// DailyPnL is the mark-to-market change of the open positions on the date.
// A position entered on the date is marked from its entry price; otherwise from the
// previous close. Positions without a quote or a reference price contribute nothing.
func DailyPnL(in *PortfolioInputs) (pnl float64, unpriced int) {
	for _, p := range in.Positions {
		if p.PositionType.IsPrivate() {
			continue
		}
		q, ok := in.Quotes[p.PricedSymbol()]
		if !ok {
			unpriced++
			continue
		}
		ref := q.Prev
		if p.EntryDate.Equal(in.Date) || ref <= 0 {
			ref = p.EntryPrice
		}
		if ref <= 0 {
			continue
		}
		pnl += p.SignedExposure(q.Price) - p.SignedExposure(ref)
	}
	return pnl, unpriced
}

// exposure returns a position's signed market exposure and whether it was priced.
// Private holdings use their last marked value, falling back to cost.
func exposure(p *models.Position, in *PortfolioInputs) (float64, bool) {
	if p.PositionType.IsPrivate() {
		price := p.LastPrice
		if price <= 0 {
			price = p.EntryPrice
		}
		return p.SignedExposure(price), true
	}
	q, ok := in.Quotes[p.PricedSymbol()]
	if !ok {
		return 0, false
	}
	return p.SignedExposure(q.Price), true
}

// computeMetrics fills every metric column of snap from the inputs. DailyPnL must
// already be set and the equity rollforward already applied to in.Portfolio.
func computeMetrics(snap *models.PortfolioSnapshot, in *PortfolioInputs) {
	nav := in.Portfolio.EquityBalance

	var long, short float64
	var numLong, numShort, numOptions, numPrivate int
	sectors := models.FloatMap{}
	exposures := make([]float64, 0, len(in.Positions))
	var betaSum float64
	haveBeta := false

	for _, p := range in.Positions {
		switch {
		case p.PositionType.IsPrivate():
			numPrivate++
		case p.PositionType.IsOption():
			numOptions++
		}
		if p.PositionType.IsShort() {
			numShort++
		} else {
			numLong++
		}

		e, ok := exposure(p, in)
		if !ok {
			continue
		}
		if e >= 0 {
			long += e
		} else {
			short += e
		}
		exposures = append(exposures, e)

		sym := p.FactorSymbol()
		sector := in.Sectors[sym]
		if sector == "" {
			sector = p.Sector
		}
		if sector == "" {
			sector = UnclassifiedSector
		}
		sectors[sector] += e

		if b, ok := in.Betas[sym]; ok {
			betaSum += e * b
			haveBeta = true
		}
	}

	gross := long - short
	net := long + short

	snap.EquityBalance = nav
	snap.NetAssetValue = nav
	snap.LongValue = long
	snap.ShortValue = short
	snap.GrossExposure = gross
	snap.NetExposure = net
	snap.CashValue = nav - net
	snap.NumPositions = len(in.Positions)
	snap.NumLong = numLong
	snap.NumShort = numShort
	snap.NumOptions = numOptions
	snap.NumPrivate = numPrivate
	snap.SectorExposure = sectors

	snap.TopPositionWeight, snap.HHI = concentration(exposures, gross)

	snap.MarketBeta = nil
	if haveBeta && nav != 0 {
		b := betaSum / nav
		snap.MarketBeta = &b
	}

	prevNAV := nav - snap.DailyPnL
	prevCumulative := 0.0
	if in.Previous != nil {
		prevNAV = in.Previous.NetAssetValue
		prevCumulative = in.Previous.CumulativePnL
	}
	snap.DailyReturn = 0
	if prevNAV != 0 {
		snap.DailyReturn = snap.DailyPnL / prevNAV
	}
	snap.CumulativePnL = prevCumulative + snap.DailyPnL
}

// concentration returns the largest absolute weight and the Herfindahl index of
// absolute exposure weights.
func concentration(exposures []float64, gross float64) (top, hhi float64) {
	if gross <= 0 {
		return 0, 0
	}
	for _, e := range exposures {
		w := math.Abs(e) / gross
		if w > top {
			top = w
		}
		hhi += w * w
	}
	return top, hhi
}

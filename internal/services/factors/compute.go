package factors

import (
	"time"

	"github.com/bobmcallan/riskbatch/internal/interfaces"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// symbolJob carries everything needed to compute one symbol for one method.
type symbolJob struct {
	symbol       string
	date         time.Time
	from         time.Time // first return date inside the method window
	method       Method
	prices       interfaces.PriceSource
	providerBeta *float64
	ridgeAlpha   float64
	betaCap      float64
	now          time.Time
}

// compute returns the rows for one (symbol, method). An empty result means the
// method omits this symbol.
func (j symbolJob) compute() []*models.SymbolFactorExposure {
	switch j.method.Kind {
	case kindRidge:
		return j.computeRidge()
	case kindSpread:
		return j.computeSpread()
	case kindSingle:
		return j.computeSingle()
	case kindProvider:
		return j.computeProvider()
	}
	return nil
}

func (j symbolJob) row(factor string, beta, r2 float64, obs int, quality string) *models.SymbolFactorExposure {
	return &models.SymbolFactorExposure{
		Symbol:            j.symbol,
		FactorName:        factor,
		CalculationDate:   j.date,
		CalculationMethod: j.method.Name,
		BetaValue:         beta,
		RSquared:          r2,
		ObservationCount:  obs,
		QualityFlag:       quality,
		UpdatedAt:         j.now,
	}
}

// belowGate is the result for a symbol without enough usable history: every factor
// as 0/limited_history for ZeroFill methods, nothing for the rest.
func (j symbolJob) belowGate(obs int) []*models.SymbolFactorExposure {
	if !j.method.ZeroFill {
		return nil
	}
	rows := make([]*models.SymbolFactorExposure, 0, len(j.method.Factors))
	for _, f := range j.method.Factors {
		rows = append(rows, j.row(f.Factor, 0, 0, obs, models.QualityLimitedHistory))
	}
	return rows
}

// aligned returns the symbol's returns and each proxy's returns on common dates,
// trimmed to the most recent Window observations.
func (j symbolJob) aligned() (int, map[string][]float64) {
	symbols := append([]string{j.symbol}, j.method.Symbols()...)
	dates, rets := j.prices.AlignedReturns(symbols, j.from, j.date)
	n := len(dates)
	if w := j.method.Window; w > 0 && n > w {
		for s, r := range rets {
			rets[s] = r[n-w:]
		}
		n = w
	}
	return n, rets
}

func (j symbolJob) computeRidge() []*models.SymbolFactorExposure {
	n, rets := j.aligned()
	if n < j.method.MinObservations {
		return j.belowGate(n)
	}

	xs := make([][]float64, len(j.method.Factors))
	for i, f := range j.method.Factors {
		xs[i] = rets[f.Long]
	}

	betas, r2, err := ridgeFit(xs, rets[j.symbol], j.ridgeAlpha)
	if err != nil {
		return j.belowGate(n)
	}

	rows := make([]*models.SymbolFactorExposure, 0, len(betas))
	for i, f := range j.method.Factors {
		rows = append(rows, j.row(f.Factor, betas[i], r2, n, models.QualityFullHistory))
	}
	return rows
}

func (j symbolJob) computeSpread() []*models.SymbolFactorExposure {
	n, rets := j.aligned()
	if n < j.method.MinObservations {
		return j.belowGate(n)
	}

	y := rets[j.symbol]
	rows := make([]*models.SymbolFactorExposure, 0, len(j.method.Factors))
	for _, f := range j.method.Factors {
		long, short := rets[f.Long], rets[f.Short]
		spread := make([]float64, n)
		for i := range spread {
			spread[i] = long[i] - short[i]
		}
		fit, err := ols(spread, y)
		if err != nil {
			if j.method.ZeroFill {
				rows = append(rows, j.row(f.Factor, 0, 0, n, models.QualityLimitedHistory))
			}
			continue
		}
		r := j.row(f.Factor, fit.Beta, fit.RSquared, n, models.QualityFullHistory)
		r.Significance = significance(fit.TStat)
		rows = append(rows, r)
	}
	return rows
}

func (j symbolJob) computeSingle() []*models.SymbolFactorExposure {
	n, rets := j.aligned()
	if n < j.method.MinObservations {
		return j.belowGate(n)
	}

	f := j.method.Factors[0]
	fit, err := ols(rets[f.Long], rets[j.symbol])
	if err != nil {
		return j.belowGate(n)
	}

	beta := fit.Beta
	if j.method.Capped {
		beta = capBeta(beta, j.betaCap)
	}
	r := j.row(f.Factor, beta, fit.RSquared, n, models.QualityFullHistory)
	r.Significance = significance(fit.TStat)
	return []*models.SymbolFactorExposure{r}
}

func (j symbolJob) computeProvider() []*models.SymbolFactorExposure {
	if j.providerBeta == nil {
		return nil
	}
	return []*models.SymbolFactorExposure{
		j.row(models.FactorProviderBeta, *j.providerBeta, 0, 0, models.QualityFullHistory),
	}
}

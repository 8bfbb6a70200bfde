package factors

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/riskbatch/internal/models"
)

// olsFit is a univariate least-squares fit with intercept.
type olsFit struct {
	Beta     float64
	RSquared float64
	TStat    float64
	N        int
}

// ols regresses y on x. At least three observations and a non-constant x are required.
func ols(x, y []float64) (olsFit, error) {
	n := len(y)
	if len(x) != n {
		return olsFit{}, fmt.Errorf("ols: length mismatch %d vs %d", len(x), n)
	}
	if n < 3 {
		return olsFit{}, models.ErrInsufficientData
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)

	meanX := stat.Mean(x, nil)
	var sxx, sse float64
	for i := range x {
		dx := x[i] - meanX
		sxx += dx * dx
		r := y[i] - (alpha + beta*x[i])
		sse += r * r
	}
	if sxx == 0 || math.IsNaN(beta) {
		return olsFit{}, fmt.Errorf("ols: degenerate regressor: %w", models.ErrInsufficientData)
	}

	r2 := stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(r2) {
		r2 = 0
	}

	t := math.Inf(1)
	if se := math.Sqrt(sse / float64(n-2) / sxx); se > 0 {
		t = beta / se
	}

	return olsFit{Beta: beta, RSquared: r2, TStat: t, N: n}, nil
}

// ridgeFit solves the L2-penalised regression of y on the columns of xs.
// Columns are standardised and y centred, so no intercept is fitted; betas are
// returned in raw units.
func ridgeFit(xs [][]float64, y []float64, alpha float64) ([]float64, float64, error) {
	n, k := len(y), len(xs)
	if k == 0 || n <= k {
		return nil, 0, models.ErrInsufficientData
	}

	sds := make([]float64, k)
	z := mat.NewDense(n, k, nil)
	for j, col := range xs {
		if len(col) != n {
			return nil, 0, fmt.Errorf("ridge: column %d has %d rows, want %d", j, len(col), n)
		}
		mean, sd := stat.MeanStdDev(col, nil)
		sds[j] = sd
		for i, v := range col {
			if sd > 0 {
				z.Set(i, j, (v-mean)/sd)
			}
		}
	}

	yMean := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i, v := range y {
		yc.SetVec(i, v-yMean)
	}

	var gram mat.Dense
	gram.Mul(z.T(), z)
	for j := 0; j < k; j++ {
		gram.Set(j, j, gram.At(j, j)+alpha)
	}

	var zty, b mat.VecDense
	zty.MulVec(z.T(), yc)
	if err := b.SolveVec(&gram, &zty); err != nil {
		return nil, 0, fmt.Errorf("ridge solve: %w", err)
	}

	betas := make([]float64, k)
	for j := range betas {
		if sds[j] > 0 {
			betas[j] = b.AtVec(j) / sds[j]
		}
		if math.IsNaN(betas[j]) || math.IsInf(betas[j], 0) {
			return nil, 0, fmt.Errorf("ridge: non-finite beta for column %d", j)
		}
	}

	var fitted mat.VecDense
	fitted.MulVec(z, &b)
	var sse, sst float64
	for i := 0; i < n; i++ {
		r := yc.AtVec(i) - fitted.AtVec(i)
		sse += r * r
		sst += yc.AtVec(i) * yc.AtVec(i)
	}
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}

	return betas, r2, nil
}

// significance classifies a slope t-statistic at the 99/95/90% two-sided levels.
func significance(t float64) string {
	a := math.Abs(t)
	switch {
	case a >= 2.576:
		return models.Significant99
	case a >= 1.96:
		return models.Significant95
	case a >= 1.645:
		return models.Significant90
	default:
		return models.NotSignificant
	}
}

func capBeta(beta, limit float64) float64 {
	if limit <= 0 {
		return beta
	}
	return math.Max(-limit, math.Min(limit, beta))
}

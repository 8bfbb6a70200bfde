package factors

import (
	"fmt"
	"sort"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/models"
)

type methodKind int

const (
	kindRidge methodKind = iota
	kindSpread
	kindSingle
	kindProvider
)

// factorProxy maps a factor onto an ETF return series, or a long-minus-short spread
// when Short is set.
type factorProxy struct {
	Factor string
	Long   string
	Short  string
}

// Method is one calculation method with its factor basis and observation gate.
type Method struct {
	Name            string
	Kind            methodKind
	Factors         []factorProxy
	Window          int // trading days
	MinObservations int
	// ZeroFill writes every factor as 0/limited_history below the gate instead of omitting.
	ZeroFill bool
	// Capped methods clamp betas to ±BetaCap.
	Capped bool
}

// Expected is the number of rows a fully computed symbol has for this method.
func (m Method) Expected() int {
	if m.Kind == kindProvider {
		return 1
	}
	return len(m.Factors)
}

// Symbols lists the proxy ETFs the method regresses against.
func (m Method) Symbols() []string {
	var out []string
	for _, f := range m.Factors {
		out = append(out, f.Long)
		if f.Short != "" {
			out = append(out, f.Short)
		}
	}
	return out
}

// DefaultMethods returns the method table, in execution order, with per-method
// window overrides from config applied.
func DefaultMethods(config common.FactorConfig) []Method {
	methods := []Method{
		{
			Name: models.MethodRidge,
			Kind: kindRidge,
			Factors: []factorProxy{
				{Factor: models.FactorValue, Long: "VTV"},
				{Factor: models.FactorGrowth, Long: "VUG"},
				{Factor: models.FactorMomentum, Long: "MTUM"},
				{Factor: models.FactorQuality, Long: "QUAL"},
				{Factor: models.FactorSize, Long: "IWM"},
				{Factor: models.FactorLowVolatility, Long: "USMV"},
			},
			Window:          252,
			MinObservations: 60,
			ZeroFill:        true,
		},
		{
			Name: models.MethodSpread,
			Kind: kindSpread,
			Factors: []factorProxy{
				{Factor: models.FactorGrowthValue, Long: "VUG", Short: "VTV"},
				{Factor: models.FactorMomentumSpread, Long: "MTUM", Short: "SPY"},
				{Factor: models.FactorSizeSpread, Long: "IWM", Short: "SPY"},
				{Factor: models.FactorQualitySpread, Long: "QUAL", Short: "SPY"},
			},
			Window:          180,
			MinObservations: 60,
			ZeroFill:        true,
		},
		{
			Name:            models.MethodOLSMarket,
			Kind:            kindSingle,
			Factors:         []factorProxy{{Factor: models.FactorMarket, Long: "SPY"}},
			Window:          90,
			MinObservations: 30,
			Capped:          true,
		},
		{
			Name:            models.MethodOLSIR,
			Kind:            kindSingle,
			Factors:         []factorProxy{{Factor: models.FactorInterestRate, Long: "TLT"}},
			Window:          90,
			MinObservations: 30,
			Capped:          true,
		},
		{
			Name: models.MethodProvider,
			Kind: kindProvider,
		},
	}

	for i := range methods {
		override, ok := config.Methods[methods[i].Name]
		if !ok {
			continue
		}
		if override.Window > 0 {
			methods[i].Window = override.Window
		}
		if override.MinObservations > 0 {
			methods[i].MinObservations = override.MinObservations
		}
	}

	return methods
}

// ProxySymbols returns every ETF referenced by the method table, sorted.
func ProxySymbols(methods []Method) []string {
	seen := make(map[string]struct{})
	for _, m := range methods {
		for _, s := range m.Symbols() {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func selectMethods(all []Method, names []string) ([]Method, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Method, len(all))
	for _, m := range all {
		byName[m.Name] = m
	}
	out := make([]Method, 0, len(names))
	for _, n := range names {
		m, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown calculation method %q", n)
		}
		out = append(out, m)
	}
	return out, nil
}

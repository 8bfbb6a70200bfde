package models

import (
	"testing"
	"time"
)

func TestPositionType_SignAndMultiplier(t *testing.T) {
	tests := []struct {
		typ        PositionType
		sign       float64
		multiplier float64
		option     bool
	}{
		{PositionLong, 1, 1, false},
		{PositionShort, -1, 1, false},
		{PositionLongCall, 1, 100, true},
		{PositionLongPut, 1, 100, true},
		{PositionShortCall, -1, 100, true},
		{PositionShortPut, -1, 100, true},
		{PositionPrivate, 1, 1, false},
	}
	for _, tt := range tests {
		if got := tt.typ.Sign(); got != tt.sign {
			t.Errorf("%s.Sign() = %v, want %v", tt.typ, got, tt.sign)
		}
		if got := tt.typ.Multiplier(); got != tt.multiplier {
			t.Errorf("%s.Multiplier() = %v, want %v", tt.typ, got, tt.multiplier)
		}
		if got := tt.typ.IsOption(); got != tt.option {
			t.Errorf("%s.IsOption() = %v, want %v", tt.typ, got, tt.option)
		}
	}
}

func TestParsePositionType(t *testing.T) {
	got, err := ParsePositionType(" sc ")
	if err != nil || got != PositionShortCall {
		t.Fatalf("ParsePositionType(sc) = %q, %v", got, err)
	}
	if _, err := ParsePositionType("STRADDLE"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestPosition_SignedExposure(t *testing.T) {
	short := &Position{Symbol: "TSLA", Quantity: -10, PositionType: PositionShort}
	if got := short.SignedExposure(200); got != -2000 {
		t.Errorf("short exposure = %v, want -2000", got)
	}

	// Sign comes from the variant even if quantity was stored unsigned
	shortCall := &Position{Symbol: "AAPL240119C00150000", UnderlyingSymbol: "AAPL", Quantity: 2, PositionType: PositionShortCall}
	if got := shortCall.SignedExposure(3.5); got != -700 {
		t.Errorf("short call exposure = %v, want -700", got)
	}
	if shortCall.FactorSymbol() != "AAPL" {
		t.Errorf("factor symbol = %q, want AAPL", shortCall.FactorSymbol())
	}
}

func TestPosition_IsOpenOn(t *testing.T) {
	entry := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	exit := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	p := &Position{EntryDate: entry, ExitDate: &exit}

	if p.IsOpenOn(entry.AddDate(0, 0, -1)) {
		t.Error("open before entry")
	}
	if !p.IsOpenOn(entry) {
		t.Error("not open on entry date")
	}
	if p.IsOpenOn(exit) {
		t.Error("open on exit date")
	}
}

func TestPosition_PrivateHasNoSymbols(t *testing.T) {
	p := &Position{Symbol: "PRIV_FUND_A", PositionType: PositionPrivate}
	if p.PricedSymbol() != "" || p.FactorSymbol() != "" {
		t.Error("private position should not resolve market symbols")
	}
}

func TestMergeEODBars(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC) }
	existing := []EODBar{{Date: d(3), Close: 3}, {Date: d(2), Close: 2}}
	incoming := []EODBar{{Date: d(3), Close: 30}, {Date: d(6), Close: 6}}

	merged := MergeEODBars(incoming, existing)
	if len(merged) != 3 {
		t.Fatalf("len = %d, want 3", len(merged))
	}
	if !merged[0].Date.Equal(d(6)) || merged[1].Close != 30 {
		t.Errorf("unexpected merge result: %+v", merged)
	}

	md := &MarketData{EOD: merged}
	if !md.HasBar(d(2)) || md.HasBar(d(4)) {
		t.Error("HasBar mismatch")
	}
}

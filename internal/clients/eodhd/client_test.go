package eodhd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bobmcallan/riskbatch/internal/interfaces"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetBulkEOD_StringFields(t *testing.T) {
	// Some exchanges return price/volume fields as strings
	mockResp := `[
		{"code": "BHP", "exchange_short_name": "AU", "date": "2025-03-28",
		 "open": "42.10", "high": "43.50", "low": "41.80", "close": "43.25",
		 "adjusted_close": "43.25", "volume": "5000000"},
		{"code": "RIO", "exchange_short_name": "AU", "date": "2025-03-28",
		 "open": "110.50", "high": "112.00", "low": "109.80", "close": "111.75",
		 "adjusted_close": "111.75", "volume": "3000000"}
	]`

	var gotPath, gotDate string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDate = r.URL.Query().Get("date")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(mockResp))
	})

	client := NewClient("test-key", WithBaseURL(srv.URL))
	result, err := client.GetBulkEOD(context.Background(), "au", time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetBulkEOD failed: %v", err)
	}

	if gotPath != "/eod-bulk-last-day/AU" {
		t.Errorf("path = %q, want /eod-bulk-last-day/AU", gotPath)
	}
	if gotDate != "2025-03-28" {
		t.Errorf("date param = %q, want 2025-03-28", gotDate)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result))
	}

	bhp := result["BHP"]
	if bhp.Open != 42.10 || bhp.High != 43.50 || bhp.Low != 41.80 {
		t.Errorf("BHP OHL = %.2f/%.2f/%.2f", bhp.Open, bhp.High, bhp.Low)
	}
	if bhp.Close != 43.25 || bhp.AdjClose != 43.25 {
		t.Errorf("BHP close = %.2f adj = %.2f, want 43.25", bhp.Close, bhp.AdjClose)
	}
	if bhp.Volume != 5000000 {
		t.Errorf("BHP volume = %d, want 5000000", bhp.Volume)
	}
	if !bhp.Date.Equal(time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("BHP date = %v", bhp.Date)
	}

	if rio := result["RIO"]; rio.Close != 111.75 {
		t.Errorf("RIO close = %.2f, want 111.75", rio.Close)
	}
}

func TestGetBulkEOD_NullsAndStaleRows(t *testing.T) {
	mockResp := `[
		{"code": "AAPL", "date": "2025-03-28", "open": 220.1, "high": 222.0,
		 "low": 219.5, "close": 221.3, "adjusted_close": 221.3, "volume": null},
		{"code": "GONE", "date": "2025-01-02", "close": 1.0, "volume": 10},
		{"code": "ODD", "date": "2025-03-28", "close": "N/A", "volume": "N/A"}
	]`

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mockResp))
	})

	client := NewClient("test-key", WithBaseURL(srv.URL))
	result, err := client.GetBulkEOD(context.Background(), "US", time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetBulkEOD failed: %v", err)
	}

	if _, ok := result["GONE"]; ok {
		t.Error("row dated before the requested day should be dropped")
	}
	if aapl := result["AAPL"]; aapl.Close != 221.3 || aapl.Volume != 0 {
		t.Errorf("AAPL = %+v, want close 221.3 and zero volume", aapl)
	}
	if odd := result["ODD"]; odd.Close != 0 {
		t.Errorf("ODD close = %.2f, want 0 for N/A", odd.Close)
	}
}

func TestGetEOD_QualifiesTickerAndParams(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Write([]byte(`[
			{"date": "2025-03-28", "open": 1, "high": 2, "low": 0.5, "close": 1.5, "adjusted_close": 1.4, "volume": 100},
			{"date": "2025-03-27", "open": 1, "high": 2, "low": 0.5, "close": 1.2, "adjusted_close": 1.1, "volume": "200"},
			{"date": "bad", "close": 9}
		]`))
	})

	client := NewClient("test-key", WithBaseURL(srv.URL), WithExchange("US"))
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC)

	resp, err := client.GetEOD(context.Background(), "MSFT", interfaces.WithDateRange(from, to))
	if err != nil {
		t.Fatalf("GetEOD failed: %v", err)
	}

	if gotPath != "/eod/MSFT.US" {
		t.Errorf("path = %q, want /eod/MSFT.US", gotPath)
	}
	if gotQuery["from"][0] != "2025-03-01" || gotQuery["to"][0] != "2025-03-28" {
		t.Errorf("range = %v..%v", gotQuery["from"], gotQuery["to"])
	}
	if gotQuery["api_token"][0] != "test-key" {
		t.Error("api_token not sent")
	}
	if len(resp.Data) != 2 {
		t.Fatalf("bars = %d, want 2 (malformed row skipped)", len(resp.Data))
	}
	if resp.Data[1].Volume != 200 || resp.Data[1].Price() != 1.1 {
		t.Errorf("second bar = %+v", resp.Data[1])
	}

	// Already-qualified tickers pass through unchanged
	if _, err := client.GetEOD(context.Background(), "BHP.AU", interfaces.WithLimit(1)); err != nil {
		t.Fatalf("GetEOD failed: %v", err)
	}
	if gotPath != "/eod/BHP.AU" {
		t.Errorf("path = %q, want /eod/BHP.AU", gotPath)
	}
}

func TestGetCompanyProfile(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/AAPL.US"):
			w.Write([]byte(`{
				"General": {"Code": "AAPL", "Name": "Apple Inc", "Type": "Common Stock",
				            "Sector": "Technology", "Industry": "Consumer Electronics", "CountryName": "USA"},
				"Technicals": {"Beta": 1.24}
			}`))
		case strings.HasSuffix(r.URL.Path, "/XLE.US"):
			w.Write([]byte(`{
				"General": {"Code": "XLE", "Name": "Energy Select", "Type": "ETF"},
				"Technicals": {"Beta": null},
				"ETF_Data": {"Sector_Weights": {
					"Energy": {"Equity_%": "98.10"},
					"Utilities": {"Equity_%": "1.90"}
				}}
			}`))
		default:
			http.NotFound(w, r)
		}
	})

	client := NewClient("test-key", WithBaseURL(srv.URL))

	aapl, err := client.GetCompanyProfile(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetCompanyProfile failed: %v", err)
	}
	if aapl.Sector != "Technology" || aapl.IsETF {
		t.Errorf("AAPL profile = %+v", aapl)
	}
	if aapl.Beta == nil || *aapl.Beta != 1.24 {
		t.Errorf("AAPL beta = %v, want 1.24", aapl.Beta)
	}

	xle, err := client.GetCompanyProfile(context.Background(), "XLE")
	if err != nil {
		t.Fatalf("GetCompanyProfile failed: %v", err)
	}
	if !xle.IsETF || xle.Sector != "Energy" {
		t.Errorf("XLE profile = %+v, want ETF in Energy", xle)
	}
	if xle.Beta != nil {
		t.Errorf("XLE beta = %v, want nil", *xle.Beta)
	}

	_, err = client.GetCompanyProfile(context.Background(), "NOPE")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}

func TestGetFundamentals(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"Highlights": {"MarketCapitalization": 3000000000000, "PERatio": "31.5",
			               "EarningsShare": 6.4, "DividendYield": 0.0044},
			"Valuation": {"PriceBookMRQ": 45.2},
			"SharesStats": {"SharesOutstanding": 15000000000}
		}`))
	})

	client := NewClient("test-key", WithBaseURL(srv.URL))
	f, err := client.GetFundamentals(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetFundamentals failed: %v", err)
	}
	if f.PE != 31.5 || f.PB != 45.2 || f.MarketCap != 3e12 {
		t.Errorf("fundamentals = %+v", f)
	}
	if f.SharesOutstanding != 15000000000 {
		t.Errorf("shares = %d", f.SharesOutstanding)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusInternalServerError)
	})

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000), WithCircuitBreaker(3, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.GetEOD(ctx, "AAPL")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
			t.Fatalf("call %d: expected 500 APIError, got %v", i, err)
		}
	}

	if client.BreakerState() != "open" {
		t.Fatalf("breaker state = %s, want open", client.BreakerState())
	}

	_, err := client.GetEOD(ctx, "AAPL")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open-state error, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3 (open breaker short-circuits)", hits.Load())
	}
}

func TestCircuitBreaker_IgnoresNotFound(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000), WithCircuitBreaker(2, time.Minute))

	for i := 0; i < 5; i++ {
		if _, err := client.GetCompanyProfile(context.Background(), "UNKNOWN"); err == nil {
			t.Fatal("expected error for unknown ticker")
		}
	}

	if client.BreakerState() != "closed" {
		t.Errorf("breaker state = %s, want closed after 404s", client.BreakerState())
	}
}

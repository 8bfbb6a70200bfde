package market

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bobmcallan/riskbatch/internal/common"
	"github.com/bobmcallan/riskbatch/internal/models"
)

// SyncCompanyProfiles refreshes profiles older than the profile freshness window.
// Returns the number of profiles updated.
func (s *Service) SyncCompanyProfiles(ctx context.Context, symbols []string) (int, error) {
	return s.refresh(ctx, normalizeSymbols(symbols), "profile",
		func(md *models.MarketData) bool {
			return md.Profile == nil || !common.IsFresh(md.ProfileUpdatedAt, common.FreshnessCompanyProfile)
		},
		func(ctx context.Context, md *models.MarketData) error {
			profile, err := s.provider.GetCompanyProfile(ctx, md.Ticker)
			if err != nil {
				return fmt.Errorf("failed to fetch company profile: %w", err)
			}
			now := s.now()
			md.Profile = profile
			if profile.Name != "" {
				md.Name = profile.Name
			}
			md.ProfileUpdatedAt = now
			md.LastUpdated = now
			return nil
		})
}

// CollectFundamentals refreshes fundamentals older than the freshness window.
// When force is true, all fundamentals are re-fetched.
func (s *Service) CollectFundamentals(ctx context.Context, symbols []string, force bool) (int, error) {
	return s.refresh(ctx, normalizeSymbols(symbols), "fundamentals",
		func(md *models.MarketData) bool {
			return force || md.Fundamentals == nil || !common.IsFresh(md.FundamentalsUpdatedAt, common.FreshnessFundamentals)
		},
		func(ctx context.Context, md *models.MarketData) error {
			fundamentals, err := s.provider.GetFundamentals(ctx, md.Ticker)
			if err != nil {
				return fmt.Errorf("failed to fetch fundamentals: %w", err)
			}
			now := s.now()
			md.Fundamentals = fundamentals
			md.FundamentalsUpdatedAt = now
			md.LastUpdated = now
			return nil
		})
}

// refresh fetches and saves one document component for every stale symbol.
// Individual failures are logged and joined; the count covers successful saves.
func (s *Service) refresh(
	ctx context.Context,
	symbols []string,
	component string,
	stale func(md *models.MarketData) bool,
	fetch func(ctx context.Context, md *models.MarketData) error,
) (int, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	if err := s.requireProvider(); err != nil {
		return 0, err
	}

	docs, err := s.load(ctx, symbols)
	if err != nil {
		return 0, err
	}

	var todo []string
	for _, sym := range symbols {
		if stale(docs[sym]) {
			todo = append(todo, sym)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	var mu sync.Mutex
	var errs []error
	updated := 0

	s.forEach(ctx, todo, func(sym string) {
		md := docs[sym]
		err := fetch(ctx, md)
		if err == nil {
			err = s.store.SaveMarketData(ctx, md)
		}
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			s.logger.Warn().Str("ticker", sym).Str("component", component).Err(err).Msg("Market data refresh failed")
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			return
		}
		updated++
	})

	s.logger.Info().
		Str("component", component).
		Int("stale", len(todo)).
		Int("updated", updated).
		Int("failed", len(errs)).
		Msg("Market data refresh complete")

	if err := ctx.Err(); err != nil {
		return updated, err
	}
	return updated, errors.Join(errs...)
}

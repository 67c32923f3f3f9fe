package market

import (
	"context"
	"fmt"
	"time"

	"qback/internal/logger"
)

// Loader assembles the run dataset from a Store, extending the requested
// range backwards so trailing-window factors have enough history.
type Loader struct {
	store Store
	log   logger.Logger
}

// NewLoader creates a loader over the given store
func NewLoader(store Store, log logger.Logger) *Loader {
	if log == nil {
		log = logger.Default()
	}
	return &Loader{store: store, log: log}
}

// Load reads price and financial history for the universe codes over
// [from−lookbackDays, to] and builds the immutable dataset arena.
func (l *Loader) Load(ctx context.Context, codes []string, from, to time.Time, lookbackDays int) (*Dataset, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("empty universe")
	}
	if lookbackDays < 0 {
		lookbackDays = 0
	}
	extendedFrom := from.AddDate(0, 0, -lookbackDays)

	securities := make([]Security, 0, len(codes))
	all, err := l.store.Securities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load securities: %w", err)
	}
	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		want[c] = struct{}{}
	}
	for _, s := range all {
		if _, ok := want[s.Code]; ok {
			securities = append(securities, s)
		}
	}

	bars, err := l.store.Bars(ctx, codes, extendedFrom, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load price bars: %w", err)
	}
	financials, err := l.store.Financials(ctx, codes, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load financial snapshots: %w", err)
	}

	l.log.Info("market data loaded",
		"securities", len(securities),
		"bars", len(bars),
		"financials", len(financials),
		"from", DateKey(extendedFrom),
		"to", DateKey(to))

	return Build(securities, bars, financials), nil
}

// ResolveUniverse maps a strategy universe filter to security codes
func (l *Loader) ResolveUniverse(ctx context.Context, explicit []string, themes []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	var (
		securities []Security
		err        error
	)
	if len(themes) > 0 {
		securities, err = l.store.SecuritiesByTheme(ctx, themes)
	} else {
		securities, err = l.store.Securities(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve universe: %w", err)
	}
	codes := make([]string, 0, len(securities))
	for _, s := range securities {
		codes = append(codes, s.Code)
	}
	return codes, nil
}

package market

import (
	"context"
	"sort"
	"time"
)

// MemoryStore is an in-memory Store used by tests and offline runs
type MemoryStore struct {
	securities []Security
	bars       []PriceBar
	financials []FinancialSnapshot
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddSecurity registers a security
func (m *MemoryStore) AddSecurity(s Security) {
	m.securities = append(m.securities, s)
}

// AddBars appends price bars
func (m *MemoryStore) AddBars(bars ...PriceBar) {
	m.bars = append(m.bars, bars...)
}

// AddFinancials appends financial snapshots
func (m *MemoryStore) AddFinancials(snapshots ...FinancialSnapshot) {
	m.financials = append(m.financials, snapshots...)
}

func (m *MemoryStore) Securities(ctx context.Context) ([]Security, error) {
	out := make([]Security, len(m.securities))
	copy(out, m.securities)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) SecuritiesByTheme(ctx context.Context, themes []string) ([]Security, error) {
	want := make(map[string]struct{}, len(themes))
	for _, t := range themes {
		want[t] = struct{}{}
	}
	var out []Security
	for _, s := range m.securities {
		for _, t := range s.Themes {
			if _, ok := want[t]; ok {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) Bars(ctx context.Context, codes []string, from, to time.Time) ([]PriceBar, error) {
	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		want[c] = struct{}{}
	}
	var out []PriceBar
	for _, b := range m.bars {
		if _, ok := want[b.Code]; !ok {
			continue
		}
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MemoryStore) Financials(ctx context.Context, codes []string, upTo time.Time) ([]FinancialSnapshot, error) {
	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		want[c] = struct{}{}
	}
	var out []FinancialSnapshot
	for _, f := range m.financials {
		if _, ok := want[f.Code]; !ok {
			continue
		}
		if f.ReportDate.After(upTo) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

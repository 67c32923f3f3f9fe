package market

import (
	"sort"
	"time"
)

// Dataset is the in-memory arena for one run: price and financial history
// loaded once, then shared read-only between factor workers. Nothing mutates
// a Dataset after Build returns.
type Dataset struct {
	securities map[string]Security
	bars       map[string][]PriceBar // per code, ascending by date
	barIndex   map[string]map[string]int
	financials map[string][]FinancialSnapshot // per code, ascending by report date
	days       []time.Time                    // union of trading days, ascending
}

// Build assembles a dataset from raw rows. Input order does not matter.
func Build(securities []Security, bars []PriceBar, financials []FinancialSnapshot) *Dataset {
	ds := &Dataset{
		securities: make(map[string]Security, len(securities)),
		bars:       make(map[string][]PriceBar),
		barIndex:   make(map[string]map[string]int),
		financials: make(map[string][]FinancialSnapshot),
	}
	for _, s := range securities {
		ds.securities[s.Code] = s
	}
	for _, b := range bars {
		ds.bars[b.Code] = append(ds.bars[b.Code], b)
	}
	daySet := make(map[string]time.Time)
	for code, list := range ds.bars {
		sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
		index := make(map[string]int, len(list))
		for i, b := range list {
			key := DateKey(b.Date)
			index[key] = i
			daySet[key] = b.Date
		}
		ds.bars[code] = list
		ds.barIndex[code] = index
	}
	for _, f := range financials {
		ds.financials[f.Code] = append(ds.financials[f.Code], f)
	}
	for code, list := range ds.financials {
		sort.Slice(list, func(i, j int) bool { return list[i].ReportDate.Before(list[j].ReportDate) })
		ds.financials[code] = list
	}
	ds.days = make([]time.Time, 0, len(daySet))
	for _, d := range daySet {
		ds.days = append(ds.days, d)
	}
	sort.Slice(ds.days, func(i, j int) bool { return ds.days[i].Before(ds.days[j]) })
	return ds
}

// Codes returns all security codes present in the dataset
func (ds *Dataset) Codes() []string {
	codes := make([]string, 0, len(ds.securities))
	for code := range ds.securities {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Security returns the identity record for a code
func (ds *Dataset) Security(code string) (Security, bool) {
	s, ok := ds.securities[code]
	return s, ok
}

// SecuritiesByTheme returns codes whose security carries any of the themes
func (ds *Dataset) SecuritiesByTheme(themes []string) []string {
	want := make(map[string]struct{}, len(themes))
	for _, t := range themes {
		want[t] = struct{}{}
	}
	var codes []string
	for code, sec := range ds.securities {
		for _, t := range sec.Themes {
			if _, ok := want[t]; ok {
				codes = append(codes, code)
				break
			}
		}
	}
	sort.Strings(codes)
	return codes
}

// TradingDays returns the trading days within [from, to] inclusive
func (ds *Dataset) TradingDays(from, to time.Time) []time.Time {
	var days []time.Time
	for _, d := range ds.days {
		if d.Before(from) || d.After(to) {
			continue
		}
		days = append(days, d)
	}
	return days
}

// Bar returns the price bar for a code on an exact trading date
func (ds *Dataset) Bar(code string, date time.Time) (PriceBar, bool) {
	index, ok := ds.barIndex[code]
	if !ok {
		return PriceBar{}, false
	}
	i, ok := index[DateKey(date)]
	if !ok {
		return PriceBar{}, false
	}
	return ds.bars[code][i], true
}

// History returns the bars for code up to and including date, oldest first.
// The slice aliases the dataset's backing array and must not be mutated.
func (ds *Dataset) History(code string, date time.Time) []PriceBar {
	index, ok := ds.barIndex[code]
	if !ok {
		return nil
	}
	if i, ok := index[DateKey(date)]; ok {
		return ds.bars[code][:i+1]
	}
	// No bar on that exact date: binary search for the last bar before it
	list := ds.bars[code]
	n := sort.Search(len(list), func(i int) bool { return list[i].Date.After(date) })
	return list[:n]
}

// Financials returns all statements for code, ascending by report date.
// The slice aliases the dataset's backing array and must not be mutated.
func (ds *Dataset) Financials(code string) []FinancialSnapshot {
	return ds.financials[code]
}

// HasData reports whether any price bars were loaded
func (ds *Dataset) HasData() bool {
	return len(ds.days) > 0
}

package factor

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"qback/internal/cache"
	"qback/internal/config"
	"qback/internal/logger"
	"qback/internal/market"
	"qback/internal/monitoring"
)

// Values maps factor name to value for one security. Missing history or
// suppressed data errors are NaN, never an error.
type Values map[string]float64

// SecurityValues maps security code to factor values for one date
type SecurityValues map[string]Values

// Table maps date key (market.DateKey) to per-security factor values
type Table map[string]SecurityValues

// Value looks a single factor value up in the table, returning NaN when the
// date, security or factor is absent
func (t Table) Value(date time.Time, code, name string) float64 {
	sv, ok := t[market.DateKey(date)]
	if !ok {
		return nan
	}
	vals, ok := sv[code]
	if !ok {
		return nan
	}
	v, ok := vals[name]
	if !ok {
		return nan
	}
	return v
}

// finEpoch is one span of dates sharing a financial-statement selection.
// Statement factors are quarterly-granular: the selection is computed once
// per published report and broadcast to every date in its span.
type finEpoch struct {
	from time.Time
	sel  *finSelection
}

// Engine computes cross-sectional factor values over the run dataset.
// The dataset is shared read-only between workers; each worker writes only
// its own per-date result map.
type Engine struct {
	data      *market.Dataset
	cache     cache.Cacher
	log       logger.Logger
	metrics   *monitoring.Metrics
	workers   int
	chunkDays int
	cacheTTL  time.Duration

	finMu    sync.Mutex
	finIndex map[string][]finEpoch
}

// NewEngine creates a factor engine over an immutable dataset. Registry
// initialization happens here, once per process, rather than in package init.
func NewEngine(data *market.Dataset, cacher cache.Cacher, log logger.Logger, metrics *monitoring.Metrics, cfg config.BacktestConfig) *Engine {
	ensureRegistry()
	if log == nil {
		log = logger.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	chunkDays := cfg.ChunkDays
	if chunkDays <= 0 {
		chunkDays = 20
	}
	return &Engine{
		data:      data,
		cache:     cacher,
		log:       log,
		metrics:   metrics,
		workers:   workers,
		chunkDays: chunkDays,
		cacheTTL:  cfg.CacheTTL,
		finIndex:  make(map[string][]finEpoch),
	}
}

// ComputeRange computes the named factors for every (date, security) pair.
// An empty name list falls back to the full registry. Date chunks are
// computed concurrently; each worker returns an isolated per-date map that
// is merged here.
func (e *Engine) ComputeRange(ctx context.Context, days []time.Time, universe []string, names []string) (Table, error) {
	names = e.knownNames(names)
	if e.needsFinancials(names) {
		e.buildFinIndex(universe, days)
	}

	chunks := chunkDates(days, e.chunkDays)

	type dateResult struct {
		key    string
		values SecurityValues
	}

	jobs := make(chan []time.Time, len(chunks))
	results := make(chan dateResult, len(days))
	var wg sync.WaitGroup

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				for _, date := range chunk {
					select {
					case <-ctx.Done():
						return
					default:
					}
					results <- dateResult{
						key:    market.DateKey(date),
						values: e.computeDateCached(ctx, date, universe, names),
					}
				}
			}
		}()
	}

	for _, chunk := range chunks {
		jobs <- chunk
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	table := make(Table, len(days))
	for r := range results {
		table[r.key] = r.values
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

// ComputeDate computes the named factors for a single date without caching
func (e *Engine) ComputeDate(date time.Time, universe []string, names []string) SecurityValues {
	names = e.knownNames(names)
	if e.needsFinancials(names) {
		e.buildFinIndex(universe, []time.Time{date})
	}
	return e.computeDate(date, universe, names)
}

// computeDateCached serves one date's chunk from the cache when possible,
// falling through to computation on any cache failure.
func (e *Engine) computeDateCached(ctx context.Context, date time.Time, universe, names []string) SecurityValues {
	if e.cache == nil {
		e.metrics.FactorChunk("computed")
		return e.computeDate(date, universe, names)
	}

	key := cache.ChunkKey(date, names, universe)
	var encoded map[string]map[string]*float64
	if err := e.cache.Get(ctx, key, &encoded); err == nil {
		e.metrics.FactorChunk("cache")
		return decodeChunk(encoded)
	} else if err != cache.ErrMiss {
		e.log.Debug("factor cache read failed", "key", key, "error", err)
	}

	values := e.computeDate(date, universe, names)
	e.metrics.FactorChunk("computed")
	if err := e.cache.Set(ctx, key, encodeChunk(values), e.cacheTTL); err != nil {
		e.log.Debug("factor cache write failed", "key", key, "error", err)
	}
	return values
}

func (e *Engine) computeDate(date time.Time, universe, names []string) SecurityValues {
	out := make(SecurityValues, len(universe))
	for _, code := range universe {
		bar, ok := e.data.Bar(code, date)
		if !ok {
			continue // not traded that day
		}
		history := e.data.History(code, date)
		sel := e.finSelectionAt(code, date)

		vals := make(Values, len(names))
		for _, name := range names {
			def, _ := Lookup(name)
			switch {
			case def.Price != nil:
				vals[name] = def.Price(history)
			case sel != nil:
				vals[name] = def.Fin(sel, bar)
			default:
				vals[name] = nan // no statement published yet
			}
		}
		out[code] = vals
	}
	return out
}

// knownNames filters to registered factors, falling back to the full
// registry when nothing is requested
func (e *Engine) knownNames(names []string) []string {
	if len(names) == 0 {
		return Names()
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if Exists(name) {
			out = append(out, name)
		} else {
			e.log.Warn("unknown factor requested, skipping", "factor", name)
		}
	}
	if len(out) == 0 {
		return Names()
	}
	return out
}

func (e *Engine) needsFinancials(names []string) bool {
	for _, name := range names {
		if def, ok := Lookup(name); ok && def.Financial() {
			return true
		}
	}
	return false
}

// buildFinIndex precomputes the statement selection per report epoch for
// each security, so per-date lookup is a binary search instead of a rescan
func (e *Engine) buildFinIndex(universe []string, days []time.Time) {
	e.finMu.Lock()
	defer e.finMu.Unlock()
	for _, code := range universe {
		if _, done := e.finIndex[code]; done {
			continue
		}
		fins := e.data.Financials(code)
		epochs := make([]finEpoch, 0, len(fins))
		for i := range fins {
			from := fins[i].ReportDate
			epochs = append(epochs, finEpoch{from: from, sel: selectFinancials(fins, from)})
		}
		e.finIndex[code] = epochs
	}
}

// finSelectionAt returns the statement selection valid at date, or nil when
// no report has been published
func (e *Engine) finSelectionAt(code string, date time.Time) *finSelection {
	e.finMu.Lock()
	epochs := e.finIndex[code]
	e.finMu.Unlock()

	// epochs are ordered by report date; take the last one at or before date
	i := sort.Search(len(epochs), func(i int) bool { return epochs[i].from.After(date) })
	if i == 0 {
		return nil
	}
	return epochs[i-1].sel
}

func chunkDates(days []time.Time, size int) [][]time.Time {
	var chunks [][]time.Time
	for start := 0; start < len(days); start += size {
		end := start + size
		if end > len(days) {
			end = len(days)
		}
		chunks = append(chunks, days[start:end])
	}
	return chunks
}

// encodeChunk converts factor values to a JSON-safe form: NaN becomes nil
func encodeChunk(values SecurityValues) map[string]map[string]*float64 {
	out := make(map[string]map[string]*float64, len(values))
	for code, vals := range values {
		enc := make(map[string]*float64, len(vals))
		for name, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				enc[name] = nil
			} else {
				value := v
				enc[name] = &value
			}
		}
		out[code] = enc
	}
	return out
}

func decodeChunk(encoded map[string]map[string]*float64) SecurityValues {
	out := make(SecurityValues, len(encoded))
	for code, enc := range encoded {
		vals := make(Values, len(enc))
		for name, p := range enc {
			if p == nil {
				vals[name] = nan
			} else {
				vals[name] = *p
			}
		}
		out[code] = vals
	}
	return out
}

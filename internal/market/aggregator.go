package market

import (
	"fmt"
	"sync"

	"otc-signal-bot/internal/logging"
)

// CandleHandler receives candle lifecycle callbacks from the aggregator.
type CandleHandler func(symbol string, timeframe int64, candle Candle)

// pairKey identifies one (symbol, timeframe) aggregation stream.
type pairKey struct {
	symbol    string
	timeframe int64
}

func (k pairKey) String() string {
	return fmt.Sprintf("%s@%d", k.symbol, k.timeframe)
}

// book holds the candle state for one (symbol, timeframe) pair.
// Closed candles are a bounded ring ordered by StartEpoch; at most one
// forming candle exists at a time.
type book struct {
	mu       sync.Mutex
	closed   []Candle
	forming  *Candle
	capacity int
}

// Aggregator folds ticks into per-(symbol, timeframe) OHLC candles and
// emits forming / tick / closed callbacks. It is the single serialization
// point for candle state: each pair's book has its own lock, so ticks for
// one pair never block another.
type Aggregator struct {
	mu    sync.RWMutex
	books map[pairKey]*book

	cbMu      sync.RWMutex
	onForming []CandleHandler
	onTick    []CandleHandler
	onClosed  []CandleHandler

	logger *logging.Logger
}

// NewAggregator creates an empty candle aggregator.
func NewAggregator(logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{
		books:  make(map[pairKey]*book),
		logger: logger.WithComponent("aggregator"),
	}
}

// OnForming registers a callback fired when the first tick of a new
// interval allocates a forming candle.
func (a *Aggregator) OnForming(h CandleHandler) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onForming = append(a.onForming, h)
}

// OnTick registers a callback fired on every further tick folded into the
// current forming candle.
func (a *Aggregator) OnTick(h CandleHandler) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onTick = append(a.onTick, h)
}

// OnClosed registers a callback fired exactly once when a candle boundary
// is crossed and the previous forming candle freezes.
func (a *Aggregator) OnClosed(h CandleHandler) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onClosed = append(a.onClosed, h)
}

// Initialize seeds the closed-candle ring for a pair with sorted,
// non-forming history truncated to capacity. Re-initializing an existing
// pair replaces its state.
func (a *Aggregator) Initialize(symbol string, timeframe int64, history []Candle, capacity int) error {
	if timeframe <= 0 {
		return fmt.Errorf("invalid timeframe %d for %s", timeframe, symbol)
	}
	if capacity <= 0 {
		capacity = 300
	}

	closed := make([]Candle, 0, capacity)
	for _, c := range history {
		if c.IsForming {
			continue
		}
		c.Symbol = symbol
		c.Timeframe = timeframe
		closed = append(closed, c)
	}
	if len(closed) > capacity {
		closed = closed[len(closed)-capacity:]
	}

	a.mu.Lock()
	a.books[pairKey{symbol, timeframe}] = &book{
		closed:   closed,
		capacity: capacity,
	}
	a.mu.Unlock()

	a.logger.Info("Aggregator initialized",
		"symbol", symbol,
		"timeframe", timeframe,
		"history", len(closed),
		"capacity", capacity)
	return nil
}

// ProcessTick folds a tick into the (tick.Symbol, timeframe) book. Ticks
// must arrive in non-decreasing epoch order per pair; out-of-order and
// invalid ticks are dropped. A tick for an uninitialized pair is logged
// and ignored.
func (a *Aggregator) ProcessTick(tick Tick, timeframe int64) {
	if !tick.Valid() {
		return
	}

	key := pairKey{tick.Symbol, timeframe}
	a.mu.RLock()
	b := a.books[key]
	a.mu.RUnlock()

	if b == nil {
		a.logger.Warn("Tick for uninitialized pair dropped",
			"symbol", tick.Symbol, "timeframe", timeframe)
		return
	}

	boundary := BoundaryFor(tick.Epoch, timeframe)

	b.mu.Lock()

	if b.forming == nil {
		// First tick of the pair's first interval.
		if len(b.closed) > 0 && boundary <= b.closed[len(b.closed)-1].StartEpoch {
			b.mu.Unlock()
			return // behind seeded history
		}
		forming := newForming(tick, timeframe, boundary)
		b.forming = &forming
		b.mu.Unlock()
		a.emit(a.formingHandlers(), tick.Symbol, timeframe, forming)
		return
	}

	switch {
	case boundary < b.forming.StartEpoch:
		// Out-of-order tick: dropped silently per the aggregation contract.
		b.mu.Unlock()
		return

	case boundary == b.forming.StartEpoch:
		b.forming.Close = tick.Price
		if tick.Price > b.forming.High {
			b.forming.High = tick.Price
		}
		if tick.Price < b.forming.Low {
			b.forming.Low = tick.Price
		}
		b.forming.TickCount++
		updated := *b.forming
		b.mu.Unlock()
		a.emit(a.tickHandlers(), tick.Symbol, timeframe, updated)
		return

	default:
		// Boundary crossed: freeze the forming candle and open a new one.
		frozen := *b.forming
		frozen.IsForming = false
		b.closed = append(b.closed, frozen)
		if len(b.closed) > b.capacity {
			b.closed = b.closed[len(b.closed)-b.capacity:]
		}
		forming := newForming(tick, timeframe, boundary)
		b.forming = &forming
		b.mu.Unlock()

		a.emit(a.closedHandlers(), tick.Symbol, timeframe, frozen)
		a.emit(a.formingHandlers(), tick.Symbol, timeframe, forming)
		return
	}
}

func newForming(tick Tick, timeframe, boundary int64) Candle {
	return Candle{
		Symbol:     tick.Symbol,
		Timeframe:  timeframe,
		Open:       tick.Price,
		High:       tick.Price,
		Low:        tick.Price,
		Close:      tick.Price,
		StartEpoch: boundary,
		TickCount:  1,
		IsForming:  true,
	}
}

// GetClosed returns a copy of the closed-candle ring for a pair.
func (a *Aggregator) GetClosed(symbol string, timeframe int64) []Candle {
	b := a.lookup(symbol, timeframe)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Candle, len(b.closed))
	copy(out, b.closed)
	return out
}

// GetForming returns a copy of the current forming candle, if any.
func (a *Aggregator) GetForming(symbol string, timeframe int64) (Candle, bool) {
	b := a.lookup(symbol, timeframe)
	if b == nil {
		return Candle{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forming == nil {
		return Candle{}, false
	}
	return *b.forming, true
}

// GetLastN returns up to n most recent closed candles, oldest first.
func (a *Aggregator) GetLastN(symbol string, timeframe int64, n int) []Candle {
	b := a.lookup(symbol, timeframe)
	if b == nil || n <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	start := len(b.closed) - n
	if start < 0 {
		start = 0
	}
	out := make([]Candle, len(b.closed)-start)
	copy(out, b.closed[start:])
	return out
}

// Cleanup releases all state for a pair. Cleaning an unknown pair is a
// no-op.
func (a *Aggregator) Cleanup(symbol string, timeframe int64) {
	key := pairKey{symbol, timeframe}
	a.mu.Lock()
	_, existed := a.books[key]
	delete(a.books, key)
	a.mu.Unlock()
	if existed {
		a.logger.Info("Aggregator state released", "symbol", symbol, "timeframe", timeframe)
	}
}

// ActivePairs returns the number of initialized (symbol, timeframe) pairs.
func (a *Aggregator) ActivePairs() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.books)
}

func (a *Aggregator) lookup(symbol string, timeframe int64) *book {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.books[pairKey{symbol, timeframe}]
}

func (a *Aggregator) formingHandlers() []CandleHandler {
	a.cbMu.RLock()
	defer a.cbMu.RUnlock()
	return a.onForming
}

func (a *Aggregator) tickHandlers() []CandleHandler {
	a.cbMu.RLock()
	defer a.cbMu.RUnlock()
	return a.onTick
}

func (a *Aggregator) closedHandlers() []CandleHandler {
	a.cbMu.RLock()
	defer a.cbMu.RUnlock()
	return a.onClosed
}

// emit invokes handlers synchronously so per-pair ordering is preserved:
// a closed callback always completes before the next forming callback of
// the same pair is delivered.
func (a *Aggregator) emit(handlers []CandleHandler, symbol string, timeframe int64, c Candle) {
	for _, h := range handlers {
		h(symbol, timeframe, c)
	}
}

package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"otc-signal-bot/internal/adaptive"
	"otc-signal-bot/internal/events"
	"otc-signal-bot/internal/logging"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/ml"
	"otc-signal-bot/internal/session"
	"otc-signal-bot/internal/signal"
	"otc-signal-bot/internal/volatility"
)

const (
	resolveInterval  = 1 * time.Second
	warningInterval  = 5 * time.Second
	warningCooldown  = 60 * time.Second
	maxWarnings      = 3
	warningScoreBar  = 0.6
	processedCeiling = 1000
)

// SessionHub is the slice of the session manager the tracker needs:
// folding resolved trades back into per-session stats and listing the
// sessions the volatility re-check loop should warn.
type SessionHub interface {
	RecordOutcome(sessionID string, won bool)
	Active() []session.Session
}

// PendingSignal is one directional signal waiting for its expiry candle
// to close.
type PendingSignal struct {
	Key         string           `json:"key"`
	SessionID   string           `json:"session_id"`
	ChatID      string           `json:"chat_id"`
	Symbol      string           `json:"symbol"`
	Direction   string           `json:"direction"`
	EntryPrice  float64          `json:"entry_price"`
	Confidence  float64          `json:"confidence"`
	ExpiryEpoch int64            `json:"expiry_epoch"`
	Features    ml.FeatureRecord `json:"-"`
}

type pricePoint struct {
	price float64
	epoch int64
}

// Tracker resolves signals at expiry against the live price and feeds
// the outcome to every learner exactly once per signal.
type Tracker struct {
	mu        sync.Mutex
	pending   map[string]*PendingSignal
	prices    map[string]pricePoint
	processed map[string]bool
	order     []string
	warned    map[string]int       // session id -> warnings issued
	lastWarn  map[string]time.Time // session id -> last warning time

	ensemble   *ml.Ensemble
	thresholds *adaptive.Engine
	sessions   SessionHub
	vol        *volatility.Service
	bus        *events.EventBus
	logger     *logging.Logger

	now      func() time.Time
	stopChan chan struct{}
	running  bool

	wins   int64
	losses int64
}

// NewTracker wires a win/loss tracker. Any of the learner hooks may be
// nil.
func NewTracker(ensemble *ml.Ensemble, thresholds *adaptive.Engine, sessions SessionHub, vol *volatility.Service, bus *events.EventBus, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		pending:    make(map[string]*PendingSignal),
		prices:     make(map[string]pricePoint),
		processed:  make(map[string]bool),
		warned:     make(map[string]int),
		lastWarn:   make(map[string]time.Time),
		ensemble:   ensemble,
		thresholds: thresholds,
		sessions:   sessions,
		vol:        vol,
		bus:        bus,
		logger:     logger.WithComponent("tracker"),
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the resolve and volatility-warning loops.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	go t.loop(resolveInterval, t.resolveDue)
	go t.loop(warningInterval, t.checkVolatility)
	t.logger.Info("Tracker started")
}

// Stop terminates both loops.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopChan)
	t.mu.Unlock()
	t.logger.Info("Tracker stopped")
}

func (t *Tracker) loop(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-t.stopChan:
			return
		}
	}
}

// Handle enqueues a directional signal for resolution. It matches the
// session manager's SignalHandler shape, so it can be installed
// directly. NO_TRADE results are ignored.
func (t *Tracker) Handle(s session.Session, res signal.Result) {
	if res.Direction != signal.DirectionCall && res.Direction != signal.DirectionPut {
		return
	}
	if s.Symbol != res.Symbol || s.Timeframe != res.Timeframe {
		t.logger.Warn("Signal does not match its session, dropping",
			"session_id", s.ID,
			"session_pair", fmt.Sprintf("%s/%d", s.Symbol, s.Timeframe),
			"signal_pair", fmt.Sprintf("%s/%d", res.Symbol, res.Timeframe))
		return
	}

	key := fmt.Sprintf("%s_%d", res.SessionID, res.Timestamp)
	expiry := res.CandleCloseTime + res.Timeframe

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processed[key] {
		return
	}
	if _, exists := t.pending[key]; exists {
		return
	}
	t.pending[key] = &PendingSignal{
		Key:         key,
		SessionID:   res.SessionID,
		ChatID:      s.ChatID,
		Symbol:      res.Symbol,
		Direction:   res.Direction,
		EntryPrice:  res.EntryPrice,
		Confidence:  res.Confidence,
		ExpiryEpoch: expiry,
		Features:    res.Features,
	}
	t.logger.Info("Signal tracked",
		"key", key,
		"symbol", res.Symbol,
		"direction", res.Direction,
		"entry", res.EntryPrice,
		"expiry", expiry)
}

// UpdatePrice refreshes the latest-price cache. Plug it into the feed's
// tick path alongside the aggregator.
func (t *Tracker) UpdatePrice(tick market.Tick) {
	if !tick.Valid() {
		return
	}
	t.mu.Lock()
	t.prices[tick.Symbol] = pricePoint{price: tick.Price, epoch: tick.Epoch}
	t.mu.Unlock()
}

// resolveDue settles every pending signal whose expiry has passed, in
// expiry order. A signal missing its exit price is dropped with a
// warning rather than retried: a stale resolution would poison the
// learners.
func (t *Tracker) resolveDue() {
	nowEpoch := t.now().Unix()

	t.mu.Lock()
	var due []*PendingSignal
	for key, p := range t.pending {
		if nowEpoch < p.ExpiryEpoch {
			continue
		}
		delete(t.pending, key)
		t.markProcessedLocked(key)
		due = append(due, p)
	}
	t.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].ExpiryEpoch != due[j].ExpiryEpoch {
			return due[i].ExpiryEpoch < due[j].ExpiryEpoch
		}
		return due[i].Key < due[j].Key
	})
	for _, p := range due {
		t.settle(p)
	}
}

func (t *Tracker) settle(p *PendingSignal) {
	t.mu.Lock()
	pp, ok := t.prices[p.Symbol]
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("No exit price for expired signal, skipping",
			"key", p.Key, "symbol", p.Symbol)
		return
	}

	exit := pp.price
	wentUp := exit > p.EntryPrice
	won := false
	switch p.Direction {
	case signal.DirectionCall:
		won = exit > p.EntryPrice
	case signal.DirectionPut:
		won = exit < p.EntryPrice
	}

	t.mu.Lock()
	if won {
		t.wins++
	} else {
		t.losses++
	}
	t.mu.Unlock()

	if t.ensemble != nil {
		t.ensemble.Update(p.Features, wentUp)
	}
	if t.thresholds != nil {
		t.thresholds.RecordOutcome(won, p.Confidence)
	}
	if t.sessions != nil {
		t.sessions.RecordOutcome(p.SessionID, won)
	}

	outcome := "LOSS"
	if won {
		outcome = "WIN"
	}
	if t.bus != nil {
		t.bus.PublishTradeResult(p.Key, p.Symbol, p.Direction, outcome, p.EntryPrice, exit)
	}
	t.logger.Info("Trade resolved",
		"key", p.Key,
		"symbol", p.Symbol,
		"direction", p.Direction,
		"outcome", outcome,
		"entry", p.EntryPrice,
		"exit", exit)
}

// checkVolatility warns every active session whose symbol turns
// volatile. Warnings are rate-limited and capped per session; counters
// for stopped sessions are pruned on each pass.
func (t *Tracker) checkVolatility() {
	if t.vol == nil || t.sessions == nil {
		return
	}
	now := t.now()
	active := t.sessions.Active()

	type warning struct {
		sessionID string
		symbol    string
		score     float64
	}
	var warn []warning

	t.mu.Lock()
	live := make(map[string]bool, len(active))
	for _, s := range active {
		live[s.ID] = true
		a, ok := t.vol.Get(s.Symbol)
		if !ok {
			continue
		}
		if a.VolatilityScore <= warningScoreBar || a.IsStable {
			continue
		}
		if t.warned[s.ID] >= maxWarnings || now.Sub(t.lastWarn[s.ID]) < warningCooldown {
			continue
		}
		t.warned[s.ID]++
		t.lastWarn[s.ID] = now
		warn = append(warn, warning{sessionID: s.ID, symbol: s.Symbol, score: a.VolatilityScore})
	}
	for id := range t.warned {
		if !live[id] {
			delete(t.warned, id)
			delete(t.lastWarn, id)
		}
	}
	t.mu.Unlock()

	for _, w := range warn {
		if t.bus != nil {
			t.bus.PublishVolatilityWarning(w.sessionID, w.symbol, w.score)
		}
		t.logger.Warn("Volatility warning",
			"session_id", w.sessionID, "symbol", w.symbol, "score", w.score)
	}
}

// markProcessedLocked records a settled key, evicting the oldest entries
// past the ceiling. Caller holds t.mu.
func (t *Tracker) markProcessedLocked(key string) {
	if t.processed[key] {
		return
	}
	t.processed[key] = true
	t.order = append(t.order, key)
	for len(t.order) > processedCeiling {
		delete(t.processed, t.order[0])
		t.order = t.order[1:]
	}
}

// PendingCount reports open signals awaiting resolution.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Totals reports process-wide resolved counts.
func (t *Tracker) Totals() (wins, losses int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wins, t.losses
}

// GetStatus reports a diagnostic summary.
func (t *Tracker) GetStatus() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"pending":   len(t.pending),
		"wins":      t.wins,
		"losses":    t.losses,
		"processed": len(t.processed),
	}
}

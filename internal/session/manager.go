package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otc-signal-bot/internal/adaptive"
	"otc-signal-bot/internal/events"
	"otc-signal-bot/internal/logging"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/signal"
	"otc-signal-bot/internal/volatility"
)

const historyDepth = 300

// Feed is the slice of the upstream client the manager needs.
type Feed interface {
	SubscribeTicks(symbol, listenerID string) error
	UnsubscribeTicks(symbol, listenerID string) error
	FetchCandleHistory(ctx context.Context, symbol string, granularity int64, count int) ([]market.Candle, error)
}

// SignalHandler receives every post-filtered signal with its session
// snapshot.
type SignalHandler func(Session, signal.Result)

// Manager owns the session table and routes candle closes to the
// signal engine with at-most-once emission per (session, candle).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// In-flight Start reservations, so concurrent starts of the same id
	// or (chat, symbol, timeframe) fail while history is still loading.
	startingIDs   map[string]bool
	startingPairs map[string]bool

	feed       Feed
	aggregator *market.Aggregator
	engine     *signal.Engine
	vol        *volatility.Service
	thresholds *adaptive.Engine
	bus        *events.EventBus
	logger     *logging.Logger

	onSignal         SignalHandler
	signalsGenerated int64
}

// NewManager wires a session manager and registers its closed-candle
// handler on the aggregator.
func NewManager(feed Feed, aggregator *market.Aggregator, engine *signal.Engine, vol *volatility.Service, thresholds *adaptive.Engine, bus *events.EventBus, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		sessions:      make(map[string]*Session),
		startingIDs:   make(map[string]bool),
		startingPairs: make(map[string]bool),
		feed:          feed,
		aggregator:    aggregator,
		engine:        engine,
		vol:           vol,
		thresholds:    thresholds,
		bus:           bus,
		logger:        logger.WithComponent("session-manager"),
	}
	aggregator.OnClosed(m.handleClosed)
	return m
}

// SetSignalHandler installs the downstream consumer (tracker / UI).
func (m *Manager) SetSignalHandler(h SignalHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSignal = h
}

// Start creates and activates a session. It fails when the id exists
// or the chat already runs the same pair.
func (m *Manager) Start(ctx context.Context, id, chatID, symbol string, timeframe int64, prefs Preferences, opts signal.Options) (*Session, error) {
	if err := prefs.Validate(); err != nil {
		return nil, fmt.Errorf("start session %s: %w", id, err)
	}

	pair := fmt.Sprintf("%s/%s/%d", chatID, symbol, timeframe)

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists || m.startingIDs[id] {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already exists", id)
	}
	dup := m.startingPairs[pair]
	for _, s := range m.sessions {
		if s.IsActive() && s.ChatID == chatID && s.Symbol == symbol && s.Timeframe == timeframe {
			dup = true
			break
		}
	}
	if dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("chat %s already has an active %s/%d session", chatID, symbol, timeframe)
	}
	m.startingIDs[id] = true
	m.startingPairs[pair] = true
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.startingIDs, id)
		delete(m.startingPairs, pair)
		m.mu.Unlock()
	}

	history, err := m.feed.FetchCandleHistory(ctx, symbol, timeframe, historyDepth)
	if err != nil {
		release()
		return nil, fmt.Errorf("start session %s: %w", id, err)
	}
	if err := m.aggregator.Initialize(symbol, timeframe, history, historyDepth); err != nil {
		release()
		return nil, fmt.Errorf("start session %s: %w", id, err)
	}
	if err := m.feed.SubscribeTicks(symbol, id); err != nil {
		m.aggregator.Cleanup(symbol, timeframe)
		release()
		return nil, fmt.Errorf("start session %s: %w", id, err)
	}

	s := &Session{
		ID:          id,
		ChatID:      chatID,
		Symbol:      symbol,
		Timeframe:   timeframe,
		Status:      StatusActive,
		StartedAt:   time.Now(),
		Preferences: prefs,
		Options:     opts,
	}

	m.mu.Lock()
	delete(m.startingIDs, id)
	delete(m.startingPairs, pair)
	m.sessions[id] = s
	m.mu.Unlock()

	if m.vol != nil {
		m.vol.Update(symbol, history)
	}
	if m.bus != nil {
		m.bus.PublishSessionStarted(id, chatID, symbol, timeframe)
	}
	m.logger.Info("Session started", "session_id", id, "symbol", symbol, "timeframe", timeframe)
	return m.snapshot(id), nil
}

// Stop deactivates a session. Stopping twice, or stopping an unknown
// id, is a no-op.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive() {
		m.mu.Unlock()
		return
	}
	s.Status = StatusStopped
	symbol, timeframe := s.Symbol, s.Timeframe
	stats := s.Stats

	// Release the aggregator only when no other active session shares
	// the pair.
	shared := false
	for _, other := range m.sessions {
		if other.ID != id && other.IsActive() && other.Symbol == symbol && other.Timeframe == timeframe {
			shared = true
			break
		}
	}
	m.mu.Unlock()

	_ = m.feed.UnsubscribeTicks(symbol, id)
	if !shared {
		m.aggregator.Cleanup(symbol, timeframe)
	}
	if m.bus != nil {
		m.bus.PublishSessionStopped(id, "stopped by user", stats.Wins, stats.Losses, stats.TotalSignals)
	}
	m.logger.Info("Session stopped", "session_id", id)
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ByChat returns snapshots of every session owned by a chat.
func (m *Manager) ByChat(chatID string) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.ChatID == chatID {
			out = append(out, *s)
		}
	}
	return out
}

// Active returns snapshots of all active sessions.
func (m *Manager) Active() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.IsActive() {
			out = append(out, *s)
		}
	}
	return out
}

// HandleTick forwards a tick to the aggregator once per distinct
// timeframe among the symbol's active sessions.
func (m *Manager) HandleTick(t market.Tick) {
	m.mu.RLock()
	timeframes := make(map[int64]bool)
	for _, s := range m.sessions {
		if s.IsActive() && s.Symbol == t.Symbol {
			timeframes[s.Timeframe] = true
		}
	}
	m.mu.RUnlock()

	for tf := range timeframes {
		m.aggregator.ProcessTick(t, tf)
	}
}

// OnFeedReconnect re-hydrates every active session: history is
// refetched and the tick subscription re-established.
func (m *Manager) OnFeedReconnect(ctx context.Context) {
	for _, s := range m.Active() {
		history, err := m.feed.FetchCandleHistory(ctx, s.Symbol, s.Timeframe, historyDepth)
		if err != nil {
			m.logger.Error("Re-hydration failed", "session_id", s.ID, "error", err)
			continue
		}
		if err := m.aggregator.Initialize(s.Symbol, s.Timeframe, history, historyDepth); err != nil {
			m.logger.Error("Re-initialize failed", "session_id", s.ID, "error", err)
			continue
		}
		_ = m.feed.SubscribeTicks(s.Symbol, s.ID)
		m.logger.Info("Session re-hydrated", "session_id", s.ID, "candles", len(history))
	}
}

// handleClosed reacts to a closed candle: refresh the volatility
// cache, then emit at most one signal per (session, candle).
func (m *Manager) handleClosed(symbol string, timeframe int64, candle market.Candle) {
	closed := m.aggregator.GetClosed(symbol, timeframe)
	if m.vol != nil {
		m.vol.Update(symbol, closed)
	}

	m.mu.Lock()
	var due []*Session
	for _, s := range m.sessions {
		if !s.IsActive() || s.Symbol != symbol || s.Timeframe != timeframe {
			continue
		}
		if s.lastSignalCandle == candle.StartEpoch {
			continue // already signaled for this candle
		}
		s.lastSignalCandle = candle.StartEpoch
		due = append(due, s)
	}
	m.mu.Unlock()

	for _, s := range due {
		m.generateFor(s, closed, candle)
	}
}

func (m *Manager) generateFor(s *Session, closed []market.Candle, candle market.Candle) {
	var forming *market.Candle
	if f, ok := m.aggregator.GetForming(s.Symbol, s.Timeframe); ok {
		forming = &f
	}

	closeTime := candle.EndEpoch()
	res := m.engine.Generate(s.ID, s.Symbol, s.Timeframe, closed, forming, closeTime, s.Options)

	m.postFilter(s, &res, closed)

	m.mu.Lock()
	if res.Direction != signal.DirectionNoTrade {
		s.Stats.TotalSignals++
		s.LastSignalAt = res.Timestamp
		m.signalsGenerated++
	}
	snapshot := *s
	handler := m.onSignal
	m.mu.Unlock()

	if m.bus != nil && res.Direction != signal.DirectionNoTrade {
		m.bus.PublishSignal(res.SessionID, res.Symbol, res.Direction, res.Confidence, "")
	}
	if handler != nil {
		handler(snapshot, res)
	}
}

// postFilter applies the session-level gates after the engine has
// produced its result.
func (m *Manager) postFilter(s *Session, res *signal.Result, closed []market.Candle) {
	if res.Direction == signal.DirectionNoTrade {
		return
	}

	if noTrade, reason := volatility.ShouldNoTrade(s.Symbol, closed); noTrade {
		res.SuggestedDirection = res.Direction
		res.Direction = signal.DirectionNoTrade
		res.VolatilityOverride = true
		res.VolatilityReason = reason
		return
	}

	if !res.Regime.IsTradeable {
		res.SuggestedDirection = res.Direction
		res.Direction = signal.DirectionNoTrade
		res.VolatilityOverride = true
		res.VolatilityReason = res.Regime.Reason
		return
	}

	minConf := m.thresholds.MinConfidence()
	if s.Preferences.ConfidenceFilter > minConf {
		minConf = s.Preferences.ConfidenceFilter
	}
	if res.Confidence < minConf {
		res.SuggestedDirection = res.Direction
		res.Direction = signal.DirectionNoTrade
		res.IsLowConfidence = true
	}
}

// RecordOutcome folds a resolved trade into the session's stats.
func (m *Manager) RecordOutcome(sessionID string, won bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if won {
		s.Stats.Wins++
	} else {
		s.Stats.Losses++
	}
	if s.Stats.TotalSignals > 0 {
		s.Stats.WinRate = float64(s.Stats.Wins) / float64(s.Stats.TotalSignals) * 100
	}
}

// SignalsGenerated reports the process-wide count of directional
// signals.
func (m *Manager) SignalsGenerated() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signalsGenerated
}

// Count returns (total, active) session counts.
func (m *Manager) Count() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := 0
	for _, s := range m.sessions {
		if s.IsActive() {
			active++
		}
	}
	return len(m.sessions), active
}

// GetStatus reports a diagnostic summary.
func (m *Manager) GetStatus() map[string]interface{} {
	total, active := m.Count()
	return map[string]interface{}{
		"total_sessions":    total,
		"active_sessions":   active,
		"signals_generated": m.SignalsGenerated(),
	}
}

func (m *Manager) snapshot(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		snap := *s
		return &snap
	}
	return nil
}

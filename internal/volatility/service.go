package volatility

import (
	"sync"
	"time"

	"otc-signal-bot/internal/logging"
	"otc-signal-bot/internal/market"
)

// Service caches the latest per-symbol analysis. A single writer (the
// candle-close handler) refreshes it; API and tracker readers take
// snapshots.
type Service struct {
	mu         sync.RWMutex
	analyses   map[string]Analysis
	lastUpdate time.Time

	now    func() time.Time
	logger *logging.Logger
}

// NewService creates an empty cache.
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		analyses: make(map[string]Analysis),
		now:      time.Now,
		logger:   logger.WithComponent("volatility"),
	}
}

// Update re-scores a symbol from its latest candles and caches the
// result.
func (s *Service) Update(symbol string, candles []market.Candle) Analysis {
	a := Analyze(symbol, candles)

	s.mu.Lock()
	now := s.now()
	a.Timestamp = now.Unix()
	s.analyses[symbol] = a
	s.lastUpdate = now
	s.mu.Unlock()

	if a.IsVolatile {
		s.logger.Warn("Volatile market detected",
			"symbol", symbol, "score", a.VolatilityScore, "severity", a.Severity)
	}
	return a
}

// Get returns the cached analysis for a symbol.
func (s *Service) Get(symbol string) (Analysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[symbol]
	return a, ok
}

// All returns a snapshot of every cached analysis.
func (s *Service) All() []Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Analysis, 0, len(s.analyses))
	for _, a := range s.analyses {
		out = append(out, a)
	}
	return out
}

// LastUpdate reports when any symbol was last re-scored.
func (s *Service) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// GetStatus reports a diagnostic summary.
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	volatile := 0
	for _, a := range s.analyses {
		if a.IsVolatile {
			volatile++
		}
	}
	return map[string]interface{}{
		"symbols_tracked": len(s.analyses),
		"volatile_count":  volatile,
		"last_update":     s.lastUpdate.Unix(),
	}
}

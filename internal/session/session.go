package session

import (
	"fmt"
	"time"

	"otc-signal-bot/internal/signal"
)

// Session status values. Stopping is irreversible.
const (
	StatusActive  = "active"
	StatusStopped = "stopped"
)

// Preferences are the per-session user settings supplied by the UI
// layer.
type Preferences struct {
	Timezone         string  `json:"timezone"`
	ConfidenceFilter float64 `json:"confidence_filter"`
}

// Validate rejects unsupported preference values. A zero confidence
// filter means "no extra filtering".
func (p Preferences) Validate() error {
	switch p.ConfidenceFilter {
	case 0, 80, 90, 95:
		return nil
	default:
		return fmt.Errorf("confidence filter %v not in {80, 90, 95}", p.ConfidenceFilter)
	}
}

// Stats tracks resolved outcomes for one session.
type Stats struct {
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalSignals int     `json:"total_signals"`
}

// Session is one user's (symbol, timeframe) signal stream.
type Session struct {
	ID          string         `json:"id"`
	ChatID      string         `json:"chat_id"`
	Symbol      string         `json:"symbol"`
	Timeframe   int64          `json:"timeframe"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	LastSignalAt int64         `json:"last_signal_at,omitempty"`
	Preferences Preferences    `json:"preferences"`
	Options     signal.Options `json:"options"`
	Stats       Stats          `json:"stats"`

	// StartEpoch of the last candle a signal was generated for; the
	// exactly-once guard per (session, candle).
	lastSignalCandle int64
}

// IsActive reports whether the session still receives signals.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Session) pairKey() string {
	return fmt.Sprintf("%s@%d", s.Symbol, s.Timeframe)
}

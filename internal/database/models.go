package database

import (
	"time"

	"github.com/google/uuid"
)

// User is one chat-level account. Signals are only delivered after
// accepted_terms is set.
type User struct {
	ID               uuid.UUID `json:"id"`
	ChatID           string    `json:"chat_id"`
	FirstName        string    `json:"first_name"`
	AcceptedTerms    bool      `json:"accepted_terms"`
	Timezone         string    `json:"timezone"`
	ConfidenceFilter float64   `json:"confidence_filter"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SessionRecord mirrors a live session for history and restarts.
type SessionRecord struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    string     `json:"session_id"`
	ChatID       string     `json:"chat_id"`
	Symbol       string     `json:"symbol"`
	Timeframe    int64      `json:"timeframe"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	StoppedAt    *time.Time `json:"stopped_at,omitempty"`
	Wins         int        `json:"wins"`
	Losses       int        `json:"losses"`
	TotalSignals int        `json:"total_signals"`
}

// SignalLog is one emitted signal.
type SignalLog struct {
	ID                 uuid.UUID `json:"id"`
	SessionID          string    `json:"session_id"`
	Symbol             string    `json:"symbol"`
	Timeframe          int64     `json:"timeframe"`
	Direction          string    `json:"direction"`
	Confidence         float64   `json:"confidence"`
	PUp                float64   `json:"p_up"`
	QualityScore       float64   `json:"quality_score"`
	EntryPrice         float64   `json:"entry_price"`
	CandleCloseTime    int64     `json:"candle_close_time"`
	VolatilityOverride bool      `json:"volatility_override"`
	CreatedAt          time.Time `json:"created_at"`
}

// TradeResultLog is one resolved signal outcome.
type TradeResultLog struct {
	ID         uuid.UUID `json:"id"`
	SignalKey  string    `json:"signal_key"`
	SessionID  string    `json:"session_id"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Outcome    string    `json:"outcome"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// VolatilityRecord is one volatility snapshot for a symbol.
type VolatilityRecord struct {
	ID         uuid.UUID `json:"id"`
	Symbol     string    `json:"symbol"`
	Score      float64   `json:"score"`
	Severity   string    `json:"severity"`
	IsStable   bool      `json:"is_stable"`
	RecordedAt time.Time `json:"recorded_at"`
}

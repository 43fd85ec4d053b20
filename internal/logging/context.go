package logging

import (
	"context"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext retrieves the logger from context, falling back to the
// default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context carrying the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// SignalContext creates a logger scoped to one emitted signal
func SignalContext(symbol, direction string, confidence float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"direction":  direction,
		"confidence": confidence,
	}).WithComponent("signal")
}

// FeedContext creates a logger scoped to one feed subscription
func FeedContext(symbol string) *Logger {
	return Default().WithField("symbol", symbol).WithComponent("feed")
}

// TradeContext creates a logger scoped to one pending trade
func TradeContext(signalID, symbol, direction string, entryPrice float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"signal_id":   signalID,
		"symbol":      symbol,
		"direction":   direction,
		"entry_price": entryPrice,
	}).WithComponent("tracker")
}

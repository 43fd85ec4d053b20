package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"otc-signal-bot/internal/events"
	"otc-signal-bot/internal/logging"
	"otc-signal-bot/internal/market"
)

const (
	requestTimeout    = 30 * time.Second
	pingInterval      = 30 * time.Second
	reconnectBase     = 5 * time.Second
	reconnectCap      = 25 * time.Second
	maxReconnects     = 10
	defaultHistoryLen = 300
)

// TickHandler receives every tick from the wire, in arrival order.
type TickHandler func(market.Tick)

// Client is the upstream market-data connection. Tick subscriptions
// are multiplexed: the first listener for a symbol opens the wire
// subscription, the last one releases it.
type Client struct {
	mu sync.RWMutex

	url   string
	token string

	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	running   bool
	stopChan  chan struct{}

	// symbol -> listener ids sharing the wire subscription
	subscribers map[string]map[string]bool

	pending   map[int64]chan json.RawMessage
	nextReqID int64

	tickHandler TickHandler
	reconnects  int

	bus    *events.EventBus
	logger *logging.Logger
	dialer *websocket.Dialer
}

// NewClient creates a disconnected feed client.
func NewClient(url, token string, bus *events.EventBus, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		url:         url,
		token:       token,
		subscribers: make(map[string]map[string]bool),
		pending:     make(map[int64]chan json.RawMessage),
		stopChan:    make(chan struct{}),
		bus:         bus,
		logger:      logger.WithComponent("feed"),
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// SetTickHandler installs the tick callback. Must be set before
// Connect.
func (c *Client) SetTickHandler(h TickHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickHandler = h
}

// Connect dials the feed and starts the read and keep-alive loops.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.mu.Unlock()

	if err := c.dial(); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	go c.pingLoop()
	return nil
}

func (c *Client) dial() error {
	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("feed dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.reconnects = 0
	c.mu.Unlock()

	if c.token != "" {
		_ = c.send(map[string]interface{}{"authorize": c.token})
	}

	go c.readLoop(conn)

	c.logger.Info("Feed connected", "url", c.url)
	if c.bus != nil {
		c.bus.PublishFeedConnected(c.url)
	}
	c.resubscribeAll()
	return nil
}

// Close tears the connection down permanently.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.connected = false
	close(c.stopChan)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Info("Feed closed")
}

// IsConnected reports the live wire state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SubscribeTicks registers a listener for a symbol. Only the first
// listener sends the wire subscription.
func (c *Client) SubscribeTicks(symbol, listenerID string) error {
	c.mu.Lock()
	listeners, exists := c.subscribers[symbol]
	if !exists {
		listeners = make(map[string]bool)
		c.subscribers[symbol] = listeners
	}
	listeners[listenerID] = true
	first := len(listeners) == 1
	connected := c.connected
	c.mu.Unlock()

	if first && connected {
		return c.send(map[string]interface{}{"ticks": symbol, "subscribe": 1})
	}
	return nil
}

// UnsubscribeTicks removes a listener; the last one releases the wire
// subscription.
func (c *Client) UnsubscribeTicks(symbol, listenerID string) error {
	c.mu.Lock()
	listeners, exists := c.subscribers[symbol]
	if exists {
		delete(listeners, listenerID)
		if len(listeners) == 0 {
			delete(c.subscribers, symbol)
		}
	}
	last := exists && len(listeners) == 0
	connected := c.connected
	c.mu.Unlock()

	if last && connected {
		return c.send(map[string]interface{}{"forget_ticks": symbol})
	}
	return nil
}

// SubscriberCount reports how many listeners share a symbol.
func (c *Client) SubscriberCount(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers[symbol])
}

// FetchCandleHistory requests historical candles. The response is
// sorted ascending and contains no forming candle.
func (c *Client) FetchCandleHistory(ctx context.Context, symbol string, granularity int64, count int) ([]market.Candle, error) {
	if count <= 0 {
		count = defaultHistoryLen
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("fetch history for %s: feed not connected", symbol)
	}
	c.nextReqID++
	reqID := c.nextReqID
	ch := make(chan json.RawMessage, 1)
	c.pending[reqID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	err := c.send(map[string]interface{}{
		"ticks_history": symbol,
		"style":         "candles",
		"granularity":   granularity,
		"count":         count,
		"end":           "latest",
		"req_id":        reqID,
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case raw := <-ch:
		return parseHistory(symbol, granularity, raw)
	case <-timer.C:
		return nil, fmt.Errorf("fetch history for %s: request timed out", symbol)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type wireCandle struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

func parseHistory(symbol string, granularity int64, raw json.RawMessage) ([]market.Candle, error) {
	var msg struct {
		Candles []wireCandle `json:"candles"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("parse history for %s: %w", symbol, err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("fetch history for %s: %s", symbol, msg.Error.Message)
	}

	out := make([]market.Candle, 0, len(msg.Candles))
	for _, wc := range msg.Candles {
		out = append(out, market.Candle{
			Symbol:     symbol,
			Timeframe:  granularity,
			Open:       wc.Open,
			High:       wc.High,
			Low:        wc.Low,
			Close:      wc.Close,
			StartEpoch: wc.Epoch,
		})
	}
	return out, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg struct {
		ReqID int64 `json:"req_id"`
		Tick  *struct {
			Symbol string  `json:"symbol"`
			Quote  float64 `json:"quote"`
			Epoch  int64   `json:"epoch"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Unparseable feed message", "error", err)
		return
	}

	if msg.ReqID != 0 {
		c.mu.RLock()
		ch, ok := c.pending[msg.ReqID]
		c.mu.RUnlock()
		if ok {
			select {
			case ch <- json.RawMessage(data):
			default:
			}
		}
		return
	}

	if msg.Tick != nil {
		c.mu.RLock()
		handler := c.tickHandler
		c.mu.RUnlock()
		if handler != nil {
			handler(market.Tick{
				Symbol: msg.Tick.Symbol,
				Price:  msg.Tick.Quote,
				Epoch:  msg.Tick.Epoch,
			})
		}
	}
}

// handleDisconnect runs the reconnect ladder: backoff grows with the
// attempt count, capped, and gives up after ten tries.
func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	c.logger.Warn("Feed disconnected", "error", cause)
	if c.bus != nil {
		c.bus.PublishFeedDisconnected(c.url, cause)
	}

	for {
		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			return
		}
		c.reconnects++
		attempt := c.reconnects
		c.mu.Unlock()

		if attempt > maxReconnects {
			c.logger.Error("Feed reconnect attempts exhausted", "attempts", maxReconnects)
			if c.bus != nil {
				c.bus.PublishError("feed", "reconnect attempts exhausted", cause)
			}
			c.Close()
			return
		}

		delay := reconnectBase * time.Duration(attempt)
		if delay > reconnectCap {
			delay = reconnectCap
		}
		c.logger.Info("Reconnecting to feed", "attempt", attempt, "delay", delay.String())

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		return
	}
}

// resubscribeAll replays the desired subscription state after a
// connect or reconnect.
func (c *Client) resubscribeAll() {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.subscribers))
	for symbol := range c.subscribers {
		symbols = append(symbols, symbol)
	}
	c.mu.RUnlock()

	for _, symbol := range symbols {
		if err := c.send(map[string]interface{}{"ticks": symbol, "subscribe": 1}); err != nil {
			c.logger.Warn("Resubscribe failed", "symbol", symbol, "error", err)
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.IsConnected() {
				_ = c.send(map[string]interface{}{"ping": 1})
			}
		case <-c.stopChan:
			return
		}
	}
}

func (c *Client) send(payload map[string]interface{}) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("feed not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

// GetStatus reports a diagnostic summary.
func (c *Client) GetStatus() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"connected":   c.connected,
		"symbols":     len(c.subscribers),
		"reconnects":  c.reconnects,
		"pending_rpc": len(c.pending),
	}
}

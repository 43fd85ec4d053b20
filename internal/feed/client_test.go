package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"otc-signal-bot/internal/market"
)

// echoFeedServer upgrades the connection and answers history requests
// with a fixed candle set; every other request is ignored.
func echoFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req map[string]interface{}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			if _, ok := req["ticks_history"]; ok {
				reqID := int64(req["req_id"].(float64))
				resp := map[string]interface{}{
					"req_id": reqID,
					"candles": []map[string]interface{}{
						{"epoch": 1000, "open": 1.0, "high": 1.2, "low": 0.9, "close": 1.1},
						{"epoch": 1060, "open": 1.1, "high": 1.3, "low": 1.0, "close": 1.2},
						{"epoch": 1120, "open": 1.2, "high": 1.4, "low": 1.1, "close": 1.3},
					},
				}
				_ = conn.WriteJSON(resp)
			}

			if symbol, ok := req["ticks"]; ok {
				_ = conn.WriteJSON(map[string]interface{}{
					"tick": map[string]interface{}{
						"symbol": symbol, "quote": 1.2345, "epoch": 2000,
					},
				})
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestSubscriptionMultiplexing(t *testing.T) {
	c := NewClient("ws://unused", "", nil, nil)

	if err := c.SubscribeTicks("R_50", "session-a"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.SubscribeTicks("R_50", "session-b"); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if got := c.SubscriberCount("R_50"); got != 2 {
		t.Errorf("subscriber count = %d, want 2", got)
	}

	if err := c.UnsubscribeTicks("R_50", "session-a"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if got := c.SubscriberCount("R_50"); got != 1 {
		t.Errorf("subscriber count after one unsubscribe = %d, want 1", got)
	}
	if err := c.UnsubscribeTicks("R_50", "session-b"); err != nil {
		t.Fatalf("last unsubscribe: %v", err)
	}
	if got := c.SubscriberCount("R_50"); got != 0 {
		t.Errorf("subscriber count after release = %d, want 0", got)
	}

	// Unsubscribing an unknown listener is a no-op.
	if err := c.UnsubscribeTicks("R_50", "ghost"); err != nil {
		t.Errorf("ghost unsubscribe errored: %v", err)
	}
}

func TestFetchCandleHistory(t *testing.T) {
	srv := echoFeedServer(t)
	defer srv.Close()

	c := NewClient(wsURL(srv), "", nil, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	candles, err := c.FetchCandleHistory(context.Background(), "R_50", 60, 3)
	if err != nil {
		t.Fatalf("fetch history: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles, want 3", len(candles))
	}
	for i, want := range []int64{1000, 1060, 1120} {
		if candles[i].StartEpoch != want {
			t.Errorf("candle %d epoch = %d, want %d", i, candles[i].StartEpoch, want)
		}
		if candles[i].Symbol != "R_50" || candles[i].Timeframe != 60 {
			t.Errorf("candle %d identity = %s/%d", i, candles[i].Symbol, candles[i].Timeframe)
		}
		if candles[i].IsForming {
			t.Errorf("history candle %d marked forming", i)
		}
	}
}

func TestTickDelivery(t *testing.T) {
	srv := echoFeedServer(t)
	defer srv.Close()

	ticks := make(chan market.Tick, 1)
	c := NewClient(wsURL(srv), "", nil, nil)
	c.SetTickHandler(func(tk market.Tick) {
		select {
		case ticks <- tk:
		default:
		}
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.SubscribeTicks("R_50", "session-a"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case tk := <-ticks:
		if tk.Symbol != "R_50" || tk.Price != 1.2345 || tk.Epoch != 2000 {
			t.Errorf("tick = %+v", tk)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no tick delivered")
	}
}

func TestParseHistoryError(t *testing.T) {
	raw := json.RawMessage(`{"error":{"message":"unknown symbol"}}`)
	if _, err := parseHistory("BAD", 60, raw); err == nil {
		t.Fatal("error payload did not surface")
	}
}

func TestFetchRequiresConnection(t *testing.T) {
	c := NewClient("ws://unused", "", nil, nil)
	if _, err := c.FetchCandleHistory(context.Background(), "R_50", 60, 10); err == nil {
		t.Fatal("disconnected fetch should error")
	}
}

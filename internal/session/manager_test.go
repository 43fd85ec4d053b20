package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"otc-signal-bot/internal/adaptive"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/ml"
	"otc-signal-bot/internal/regime"
	"otc-signal-bot/internal/signal"
	"otc-signal-bot/internal/volatility"
)

// fakeFeed serves canned history and records subscriptions.
type fakeFeed struct {
	mu       sync.Mutex
	history  []market.Candle
	fetchErr error
	subs     map[string]int
}

func newFakeFeed(history []market.Candle) *fakeFeed {
	return &fakeFeed{history: history, subs: make(map[string]int)}
}

func (f *fakeFeed) SubscribeTicks(symbol, listenerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[symbol]++
	return nil
}

func (f *fakeFeed) UnsubscribeTicks(symbol, listenerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[symbol]--
	return nil
}

func (f *fakeFeed) FetchCandleHistory(_ context.Context, symbol string, granularity int64, count int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.history, nil
}

// gatedFeed blocks FetchCandleHistory until released, holding a Start
// call mid-flight.
type gatedFeed struct {
	fakeFeed
	entered chan struct{}
	release chan struct{}
}

func (f *gatedFeed) FetchCandleHistory(ctx context.Context, symbol string, granularity int64, count int) ([]market.Candle, error) {
	f.entered <- struct{}{}
	<-f.release
	return f.fakeFeed.FetchCandleHistory(ctx, symbol, granularity, count)
}

func quietHistory(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := range out {
		step := 0.3
		if i%5 == 4 {
			step = -0.6
		}
		next := price + step
		hi, lo := price, next
		if next > price {
			hi, lo = next, price
		}
		out[i] = market.Candle{
			Symbol: "R_50", Open: price, Close: next,
			High: hi + 0.1, Low: lo - 0.1,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		}
		price = next
	}
	return out
}

func testManager(feed Feed) *Manager {
	engine := signal.NewEngine(ml.NewEnsemble(1, nil), adaptive.NewEngine(nil), nil)
	return NewManager(feed, market.NewAggregator(nil), engine, volatility.NewService(nil), adaptive.NewEngine(nil), nil, nil)
}

func TestStartRejectsDuplicates(t *testing.T) {
	feed := newFakeFeed(quietHistory(60))
	m := testManager(feed)
	ctx := context.Background()

	if _, err := m.Start(ctx, "s1", "chat1", "R_50", 60, Preferences{}, signal.Options{}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := m.Start(ctx, "s1", "chat2", "R_25", 120, Preferences{}, signal.Options{}); err == nil {
		t.Error("duplicate session id accepted")
	}
	if _, err := m.Start(ctx, "s2", "chat1", "R_50", 60, Preferences{}, signal.Options{}); err == nil {
		t.Error("duplicate (chat, symbol, timeframe) accepted")
	}
	if _, err := m.Start(ctx, "s3", "chat1", "R_50", 120, Preferences{}, signal.Options{}); err != nil {
		t.Errorf("same pair at a different timeframe rejected: %v", err)
	}
}

// TestStartRejectsConcurrentDuplicates holds one Start inside the
// history fetch and races a second Start for the same pair and the same
// id; both must fail while the first is still in flight.
func TestStartRejectsConcurrentDuplicates(t *testing.T) {
	feed := &gatedFeed{
		fakeFeed: fakeFeed{history: quietHistory(60), subs: make(map[string]int)},
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	m := testManager(feed)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Start(ctx, "s1", "chat1", "R_50", 60, Preferences{}, signal.Options{})
		errCh <- err
	}()
	<-feed.entered // first Start is now blocked in the fetch

	if _, err := m.Start(ctx, "s2", "chat1", "R_50", 60, Preferences{}, signal.Options{}); err == nil {
		t.Error("concurrent duplicate (chat, symbol, timeframe) accepted")
	}
	if _, err := m.Start(ctx, "s1", "chat2", "R_25", 120, Preferences{}, signal.Options{}); err == nil {
		t.Error("concurrent duplicate id accepted")
	}

	close(feed.release)
	if err := <-errCh; err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, active := m.Count(); active != 1 {
		t.Errorf("active sessions = %d, want 1", active)
	}
}

func TestStartValidatesPreferences(t *testing.T) {
	m := testManager(newFakeFeed(quietHistory(60)))
	_, err := m.Start(context.Background(), "s1", "c1", "R_50", 60,
		Preferences{ConfidenceFilter: 85}, signal.Options{})
	if err == nil {
		t.Error("confidence filter outside {80,90,95} accepted")
	}
}

func TestStartSurfacesHistoryFailure(t *testing.T) {
	feed := newFakeFeed(nil)
	feed.fetchErr = errors.New("boom")
	m := testManager(feed)

	if _, err := m.Start(context.Background(), "s1", "c1", "R_50", 60, Preferences{}, signal.Options{}); err == nil {
		t.Error("history fetch failure not surfaced")
	}
	if total, _ := m.Count(); total != 0 {
		t.Error("failed start left a session behind")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	feed := newFakeFeed(quietHistory(60))
	m := testManager(feed)

	if _, err := m.Start(context.Background(), "s1", "c1", "R_50", 60, Preferences{}, signal.Options{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.Stop("s1")
	m.Stop("s1") // duplicate stop is a no-op
	m.Stop("ghost")

	s, ok := m.Get("s1")
	if !ok || s.Status != StatusStopped {
		t.Errorf("session status = %q", s.Status)
	}
	if feed.subs["R_50"] != 0 {
		t.Errorf("tick subscription not released: %d", feed.subs["R_50"])
	}
	if m.aggregator.ActivePairs() != 0 {
		t.Error("aggregator state not cleaned up")
	}
}

func TestStopKeepsSharedAggregator(t *testing.T) {
	feed := newFakeFeed(quietHistory(60))
	m := testManager(feed)
	ctx := context.Background()

	m.Start(ctx, "s1", "c1", "R_50", 60, Preferences{}, signal.Options{})
	m.Start(ctx, "s2", "c2", "R_50", 60, Preferences{}, signal.Options{})

	m.Stop("s1")
	if m.aggregator.ActivePairs() != 1 {
		t.Error("shared aggregator pair released while still in use")
	}
}

// TestExactlyOnceSignalPerCandle replays the same closed event twice
// and expects a single emission.
func TestExactlyOnceSignalPerCandle(t *testing.T) {
	feed := newFakeFeed(quietHistory(60))
	m := testManager(feed)

	var mu sync.Mutex
	calls := 0
	m.SetSignalHandler(func(_ Session, _ signal.Result) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if _, err := m.Start(context.Background(), "s1", "c1", "R_50", 60, Preferences{}, signal.Options{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	closedCandle := market.Candle{
		Symbol: "R_50", Timeframe: 60, StartEpoch: 3600,
		Open: 112, High: 112.5, Low: 111.9, Close: 112.4, TickCount: 9,
	}
	m.handleClosed("R_50", 60, closedCandle)
	m.handleClosed("R_50", 60, closedCandle)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("signal handler called %d times, want exactly 1", calls)
	}
}

func TestHandleTickRoutesToAggregator(t *testing.T) {
	feed := newFakeFeed(quietHistory(60))
	m := testManager(feed)

	if _, err := m.Start(context.Background(), "s1", "c1", "R_50", 60, Preferences{}, signal.Options{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.HandleTick(market.Tick{Symbol: "R_50", Price: 113, Epoch: 3600})
	if _, ok := m.aggregator.GetForming("R_50", 60); !ok {
		t.Error("tick did not reach the aggregator")
	}

	// Ticks for symbols without sessions go nowhere.
	m.HandleTick(market.Tick{Symbol: "R_999", Price: 1, Epoch: 3600})
	if m.aggregator.ActivePairs() != 1 {
		t.Error("unexpected aggregator pair created")
	}
}

func TestPostFilterLowConfidence(t *testing.T) {
	m := testManager(newFakeFeed(quietHistory(60)))
	s := &Session{ID: "s1", Symbol: "R_50", Timeframe: 60, Status: StatusActive}

	res := signal.Result{
		Direction:  signal.DirectionCall,
		Confidence: 60, // below the base 72 floor
		Regime:     regime.Assessment{Regime: regime.TrendingUp, IsTradeable: true},
	}
	m.postFilter(s, &res, quietHistory(60))

	if res.Direction != signal.DirectionNoTrade {
		t.Errorf("direction = %s, want NO_TRADE", res.Direction)
	}
	if !res.IsLowConfidence || res.SuggestedDirection != signal.DirectionCall {
		t.Errorf("low-confidence flags wrong: %+v", res)
	}
}

func TestPostFilterRegimeVeto(t *testing.T) {
	m := testManager(newFakeFeed(quietHistory(60)))
	s := &Session{ID: "s1", Symbol: "R_50", Timeframe: 60, Status: StatusActive}

	res := signal.Result{
		Direction:  signal.DirectionPut,
		Confidence: 90,
		Regime:     regime.Assessment{Regime: regime.Choppy, IsTradeable: false, Reason: "choppy price action"},
	}
	m.postFilter(s, &res, quietHistory(60))

	if res.Direction != signal.DirectionNoTrade || !res.VolatilityOverride {
		t.Errorf("regime veto not applied: %+v", res)
	}
}

func TestRecordOutcomeStats(t *testing.T) {
	feed := newFakeFeed(quietHistory(60))
	m := testManager(feed)

	if _, err := m.Start(context.Background(), "s1", "c1", "R_50", 60, Preferences{}, signal.Options{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.mu.Lock()
	m.sessions["s1"].Stats.TotalSignals = 1
	m.mu.Unlock()

	m.RecordOutcome("s1", true)
	m.RecordOutcome("ghost", true) // unknown session is a no-op

	s, _ := m.Get("s1")
	if s.Stats.Wins != 1 || s.Stats.Losses != 0 || s.Stats.WinRate != 100 || s.Stats.TotalSignals != 1 {
		t.Errorf("stats = %+v, want {1 0 100 1}", s.Stats)
	}
}

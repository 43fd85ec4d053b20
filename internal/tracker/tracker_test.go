package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"otc-signal-bot/internal/adaptive"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/ml"
	"otc-signal-bot/internal/session"
	"otc-signal-bot/internal/signal"
	"otc-signal-bot/internal/volatility"
)

type fakeHub struct {
	mu     sync.Mutex
	calls  []string
	wins   int
	active []session.Session
}

func (f *fakeHub) RecordOutcome(sessionID string, won bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionID)
	if won {
		f.wins++
	}
}

func (f *fakeHub) Active() []session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func testTracker(hub SessionHub, vol *volatility.Service) *Tracker {
	return NewTracker(ml.NewEnsemble(1, nil), adaptive.NewEngine(nil), hub, vol, nil, nil)
}

func trackedSession(id, symbol string, timeframe int64) session.Session {
	return session.Session{ID: id, ChatID: "c1", Symbol: symbol, Timeframe: timeframe}
}

func directionalResult(sessionID, symbol, direction string, entry float64, closeTime, timeframe int64) signal.Result {
	return signal.Result{
		SessionID:       sessionID,
		Symbol:          symbol,
		Timeframe:       timeframe,
		Timestamp:       closeTime,
		CandleCloseTime: closeTime,
		Direction:       direction,
		Confidence:      78,
		EntryPrice:      entry,
	}
}

func TestHandleIgnoresNoTrade(t *testing.T) {
	tr := testTracker(&fakeHub{}, nil)
	tr.Handle(session.Session{}, signal.Result{Direction: signal.DirectionNoTrade})
	if tr.PendingCount() != 0 {
		t.Errorf("NO_TRADE result was enqueued")
	}
}

// TestHandleDropsMismatchedSession covers signals routed to the wrong
// session: a symbol or timeframe mismatch is dropped, not tracked.
func TestHandleDropsMismatchedSession(t *testing.T) {
	tr := testTracker(&fakeHub{}, nil)

	tr.Handle(trackedSession("s1", "R_25", 60),
		directionalResult("s1", "R_50", signal.DirectionCall, 1.25, 1900, 60))
	tr.Handle(trackedSession("s1", "R_50", 120),
		directionalResult("s1", "R_50", signal.DirectionCall, 1.25, 1900, 60))

	if tr.PendingCount() != 0 {
		t.Errorf("mismatched signal enqueued, pending = %d", tr.PendingCount())
	}
}

// TestCallWinResolvedExactlyOnce covers the end-to-end win path: a CALL
// at 1.2500 expiring with the price at 1.2510 settles as a WIN, and a
// second resolve pass does not settle it again.
func TestCallWinResolvedExactlyOnce(t *testing.T) {
	sink := &fakeHub{}
	tr := testTracker(sink, nil)
	tr.now = func() time.Time { return time.Unix(2000, 0) }

	res := directionalResult("s1", "R_50", signal.DirectionCall, 1.2500, 1900, 60)
	tr.Handle(trackedSession("s1", "R_50", 60), res)
	tr.UpdatePrice(market.Tick{Symbol: "R_50", Price: 1.2510, Epoch: 1960})

	tr.resolveDue()
	tr.resolveDue()
	tr.Handle(trackedSession("s1", "R_50", 60), res) // replay of the settled key

	sink.mu.Lock()
	calls, wins := len(sink.calls), sink.wins
	sink.mu.Unlock()
	if calls != 1 || wins != 1 {
		t.Errorf("sink saw %d calls (%d wins), want exactly 1 win", calls, wins)
	}
	if w, l := tr.Totals(); w != 1 || l != 0 {
		t.Errorf("totals = (%d, %d), want (1, 0)", w, l)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("settled signal still pending")
	}
}

func TestPutWinAndTieLoses(t *testing.T) {
	sink := &fakeHub{}
	tr := testTracker(sink, nil)
	tr.now = func() time.Time { return time.Unix(2000, 0) }

	tr.Handle(trackedSession("s1", "R_50", 60), directionalResult("s1", "R_50", signal.DirectionPut, 1.2500, 1900, 60))
	tr.Handle(trackedSession("s2", "R_25", 60), directionalResult("s2", "R_25", signal.DirectionCall, 2.0, 1900, 60))

	tr.UpdatePrice(market.Tick{Symbol: "R_50", Price: 1.2490, Epoch: 1960})
	tr.UpdatePrice(market.Tick{Symbol: "R_25", Price: 2.0, Epoch: 1960}) // exact tie
	tr.resolveDue()

	if w, l := tr.Totals(); w != 1 || l != 1 {
		t.Errorf("totals = (%d, %d), want PUT win and tie loss", w, l)
	}
}

// TestResolveOrderFollowsExpiry settles a batch of due signals in one
// poll cycle and expects the outcomes in ascending expiry order.
func TestResolveOrderFollowsExpiry(t *testing.T) {
	sink := &fakeHub{}
	tr := testTracker(sink, nil)
	tr.now = func() time.Time { return time.Unix(10000, 0) }

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("s%02d", i)
		// closeTime rises by 10 per signal, so expiry does too.
		tr.Handle(trackedSession(id, "R_50", 60),
			directionalResult(id, "R_50", signal.DirectionCall, 1.25, int64(1000+i*10), 60))
	}
	tr.UpdatePrice(market.Tick{Symbol: "R_50", Price: 1.26, Epoch: 2000})

	tr.resolveDue()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.calls) != 10 {
		t.Fatalf("resolved %d signals, want 10", len(sink.calls))
	}
	for i, id := range sink.calls {
		if want := fmt.Sprintf("s%02d", i); id != want {
			t.Fatalf("resolution order %v not ascending by expiry", sink.calls)
		}
	}
}

func TestNotDueBeforeExpiry(t *testing.T) {
	tr := testTracker(&fakeHub{}, nil)
	tr.now = func() time.Time { return time.Unix(1950, 0) } // expiry is 1960

	tr.Handle(trackedSession("s1", "R_50", 60), directionalResult("s1", "R_50", signal.DirectionCall, 1.25, 1900, 60))
	tr.resolveDue()

	if tr.PendingCount() != 1 {
		t.Errorf("signal settled before its expiry epoch")
	}
}

func TestMissingExitPriceSkips(t *testing.T) {
	sink := &fakeHub{}
	tr := testTracker(sink, nil)
	tr.now = func() time.Time { return time.Unix(2000, 0) }

	tr.Handle(trackedSession("s1", "R_50", 60), directionalResult("s1", "R_50", signal.DirectionCall, 1.25, 1900, 60))
	tr.resolveDue()

	if tr.PendingCount() != 0 {
		t.Errorf("unresolvable signal re-enqueued")
	}
	if w, l := tr.Totals(); w != 0 || l != 0 {
		t.Errorf("outcome recorded without an exit price: (%d, %d)", w, l)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.calls) != 0 {
		t.Errorf("sink notified without an exit price")
	}
}

func TestProcessedSetBounded(t *testing.T) {
	tr := testTracker(nil, nil)
	tr.mu.Lock()
	for i := 0; i < processedCeiling+50; i++ {
		tr.markProcessedLocked(fmt.Sprintf("k%d", i))
	}
	size := len(tr.processed)
	oldest := tr.processed["k0"]
	newest := tr.processed[fmt.Sprintf("k%d", processedCeiling+49)]
	tr.mu.Unlock()

	if size != processedCeiling {
		t.Errorf("processed set size = %d, want %d", size, processedCeiling)
	}
	if oldest || !newest {
		t.Errorf("eviction order wrong: oldest=%v newest=%v", oldest, newest)
	}
}

// volatileCandles produces a series whose tail ranges dwarf the quiet
// head, pushing the volatility score past the warning bar.
func volatileCandles() []market.Candle {
	out := make([]market.Candle, 0, 15)
	price := 100.0
	for i := 0; i < 10; i++ {
		out = append(out, market.Candle{
			Symbol: "R_50", Open: price, Close: price + 0.5,
			High: price + 0.5, Low: price,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		})
		price += 0.5
	}
	for i := 10; i < 15; i++ {
		out = append(out, market.Candle{
			Symbol: "R_50", Open: price, Close: price + 2.0,
			High: price + 2.0, Low: price,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		})
		price += 2.0
	}
	return out
}

// TestVolatilityWarningCooldownAndCap drives the re-check loop against
// a volatile symbol. Warnings are keyed by session, so they fire even
// with no open signal, respect the cooldown, cap per session, and the
// counters are pruned once the session is gone.
func TestVolatilityWarningCooldownAndCap(t *testing.T) {
	vol := volatility.NewService(nil)
	a := vol.Update("R_50", volatileCandles())
	if a.VolatilityScore <= warningScoreBar || a.IsStable {
		t.Fatalf("fixture not volatile enough: %+v", a)
	}

	hub := &fakeHub{active: []session.Session{trackedSession("s1", "R_50", 60)}}
	tr := testTracker(hub, vol)
	base := time.Unix(1000, 0)
	now := base
	tr.now = func() time.Time { return now }

	warned := func() int {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.warned["s1"]
	}

	// No pending signal exists; the session is warned regardless.
	tr.checkVolatility()
	tr.checkVolatility() // inside the cooldown window
	if got := warned(); got != 1 {
		t.Errorf("warnings after cooldown-gated pass = %d, want 1", got)
	}

	for i := 1; i <= 5; i++ {
		now = base.Add(time.Duration(i) * 61 * time.Second)
		tr.checkVolatility()
	}
	if got := warned(); got != maxWarnings {
		t.Errorf("warnings = %d, want cap %d", got, maxWarnings)
	}

	// A stopped session's counters do not linger.
	hub.mu.Lock()
	hub.active = nil
	hub.mu.Unlock()
	tr.checkVolatility()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.warned) != 0 || len(tr.lastWarn) != 0 {
		t.Errorf("warning counters not pruned: %v", tr.warned)
	}
}

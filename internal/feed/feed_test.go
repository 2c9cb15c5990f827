package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/models"
)

type collector struct {
	mu     sync.Mutex
	events []models.MarketEvent
}

func (c *collector) Route(_ context.Context, ev *models.MarketEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *ev)
	return nil
}

func (c *collector) snapshot() []models.MarketEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.MarketEvent(nil), c.events...)
}

func TestReplayDeterministic(t *testing.T) {
	subs := map[string][]string{"binance": {"BTCUSDT", "ETHUSDT"}}

	run := func() []models.MarketEvent {
		sink := &collector{}
		f := NewReplay(42, 100, 0, subs, sink, nil)
		if err := f.Run(context.Background()); err != nil {
			t.Fatalf("replay run failed: %v", err)
		}
		return sink.snapshot()
	}

	first := run()
	second := run()
	if len(first) != 100 || len(second) != 100 {
		t.Fatalf("event counts %d/%d, want 100", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("event %d differs between runs:\n%+v\n%+v", i, first[i], second[i])
		}
	}
}

func TestReplayEventsAreValid(t *testing.T) {
	sink := &collector{}
	f := NewReplay(7, 200, 0, map[string][]string{"binance": {"BTCUSDT"}}, sink, nil)
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("replay run failed: %v", err)
	}
	var trades, books int
	for i := range sink.events {
		ev := sink.events[i]
		if err := ev.Validate(); err != nil {
			t.Fatalf("replay produced invalid event %d: %v", i, err)
		}
		switch ev.Kind {
		case models.EventKindTrade:
			trades++
		case models.EventKindBookTop:
			books++
		}
	}
	if trades == 0 || books == 0 {
		t.Fatalf("stream lacks variety: %d trades, %d book tops", trades, books)
	}
}

func TestReplayRotatesKeys(t *testing.T) {
	sink := &collector{}
	subs := map[string][]string{"binance": {"BTCUSDT"}, "coinbase": {"BTC-USD"}}
	f := NewReplay(1, 4, 0, subs, sink, nil)
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("replay run failed: %v", err)
	}
	keys := make(map[string]int)
	for i := range sink.events {
		keys[sink.events[i].Key()]++
	}
	if keys["binance:BTCUSDT"] != 2 || keys["coinbase:BTC-USD"] != 2 {
		t.Fatalf("keys not rotated evenly: %v", keys)
	}
}

func TestReplayStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewReplay(1, 1_000_000, 0, nil, &collector{}, nil)
	if err := f.Run(ctx); err == nil {
		t.Fatalf("cancelled replay returned nil")
	}
}

func serveEvents(t *testing.T, events []models.MarketEvent) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := range events {
			if err := conn.WriteJSON(&events[i]); err != nil {
				return
			}
		}
		// Hold the connection so the client does not immediately
		// reconnect and replay the fixture.
		time.Sleep(2 * time.Second)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, sink *collector, n int) []models.MarketEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := sink.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(sink.snapshot()))
	return nil
}

func TestWebSocketFeedDelivers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fixture := []models.MarketEvent{
		{Exchange: "binance", Symbol: "BTCUSDT", Kind: models.EventKindTrade, Price: 100, Volume: 1, EventTime: now},
		{Exchange: "binance", Symbol: "BTCUSDT", Kind: models.EventKindTrade, Price: 101, Volume: 2, EventTime: now.Add(time.Second)},
	}
	srv := serveEvents(t, fixture)
	defer srv.Close()

	sink := &collector{}
	f := NewWebSocket(wsURL(srv), nil, 10*time.Millisecond, 100*time.Millisecond, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	got := waitFor(t, sink, 2)
	cancel()
	<-done

	if got[0].Price != 100 || got[1].Price != 101 {
		t.Fatalf("unexpected events: %+v", got[:2])
	}
	if got[0].IngestTime.IsZero() {
		t.Fatalf("ingest time not stamped")
	}
}

func TestWebSocketFeedFiltersSubscriptions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fixture := []models.MarketEvent{
		{Exchange: "binance", Symbol: "DOGEUSDT", Kind: models.EventKindTrade, Price: 1, Volume: 1, EventTime: now},
		{Exchange: "binance", Symbol: "BTCUSDT", Kind: models.EventKindTrade, Price: 100, Volume: 1, EventTime: now},
	}
	srv := serveEvents(t, fixture)
	defer srv.Close()

	sink := &collector{}
	subs := map[string][]string{"binance": {"BTCUSDT"}}
	f := NewWebSocket(wsURL(srv), subs, 10*time.Millisecond, 100*time.Millisecond, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	got := waitFor(t, sink, 1)
	cancel()
	<-done

	for i := range got {
		if got[i].Symbol != "BTCUSDT" {
			t.Fatalf("unsubscribed event delivered: %+v", got[i])
		}
	}
}

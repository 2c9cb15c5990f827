package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/logger"
	"marketpulse/models"
)

// WebSocketFeed consumes a stream of JSON-encoded market events, one
// event per text message, and forwards them to the sink. Connection
// drops are retried with exponential backoff until the context ends.
type WebSocketFeed struct {
	url          string
	allowed      map[string]bool
	initialDelay time.Duration
	maxDelay     time.Duration
	sink         Sink
	dialer       *websocket.Dialer
	log          *logger.Entry
}

// NewWebSocket builds a feed for the given stream URL. subs maps
// exchange to subscribed symbols; events outside the subscription are
// discarded without touching the sink.
func NewWebSocket(url string, subs map[string][]string, initialDelay, maxDelay time.Duration, sink Sink, log *logger.Log) *WebSocketFeed {
	if log == nil {
		log = logger.GetLogger()
	}
	if initialDelay <= 0 {
		initialDelay = 500 * time.Millisecond
	}
	if maxDelay < initialDelay {
		maxDelay = 30 * time.Second
	}
	return &WebSocketFeed{
		url:          url,
		allowed:      allowedKeys(subs),
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		sink:         sink,
		dialer:       websocket.DefaultDialer,
		log:          log.WithComponent("feed_ws").WithFields(logger.Fields{"url": url}),
	}
}

// Run drives the connect/read/reconnect loop until the context is
// cancelled. It only returns the context's error.
func (f *WebSocketFeed) Run(ctx context.Context) error {
	delay := f.initialDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.log.WithError(err).Warn("websocket dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > f.maxDelay {
				delay = f.maxDelay
			}
			continue
		}

		f.log.Info("websocket connected")
		delay = f.initialDelay
		f.readLoop(ctx, conn)
	}
}

func (f *WebSocketFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.log.WithError(err).Warn("websocket read failed; reconnecting")
			}
			return
		}

		var ev models.MarketEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			f.log.WithError(err).Warn("undecodable message discarded")
			continue
		}
		ev.IngestTime = time.Now().UTC()

		if f.allowed != nil && !f.allowed[ev.Key()] {
			continue
		}
		if err := f.sink.Route(ctx, &ev); err != nil {
			// Malformed events are counted by the router; only log at
			// debug to keep a poisoned stream from flooding the logs.
			f.log.WithError(err).WithFields(logger.Fields{"key": ev.Key()}).Debug("event rejected")
		}
	}
}

// Package feed produces normalized market events for the engine. Two
// sources are available: a websocket client for live exchange streams
// and a seeded synthetic generator for local runs and soak tests.
package feed

import (
	"context"

	"marketpulse/models"
)

// Sink receives every event a feed produces. The engine's router
// satisfies this interface.
type Sink interface {
	Route(ctx context.Context, ev *models.MarketEvent) error
}

// allowedKeys builds the subscription filter. An empty subscription
// list admits everything.
func allowedKeys(subs map[string][]string) map[string]bool {
	if len(subs) == 0 {
		return nil
	}
	allowed := make(map[string]bool)
	for exchange, symbols := range subs {
		for _, symbol := range symbols {
			allowed[exchange+":"+symbol] = true
		}
	}
	return allowed
}

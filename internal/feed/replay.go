package feed

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"marketpulse/logger"
	"marketpulse/models"
)

// Synthetic stream shape: mostly routine trades and book tops with a
// periodic volume burst so anomaly paths are exercised end to end.
const (
	replayBookTopEvery = 5
	replaySpikeEvery   = 40
	replaySpikeFactor  = 12.0
)

// ReplayFeed generates a deterministic synthetic event stream from a
// seed. The same seed and subscriptions always yield the same events,
// which makes soak runs and incident reproductions repeatable.
type ReplayFeed struct {
	seed     int64
	events   int
	interval time.Duration
	keys     []replayKey
	sink     Sink
	log      *logger.Entry
}

type replayKey struct {
	exchange string
	symbol   string
	price    float64
	volume   float64
}

// NewReplay builds a replay feed producing `events` events spaced by
// `interval` (zero means full speed) across the subscribed keys.
func NewReplay(seed int64, events int, interval time.Duration, subs map[string][]string, sink Sink, log *logger.Log) *ReplayFeed {
	if log == nil {
		log = logger.GetLogger()
	}
	if len(subs) == 0 {
		subs = map[string][]string{"binance": {"BTCUSDT"}}
	}

	var keys []replayKey
	exchanges := make([]string, 0, len(subs))
	for exchange := range subs {
		exchanges = append(exchanges, exchange)
	}
	sort.Strings(exchanges)
	for _, exchange := range exchanges {
		symbols := append([]string(nil), subs[exchange]...)
		sort.Strings(symbols)
		for _, symbol := range symbols {
			keys = append(keys, replayKey{
				exchange: exchange,
				symbol:   symbol,
				price:    100 + float64(len(keys))*50,
				volume:   10,
			})
		}
	}

	return &ReplayFeed{
		seed:     seed,
		events:   events,
		interval: interval,
		keys:     keys,
		sink:     sink,
		log: log.WithComponent("feed_replay").WithFields(logger.Fields{
			"seed":   seed,
			"events": events,
			"keys":   len(keys),
		}),
	}
}

// Run emits the configured number of events and returns. A cancelled
// context stops early with its error.
func (f *ReplayFeed) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(f.seed))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.log.Info("replay feed started")

	for i := 0; i < f.events; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := &f.keys[i%len(f.keys)]
		ev := f.next(rng, key, i, start.Add(time.Duration(i)*time.Second))
		if err := f.sink.Route(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.WithError(err).Warn("replay event rejected")
		}

		if f.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.interval):
			}
		}
	}

	f.log.Info("replay feed finished")
	return nil
}

func (f *ReplayFeed) next(rng *rand.Rand, key *replayKey, i int, ts time.Time) *models.MarketEvent {
	// Random walk with mild drift so prices stay positive.
	key.price *= 1 + rng.NormFloat64()*0.002
	if key.price < 1 {
		key.price = 1
	}

	ev := &models.MarketEvent{
		Exchange:   key.exchange,
		Symbol:     key.symbol,
		Price:      key.price,
		EventTime:  ts,
		IngestTime: ts,
	}

	if i%replayBookTopEvery == 0 {
		spread := key.price * 0.0005
		ev.Kind = models.EventKindBookTop
		ev.BidPrice = key.price - spread
		ev.AskPrice = key.price + spread
		ev.BidSize = key.volume * (0.5 + rng.Float64())
		ev.AskSize = key.volume * (0.5 + rng.Float64())
		return ev
	}

	ev.Kind = models.EventKindTrade
	ev.Volume = key.volume * (0.75 + rng.Float64()*0.5)
	if i > 0 && i%replaySpikeEvery == 0 {
		ev.Volume *= replaySpikeFactor
	}
	return ev
}

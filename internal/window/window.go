// Package window maintains bounded-memory rolling statistics per
// (key, metric) pair. A Window is owned by exactly one shard worker;
// it is not safe for concurrent use.
package window

import (
	"math"
	"time"
)

// epsilon below which a standard deviation is treated as "insufficient
// variance" so z-score rules never divide by (almost) zero.
const epsilon = 1e-9

// Snapshot is a point-in-time view of a window's statistics.
type Snapshot struct {
	Mean          float64
	StdDev        float64
	SampleCount   int
	LastValue     float64
	LastTimestamp time.Time
}

// ZScore returns the standard score of value against the snapshot.
// ok is false when there are fewer than two samples or the window has
// insufficient variance.
func (s Snapshot) ZScore(value float64) (float64, bool) {
	if s.SampleCount < 2 || s.StdDev < epsilon {
		return 0, false
	}
	return (value - s.Mean) / s.StdDev, true
}

type sample struct {
	value float64
	ts    time.Time
}

// Window is a fixed-capacity circular buffer of samples with running
// aggregates. Eviction reverses the evicted sample's exact contribution,
// so the aggregates always equal a recomputation over the buffer.
type Window struct {
	buf    []sample
	head   int // index of the oldest sample
	count  int
	sum    float64
	sumSq  float64
	last   float64
	lastTS time.Time
	maxAge time.Duration // 0 disables age-based eviction
}

// New allocates a window holding at most capacity samples. When maxAge is
// positive, samples older than maxAge relative to the newest arrival are
// evicted before a new sample is admitted.
func New(capacity int, maxAge time.Duration) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		buf:    make([]sample, capacity),
		maxAge: maxAge,
	}
}

// Observe admits a sample and returns the post-update snapshot. Insertion
// order is arrival order; out-of-order event timestamps are accepted and
// never reorder eviction.
func (w *Window) Observe(value float64, ts time.Time) Snapshot {
	if w.maxAge > 0 {
		for w.count > 0 && ts.Sub(w.buf[w.head].ts) > w.maxAge {
			w.evictOldest()
		}
	}
	if w.count == len(w.buf) {
		w.evictOldest()
	}

	idx := (w.head + w.count) % len(w.buf)
	w.buf[idx] = sample{value: value, ts: ts}
	w.count++
	w.sum += value
	w.sumSq += value * value
	w.last = value
	if ts.After(w.lastTS) {
		w.lastTS = ts
	}
	return w.Snapshot()
}

func (w *Window) evictOldest() {
	old := w.buf[w.head]
	w.sum -= old.value
	w.sumSq -= old.value * old.value
	w.head = (w.head + 1) % len(w.buf)
	w.count--
	if w.count == 0 {
		// Reset the aggregates so float drift cannot accumulate
		// across an empty window.
		w.sum = 0
		w.sumSq = 0
		w.head = 0
	}
}

// Snapshot reports the current statistics without mutating the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{
		SampleCount:   w.count,
		LastValue:     w.last,
		LastTimestamp: w.lastTS,
	}
	if w.count == 0 {
		return snap
	}
	n := float64(w.count)
	snap.Mean = w.sum / n
	if w.count > 1 {
		variance := w.sumSq/n - snap.Mean*snap.Mean
		if variance > 0 {
			snap.StdDev = math.Sqrt(variance)
		}
	}
	return snap
}

// Values copies out the buffer's current contents in insertion order.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.count)
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(w.head+i)%len(w.buf)].value)
	}
	return out
}

// Series bundles the price and volume windows for one key.
type Series struct {
	Price  *Window
	Volume *Window
}

// NewSeries allocates both windows with the same capacity and age policy.
func NewSeries(capacity int, maxAge time.Duration) *Series {
	return &Series{
		Price:  New(capacity, maxAge),
		Volume: New(capacity, maxAge),
	}
}

// Apply folds an event into the series. Prices are recorded for every
// event; volumes only for trades, so book-only updates cannot drag the
// volume statistics toward zero.
func (s *Series) Apply(price, volume float64, isTrade bool, ts time.Time) {
	if price > 0 {
		s.Price.Observe(price, ts)
	}
	if isTrade && volume > 0 {
		s.Volume.Observe(volume, ts)
	}
}

package strategy

import (
	"math"
	"sync"
)

// priceWindow is a fixed-size ring of recent prices for one symbol.
type priceWindow struct {
	prices []float64
	head   int
	count  int
}

func newPriceWindow(size int) *priceWindow {
	return &priceWindow{prices: make([]float64, size)}
}

func (w *priceWindow) push(price float64) {
	w.prices[w.head] = price
	w.head = (w.head + 1) % len(w.prices)
	if w.count < len(w.prices) {
		w.count++
	}
}

func (w *priceWindow) full() bool { return w.count == len(w.prices) }

func (w *priceWindow) mean() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.prices[i]
	}
	return sum / float64(w.count)
}

func (w *priceWindow) stddev() float64 {
	if w.count < 2 {
		return 0
	}
	m := w.mean()
	var sum float64
	for i := 0; i < w.count; i++ {
		d := w.prices[i] - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(w.count-1))
}

// Tracker accumulates per-symbol price windows shared by the statistical
// strategies. It is the only mutable strategy state; access is serialized so
// a single router can feed events from multiple shards.
type Tracker struct {
	windowSize int

	mu      sync.Mutex
	windows map[string]*priceWindow
}

// NewTracker creates a tracker with the given window length per symbol.
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		windows:    make(map[string]*priceWindow),
	}
}

// Observe records a price and returns the window statistics after the update.
func (t *Tracker) Observe(symbol string, price float64) WindowStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[symbol]
	if !ok {
		w = newPriceWindow(t.windowSize)
		t.windows[symbol] = w
	}
	w.push(price)

	return WindowStats{
		Mean:   w.mean(),
		StdDev: w.stddev(),
		Ready:  w.full(),
	}
}

// Stats returns the current window statistics without recording a price.
func (t *Tracker) Stats(symbol string) (WindowStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[symbol]
	if !ok {
		return WindowStats{}, false
	}
	return WindowStats{Mean: w.mean(), StdDev: w.stddev(), Ready: w.full()}, true
}

// WindowStats summarizes one symbol's rolling price window.
type WindowStats struct {
	Mean   float64
	StdDev float64
	Ready  bool
}

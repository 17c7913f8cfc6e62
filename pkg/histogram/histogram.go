// Package histogram provides a fixed-range, millisecond-granularity frequency
// counter geared towards video use cases, where buckets span 1-N ms and the
// finest granularity is 1ms. It intentionally trades a large amount of ram for
// fast bucket update access: any in-range sample is a single array index, no
// search and no rebucketing. The default video use case holds 16,000 buckets.
//
// Two measurement modes are supported. Interval mode records the elapsed time
// between successive calls to IntervalUpdate, e.g. frame arrival times.
// Cumulative mode accumulates several Begin/End sub-intervals into one value
// committed once per logical window, e.g. how long it took to compress a GOP:
//
//	h, _ := histogram.NewVideoDefaults("GOP compression time")
//	h.CumulativeInitialize()
//	for each slice {
//		h.CumulativeBegin()
//		// ... work being measured ...
//		h.CumulativeEnd()
//	}
//	h.CumulativeFinalize()
//
// Generally you'd isolate all access to a histogram to a single goroutine.
package histogram

import (
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrInvalidRange is returned when the bucket bounds are equal, inverted
	// or the maximum is zero.
	ErrInvalidRange = errors.New("histogram: invalid bucket range")

	// ErrInvalidName is returned when the histogram name is empty.
	ErrInvalidName = errors.New("histogram: name must not be empty")
)

// videoDefaults bounds cover sub-frame gaps up to 16 seconds at 1ms
// resolution. 16,000 buckets of (count, timestamp) cost roughly 1MiB.
const (
	videoDefaultMinMs = 0
	videoDefaultMaxMs = 16 * 1000
)

type bucket struct {
	count      uint64
	lastUpdate time.Time
}

// Histogram is a fixed-range millisecond frequency counter.
type Histogram struct {
	name   string
	minVal int64
	maxVal int64

	buckets   []bucket
	missCount uint64

	intervalLast time.Time

	cumulativeMs   int64
	cumulativeLast time.Time

	now func() time.Time
}

// New allocates a histogram with maxVal-minVal buckets, zero initialized.
// The allocation time becomes the baseline for the first IntervalUpdate.
func New(name string, minVal, maxVal int64) (*Histogram, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if maxVal == 0 || minVal >= maxVal {
		return nil, ErrInvalidRange
	}

	h := &Histogram{
		name:    name,
		minVal:  minVal,
		maxVal:  maxVal,
		buckets: make([]bucket, maxVal-minVal),
		now:     time.Now,
	}
	h.intervalLast = h.now()
	return h, nil
}

// NewVideoDefaults allocates a histogram spanning [0,16000) ms.
func NewVideoDefaults(name string) (*Histogram, error) {
	return New(name, videoDefaultMinMs, videoDefaultMaxMs)
}

// Name returns the histogram label.
func (h *Histogram) Name() string {
	return h.name
}

// Range returns the configured inclusive-exclusive bucket bounds in ms.
func (h *Histogram) Range() (minVal, maxVal int64) {
	return h.minVal, h.maxVal
}

// Count returns the hit count of the bucket for the given millisecond value.
func (h *Histogram) Count(ms int64) uint64 {
	if ms < h.minVal || ms >= h.maxVal {
		return 0
	}
	return h.buckets[ms-h.minVal].count
}

// MissCount returns the number of samples that fell outside the bucket range.
func (h *Histogram) MissCount() uint64 {
	return h.missCount
}

// CumulativeMs returns the running accumulator of the current window.
func (h *Histogram) CumulativeMs() int64 {
	return h.cumulativeMs
}

// Reset zeroes all bucket counts, the miss count and the cumulative
// accumulator, and rebaselines the interval clock. The bounds are preserved.
func (h *Histogram) Reset() {
	for i := range h.buckets {
		h.buckets[i] = bucket{}
	}
	h.missCount = 0
	h.cumulativeMs = 0
	h.intervalLast = h.now()
}

// IntervalUpdate records the elapsed whole milliseconds since the previous
// call (or since allocation/reset for the first call) and rebaselines the
// clock unconditionally. An elapsed time outside the bucket range increments
// the miss count and reports ok=false.
func (h *Histogram) IntervalUpdate() (ms int64, ok bool) {
	now := h.now()
	diffMs := now.Sub(h.intervalLast).Milliseconds()
	h.intervalLast = now

	if diffMs < h.minVal || diffMs >= h.maxVal {
		h.missCount++
		return 0, false
	}

	b := &h.buckets[diffMs-h.minVal]
	b.count++
	b.lastUpdate = now
	return diffMs, true
}

// CumulativeInitialize starts a new accumulation window. Buckets and the miss
// count are untouched.
func (h *Histogram) CumulativeInitialize() {
	h.cumulativeMs = 0
}

// CumulativeBegin records the start of a measured sub-interval.
func (h *Histogram) CumulativeBegin() {
	h.cumulativeLast = h.now()
}

// CumulativeEnd adds the elapsed milliseconds since the matching
// CumulativeBegin to the running accumulator and returns that sub-interval's
// duration. It may be called repeatedly inside one window.
func (h *Histogram) CumulativeEnd() int64 {
	now := h.now()
	d := now.Sub(h.cumulativeLast).Milliseconds()
	h.cumulativeMs += d
	return d
}

// CumulativeFinalize commits the accumulated total into its bucket, or into
// the miss count when out of range, and returns the committed total. Call
// CumulativeInitialize before reusing the window.
func (h *Histogram) CumulativeFinalize() int64 {
	if h.cumulativeMs < h.minVal || h.cumulativeMs >= h.maxVal {
		h.missCount++
	} else {
		b := &h.buckets[h.cumulativeMs-h.minVal]
		b.count++
		b.lastUpdate = h.now()
	}
	return h.cumulativeMs
}

// Print emits all non-empty buckets in increasing order as (ms, count, last
// update time), the miss count if nonzero, and a final summary line. The
// histogram is not mutated.
func (h *Histogram) Print(w io.Writer) {
	fmt.Fprintf(w, "Histogram '%s' (ms, count, last update time)\n", h.name)

	var cnt, measurements uint64
	for i := range h.buckets {
		b := &h.buckets[i]
		if b.count == 0 {
			continue
		}
		fmt.Fprintf(w, "-> %5d %8d  %s\n",
			h.minVal+int64(i),
			b.count,
			b.lastUpdate.Format("Mon Jan  2 15:04:05 2006"))
		cnt++
		measurements += b.count
	}

	if h.missCount > 0 {
		fmt.Fprintf(w, "%d out-of-range bucket misses\n", h.missCount)
	}

	fmt.Fprintf(w, "%d distinct buckets with %d total measurements, range: %d -> %d ms\n",
		cnt, measurements, h.minVal, h.maxVal)
}

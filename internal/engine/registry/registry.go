// Package registry maintains the authoritative collection of discovered
// streams: a destination-ordered list of stream identities plus a 65536-slot
// hash index that turns the per-packet lookup into an expected O(1) probe.
// One mutex serializes all mutation of both structures together; the ingest
// path calls FindOrCreate at packet rate, the reporting/UI path iterates and
// applies operator state transitions at human rate.
package registry

import (
	"log"
	"sync"
	"time"

	"github.com/heftig/ltntstools/internal/model"
	"github.com/heftig/ltntstools/pkg/histogram"
)

// iatInitialLwmUs seeds the inter-arrival low watermark high enough that the
// first real measurement always replaces it.
const iatInitialLwmUs = 50 * 1000 * 1000

// Config carries the registry construction options.
type Config struct {
	// AutoRecord marks every newly discovered stream for recording start.
	AutoRecord bool

	// ModelFactory allocates the optional stream-structure analyzer handle
	// for a new stream. Allocation failure is logged and leaves the
	// capability disabled; discovery itself never fails.
	ModelFactory func() (model.StreamModel, error)

	// ProbeFactory allocates the optional vendor latency probe handle, with
	// the same degraded-but-live failure policy as ModelFactory.
	ProbeFactory func() (model.LatencyProbe, error)
}

// Registry owns every discovered Stream and the hash index referencing them.
type Registry struct {
	mu      sync.Mutex
	streams []*model.Stream // sorted by 48-bit destination sort key
	index   hashIndex
	cfg     Config

	cacheHits   uint64
	cacheMisses uint64
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// FindOrCreate resolves the stream identity for the given headers, creating
// and registering a new one on first sight. Called once per observed packet.
func (r *Registry) FindOrCreate(hdr *model.PacketHeaders) *model.Stream {
	hash := Hash(hdr.DstAddrV4(), hdr.UDP.DstPort)

	r.mu.Lock()
	defer r.mu.Unlock()

	if st := r.index.lookup(hash, hdr); st != nil {
		r.cacheHits++
		return st
	}
	r.cacheMisses++

	st := r.newStream(hdr)
	r.insertSorted(st)
	r.index.insert(hash, st)

	if r.cfg.AutoRecord {
		st.Phase = model.RecordStartRequested
	}
	return st
}

// newStream allocates a Stream and its eager sub-objects from the captured
// headers. Sub-allocation failures are logged and non-fatal.
func (r *Registry) newStream(hdr *model.PacketHeaders) *model.Stream {
	now := time.Now()
	st := &model.Stream{
		Headers:     *hdr,
		Src:         hdr.SrcLabel(),
		Dst:         hdr.DstLabel(),
		FirstSeen:   now,
		LastUpdated: now,
		IATLwmUs:    iatInitialLwmUs,
		IATHwmUs:    -1,
	}

	h, err := histogram.NewVideoDefaults("IAT Intervals")
	if err != nil {
		log.Printf("Unable to allocate interval histogram for %s, it's safe to continue: %v", st.Dst, err)
	}
	st.Intervals = h

	if r.cfg.ModelFactory != nil {
		if st.Model, err = r.cfg.ModelFactory(); err != nil {
			log.Printf("Unable to allocate streammodel object for %s, it's safe to continue: %v", st.Dst, err)
			st.Model = nil
		}
	}
	if r.cfg.ProbeFactory != nil {
		if st.Probe, err = r.cfg.ProbeFactory(); err != nil {
			log.Printf("Unable to allocate latency probe for %s, it's safe to continue: %v", st.Dst, err)
			st.Probe = nil
		}
	}
	return st
}

// insertSorted places the stream into destination sort-key order. An existing
// entry with the same key marks both entries duplicate; neither is merged.
func (r *Registry) insertSorted(st *model.Stream) {
	key := st.Headers.SortKey()
	for i, e := range r.streams {
		ek := e.Headers.SortKey()
		if ek < key {
			continue
		}
		if ek == key {
			e.SetFlag(model.FlagDuplicateDst)
			st.SetFlag(model.FlagDuplicateDst)
		}
		r.streams = append(r.streams, nil)
		copy(r.streams[i+1:], r.streams[i:])
		r.streams[i] = st
		return
	}
	r.streams = append(r.streams, st)
}

// Remove purges a stream from the registry and the hash index and frees its
// owned sub-resources. Streams are never removed implicitly by lookups.
func (r *Registry) Remove(st *model.Stream) {
	hash := Hash(st.Headers.DstAddrV4(), st.Headers.UDP.DstPort)

	r.mu.Lock()
	for i, e := range r.streams {
		if e == st {
			r.streams = append(r.streams[:i], r.streams[i+1:]...)
			break
		}
	}
	r.index.remove(hash, st)
	r.mu.Unlock()

	freeStream(st)
}

// Close purges every stream.
func (r *Registry) Close() {
	r.mu.Lock()
	streams := r.streams
	r.streams = nil
	for _, st := range streams {
		hash := Hash(st.Headers.DstAddrV4(), st.Headers.UDP.DstPort)
		r.index.remove(hash, st)
	}
	r.mu.Unlock()

	for _, st := range streams {
		freeStream(st)
	}
}

func freeStream(st *model.Stream) {
	if st.Recorder != nil {
		if err := st.Recorder.Close(); err != nil {
			log.Printf("Error closing recorder for %s: %v", st.Dst, err)
		}
		st.Recorder = nil
	}
	if st.Model != nil {
		st.Model.Close()
		st.Model = nil
	}
	if st.Probe != nil {
		st.Probe.Close()
		st.Probe = nil
	}
}

// ForEach invokes fn for every stream in destination order while holding the
// registry lock. fn must not block or perform I/O.
func (r *Registry) ForEach(fn func(*model.Stream)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.streams {
		fn(st)
	}
}

// Streams returns a snapshot slice of the current entries, in order. The
// pointers are shared with the registry.
func (r *Registry) Streams() []*model.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Stream, len(r.streams))
	copy(out, r.streams)
	return out
}

// Count returns the number of live streams.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CacheStats reports the find-or-create hit/miss counters and the hit ratio.
// The ratio is undefined until at least one hit has occurred, signalled by
// ok=false.
func (r *Registry) CacheStats() (hits, misses uint64, ratio float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hits, misses = r.cacheHits, r.cacheMisses
	if hits == 0 {
		return hits, misses, 0, false
	}
	return hits, misses, 100.0 - float64(misses)/float64(hits)*100.0, true
}

// StatsReset zeroes every stream's statistics block, jitter watermarks and
// interval histogram.
func (r *Registry) StatsReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.streams {
		st.Lock()
		st.Stats.Reset()
		st.IATCurUs = 0
		st.IATLwmUs = iatInitialLwmUs
		st.IATHwmUs = -1
		if st.Intervals != nil {
			st.Intervals.Reset()
		}
		st.Unlock()
	}
}

// SnapshotStatsToFile copies every stream's current statistics into its
// as-of-last-export block. Held briefly, separate from the export file I/O.
func (r *Registry) SnapshotStatsToFile() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.streams {
		st.Lock()
		st.StatsToFile = st.Stats.Clone()
		st.Unlock()
	}
}

// AttachRecorder installs an opened recording sink on a stream and completes
// the StartRequested->Active transition. If the phase moved away from
// StartRequested while the sink was being opened, the sink is rejected and
// the caller must close it.
func (r *Registry) AttachRecorder(st *model.Stream, sink model.RecordingSink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.Phase != model.RecordStartRequested {
		return false
	}
	st.Recorder = sink
	st.Phase = model.RecordActive
	return true
}

// DetachRecorder completes the StopRequested->Inactive transition and hands
// the sink back for the caller to close outside the lock.
func (r *Registry) DetachRecorder(st *model.Stream) model.RecordingSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.Phase != model.RecordStopRequested {
		return nil
	}
	sink := st.Recorder
	st.Recorder = nil
	st.Phase = model.RecordInactive
	return sink
}

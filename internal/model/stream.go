package model

import (
	"sync"
	"time"

	"github.com/heftig/ltntstools/pkg/histogram"
)

// RecordingSink receives the packets of a stream while its recording phase is
// active. The registry owns the handle; open/close is driven by the recorder
// honoring the stream's RecordingPhase.
type RecordingSink interface {
	WritePacket(info *PacketInfo) error
	Close() error
}

// StreamModel is an opaque handle to a higher-level stream-structure
// analyzer. The core manages only its lifetime.
type StreamModel interface {
	Write(payload []byte)
	Close() error
}

// LatencyProbe is an opaque handle to a vendor latency probe. The core
// manages only its lifetime.
type LatencyProbe interface {
	Write(payload []byte)
	Close() error
}

// Stream is the identity record for one discovered UDP flow and all of its
// accumulated state. The registry owns every Stream exclusively; the header
// snapshot is immutable after creation. Membership, flags, phase and the
// recorder handle are guarded by the registry lock; the measurement fields
// are guarded by the stream's own mutex, which the ingest path takes per
// packet and the reporting paths take to snapshot. Lock order is registry
// lock first, stream mutex second, and no I/O happens under either.
type Stream struct {
	// Mutex guards the measurement state: Stats, StatsToFile, Intervals,
	// the IAT trackers, LastUpdated and PayloadType.
	sync.Mutex

	// Headers is the link/network/transport snapshot captured at discovery
	// time. It is both the stream identity and the display source.
	Headers PacketHeaders

	Src string // formatted source endpoint, "ip:port"
	Dst string // formatted destination endpoint, "ip:port"

	FirstSeen   time.Time
	LastUpdated time.Time

	PayloadType PayloadType

	Stats StreamStats

	// StatsToFile is the stats block as of the last file export, used to
	// detect counter movement between writes.
	StatsToFile StreamStats

	// Intervals measures packet inter-arrival times.
	Intervals *histogram.Histogram

	// Inter-arrival time trackers, in microseconds.
	IATCurUs int64
	IATLwmUs int64
	IATHwmUs int64

	flags Flag
	Phase RecordingPhase

	Recorder RecordingSink
	Model    StreamModel
	Probe    LatencyProbe

	// Cached stats export filenames, derived once from the configured
	// prefixes and the destination endpoint.
	Filename         string
	DetailedFilename string
}

// SetFlag sets the given flags.
func (s *Stream) SetFlag(f Flag) {
	s.flags |= f
}

// ClearFlag clears the given flags.
func (s *Stream) ClearFlag(f Flag) {
	s.flags &^= f
}

// HasFlag reports whether any of the given flags is set.
func (s *Stream) HasFlag(f Flag) bool {
	return s.flags&f != 0
}

// Flags returns the full flag set.
func (s *Stream) Flags() Flag {
	return s.flags
}

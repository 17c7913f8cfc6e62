package model

import "time"

// TSPacketSize is the MPEG transport stream cell size in bytes.
const TSPacketSize = 188

// MaxPID is the exclusive upper bound of the 13-bit transport stream PID space.
const MaxPID = 0x2000

const nullPID = 0x1fff

// PIDStats accumulates per-PID transport stream counters.
type PIDStats struct {
	PacketCount uint64
	CCErrors    uint64
	TEIErrors   uint64

	lastCC uint8
	hasCC  bool
}

// rateWindow derives a bits-per-second figure from a one second tumbling
// window of byte arrivals.
type rateWindow struct {
	start time.Time
	bytes uint64
	bps   uint64
}

func (w *rateWindow) add(n uint64, now time.Time) {
	if w.start.IsZero() {
		w.start = now
	}
	// A bursty or paused stream can stretch the window well past one second;
	// scale by the actual elapsed time so the published rate stays honest.
	if elapsed := now.Sub(w.start); elapsed >= time.Second {
		w.bps = uint64(float64(w.bytes) * 8 * float64(time.Second) / float64(elapsed))
		w.bytes = 0
		w.start = now
	}
	w.bytes += n
}

func (w *rateWindow) rate() uint64 {
	return w.bps
}

// StreamStats is the per-stream statistics block: byte and transport stream
// packet counters, continuity/TEI error counts, per-PID breakdown and the
// bitrate windows the reporting path reads. The owning Stream's mutex guards
// all access; readers take a Clone under it rather than iterating Pids live.
type StreamStats struct {
	PacketCount uint64 // transport stream cells seen
	ByteCount   uint64 // raw UDP payload bytes
	CCErrors    uint64
	TEIErrors   uint64

	Pids map[uint16]*PIDStats

	byteWindow rateWindow
	tsWindow   rateWindow
}

// AddBytes feeds raw payload bytes into the byte-stream bitrate window.
func (s *StreamStats) AddBytes(n int, now time.Time) {
	s.ByteCount += uint64(n)
	s.byteWindow.add(uint64(n), now)
}

// UpdateTS scans a UDP payload of 188-byte transport stream cells and updates
// the per-PID packet, continuity and TEI counters. Payload bytes that do not
// align to whole cells are ignored.
func (s *StreamStats) UpdateTS(payload []byte, now time.Time) {
	for len(payload) >= TSPacketSize {
		cell := payload[:TSPacketSize]
		payload = payload[TSPacketSize:]
		if cell[0] != 0x47 {
			continue
		}

		pid := uint16(cell[1]&0x1f)<<8 | uint16(cell[2])
		cc := cell[3] & 0x0f
		hasPayload := cell[3]&0x10 != 0

		if s.Pids == nil {
			s.Pids = make(map[uint16]*PIDStats)
		}
		ps, ok := s.Pids[pid]
		if !ok {
			ps = &PIDStats{}
			s.Pids[pid] = ps
		}

		s.PacketCount++
		ps.PacketCount++
		s.tsWindow.add(TSPacketSize, now)

		if cell[1]&0x80 != 0 {
			s.TEIErrors++
			ps.TEIErrors++
		}

		// The null PID carries no meaningful continuity counter.
		if pid != nullPID {
			if ps.hasCC && hasPayload && cc != (ps.lastCC+1)&0x0f {
				s.CCErrors++
				ps.CCErrors++
			}
			if hasPayload {
				ps.lastCC = cc
				ps.hasCC = true
			}
		}
	}
}

// StreamBps returns the transport stream bitrate in bits per second.
func (s *StreamStats) StreamBps() uint64 {
	return s.tsWindow.rate()
}

// StreamMbps returns the transport stream bitrate in megabits per second.
func (s *StreamStats) StreamMbps() float64 {
	return float64(s.StreamBps()) / 1e6
}

// CTPBps returns the byte-level bitrate for CTP and SMPTE-2110 payloads.
func (s *StreamStats) CTPBps() uint64 {
	return s.byteWindow.rate()
}

// ByteStreamBps returns the raw byte-stream bitrate in bits per second.
func (s *StreamStats) ByteStreamBps() uint64 {
	return s.byteWindow.rate()
}

// BpsForPayload selects the classification-appropriate bitrate accessor.
func (s *StreamStats) BpsForPayload(pt PayloadType) uint64 {
	switch pt {
	case PayloadUDPTransport, PayloadRTPTransport:
		return s.StreamBps()
	case PayloadSMPTE2110Video, PayloadSMPTE2110Audio, PayloadSMPTE2110Data, PayloadA324CTP:
		return s.CTPBps()
	default:
		return s.ByteStreamBps()
	}
}

// MbpsForPayload is BpsForPayload scaled to megabits per second.
func (s *StreamStats) MbpsForPayload(pt PayloadType) float64 {
	return float64(s.BpsForPayload(pt)) / 1e6
}

// Reset zeroes all counters, the per-PID table and the bitrate windows.
func (s *StreamStats) Reset() {
	*s = StreamStats{}
}

// Clone returns a deep copy, used by the export path for change detection
// between consecutive file writes.
func (s *StreamStats) Clone() StreamStats {
	c := *s
	if s.Pids != nil {
		c.Pids = make(map[uint16]*PIDStats, len(s.Pids))
		for pid, ps := range s.Pids {
			cp := *ps
			c.Pids[pid] = &cp
		}
	}
	return c
}

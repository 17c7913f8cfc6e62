// Package monitor is the packet-rate ingest path: it resolves each parsed
// packet to its stream via the registry and applies the per-packet statistics
// updates under the stream's mutex, so the reporting path can snapshot the
// same stream concurrently without tearing the counters or the PID map.
package monitor

import (
	"github.com/heftig/ltntstools/internal/engine/protocol"
	"github.com/heftig/ltntstools/internal/engine/registry"
	"github.com/heftig/ltntstools/internal/model"
)

// Monitor feeds parsed packets into a stream registry.
type Monitor struct {
	reg *registry.Registry
}

// New creates a monitor over the given registry.
func New(reg *registry.Registry) *Monitor {
	return &Monitor{reg: reg}
}

// Registry returns the underlying stream registry.
func (m *Monitor) Registry() *registry.Registry {
	return m.reg
}

// ProcessPacket resolves the packet's stream and updates its inter-arrival
// trackers, histograms, payload classification and statistics block.
func (m *Monitor) ProcessPacket(info *model.PacketInfo) *model.Stream {
	st := m.reg.FindOrCreate(&info.Headers)

	now := info.Timestamp

	st.Lock()

	// The discovery packet has no previous arrival to measure against.
	if st.Stats.ByteCount > 0 {
		if iat := now.Sub(st.LastUpdated).Microseconds(); iat >= 0 {
			st.IATCurUs = iat
			if iat < st.IATLwmUs {
				st.IATLwmUs = iat
			}
			if iat > st.IATHwmUs {
				st.IATHwmUs = iat
			}
		}
	}
	st.LastUpdated = now

	if st.Intervals != nil {
		st.Intervals.IntervalUpdate()
	}

	if st.PayloadType == model.PayloadUndefined {
		st.PayloadType = protocol.ClassifyPayload(info.Payload)
	}

	st.Stats.AddBytes(len(info.Payload), now)
	switch st.PayloadType {
	case model.PayloadUDPTransport:
		st.Stats.UpdateTS(info.Payload, now)
	case model.PayloadRTPTransport:
		if len(info.Payload) > 12 {
			st.Stats.UpdateTS(info.Payload[12:], now)
		}
	}

	st.Unlock()

	if st.Model != nil {
		st.Model.Write(info.Payload)
	}
	if st.Probe != nil {
		st.Probe.Write(info.Payload)
	}

	// Recorder is installed by the recording path; worst case a phase change
	// races us by one packet.
	if st.Phase == model.RecordActive && st.Recorder != nil {
		st.Recorder.WritePacket(info)
	}

	return st
}

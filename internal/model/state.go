package model

// Flag is one independently settable lifecycle/display flag on a Stream.
// Flags are combinable; the recording lifecycle is deliberately not a flag,
// see RecordingPhase.
type Flag uint32

const (
	// FlagDuplicateDst marks a stream whose destination sort key collides
	// with another registry entry. Both entries carry the flag; neither is
	// merged or rejected.
	FlagDuplicateDst Flag = 1 << iota

	// FlagSelected marks the stream as addressed by operator actions.
	FlagSelected

	// FlagHidden removes the stream from the visible selection set.
	FlagHidden

	// FlagShowPIDs enables the per-PID statistics table in summaries.
	FlagShowPIDs

	// FlagShowErrorAnalysis enables the error analysis view.
	FlagShowErrorAnalysis

	// FlagShowIATHistogram enables the inter-arrival histogram dump.
	FlagShowIATHistogram

	// FlagShowStreamModel enables the stream structure view.
	FlagShowStreamModel
)

// RecordingPhase is the three-phase recording lifecycle of a stream. The core
// only issues start/stop requests; the recording sink performs the
// StartRequested->Active and StopRequested->Inactive transitions when it
// opens and closes.
type RecordingPhase uint8

const (
	RecordInactive RecordingPhase = iota
	RecordStartRequested
	RecordActive
	RecordStopRequested
)

// String returns a short operator-facing phase label.
func (p RecordingPhase) String() string {
	switch p {
	case RecordStartRequested:
		return "start-requested"
	case RecordActive:
		return "recording"
	case RecordStopRequested:
		return "stop-requested"
	default:
		return "inactive"
	}
}

// Requested reports whether the phase is anywhere in the active half of the
// lifecycle: recording, or asked to start.
func (p RecordingPhase) Requested() bool {
	return p == RecordActive || p == RecordStartRequested
}

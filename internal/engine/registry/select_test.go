package registry

import (
	"fmt"
	"testing"

	"github.com/heftig/ltntstools/internal/model"
)

// populate creates n streams with ascending destination addresses.
func populate(t *testing.T, r *Registry, n int) []*model.Stream {
	t.Helper()
	for i := 1; i <= n; i++ {
		r.FindOrCreate(makeHeaders("192.168.1.10", 41000, fmt.Sprintf("10.0.0.%d", i), 5000))
	}
	return r.Streams()
}

func selectedDsts(r *Registry) []string {
	var out []string
	r.ForEach(func(st *model.Stream) {
		if st.HasFlag(model.FlagSelected) {
			out = append(out, st.Dst)
		}
	})
	return out
}

func TestSelectFirst(t *testing.T) {
	r := New(Config{})
	streams := populate(t, r, 3)

	r.SelectFirst()
	if got := selectedDsts(r); len(got) != 1 || got[0] != streams[0].Dst {
		t.Errorf("Expected only first selected, got %v", got)
	}

	// SelectFirst does not clear prior selection elsewhere.
	streams[2].SetFlag(model.FlagSelected)
	r.SelectFirst()
	if got := selectedDsts(r); len(got) != 2 {
		t.Errorf("SelectFirst must not clear other selections, got %v", got)
	}
}

func TestSelectNext_CyclesAndParksAtLast(t *testing.T) {
	r := New(Config{})
	streams := populate(t, r, 3)

	r.SelectFirst()
	r.SelectNext()
	if got := selectedDsts(r); len(got) != 1 || got[0] != streams[1].Dst {
		t.Fatalf("After one advance expected %s, got %v", streams[1].Dst, got)
	}

	r.SelectNext()
	if got := selectedDsts(r); len(got) != 1 || got[0] != streams[2].Dst {
		t.Fatalf("After two advances expected %s, got %v", streams[2].Dst, got)
	}

	// The cursor parks at the last entry instead of wrapping.
	r.SelectNext()
	if got := selectedDsts(r); len(got) != 1 || got[0] != streams[2].Dst {
		t.Errorf("Cursor should stay on the last entry, got %v", got)
	}
}

func TestSelectNext_NoSelection(t *testing.T) {
	r := New(Config{})
	populate(t, r, 3)

	r.SelectNext()
	if got := selectedDsts(r); len(got) != 0 {
		t.Errorf("With no current selection nothing should be selected, got %v", got)
	}
}

func TestSelectNext_SkipsHidden(t *testing.T) {
	r := New(Config{})
	streams := populate(t, r, 3)

	streams[1].SetFlag(model.FlagHidden)
	r.SelectFirst()
	r.SelectNext()

	if got := selectedDsts(r); len(got) != 1 || got[0] != streams[2].Dst {
		t.Errorf("Expected hidden entry skipped, got %v", got)
	}
}

func TestSelectPrev(t *testing.T) {
	r := New(Config{})
	streams := populate(t, r, 3)

	streams[2].SetFlag(model.FlagSelected)
	r.SelectPrev()
	if got := selectedDsts(r); len(got) != 1 || got[0] != streams[1].Dst {
		t.Fatalf("Expected %s selected, got %v", streams[1].Dst, got)
	}

	r.SelectPrev()
	if got := selectedDsts(r); len(got) != 1 || got[0] != streams[0].Dst {
		t.Fatalf("Expected %s selected, got %v", streams[0].Dst, got)
	}

	// The first visible entry keeps its selection.
	r.SelectPrev()
	if got := selectedDsts(r); len(got) != 1 || got[0] != streams[0].Dst {
		t.Errorf("Cursor should stay on the first entry, got %v", got)
	}
}

func TestSelectAllNone(t *testing.T) {
	r := New(Config{})
	populate(t, r, 3)

	r.SelectAll()
	if got := selectedDsts(r); len(got) != 3 {
		t.Errorf("Expected all selected, got %v", got)
	}
	r.SelectNone()
	if got := selectedDsts(r); len(got) != 0 {
		t.Errorf("Expected none selected, got %v", got)
	}
}

func TestToggleRecording(t *testing.T) {
	r := New(Config{})
	streams := populate(t, r, 2)

	streams[0].SetFlag(model.FlagSelected)
	r.ToggleRecording()
	if streams[0].Phase != model.RecordStartRequested {
		t.Errorf("Expected start-requested, got %v", streams[0].Phase)
	}
	if streams[1].Phase != model.RecordInactive {
		t.Error("Unselected entries must be untouched")
	}

	// Toggling while requested or active asks for a stop.
	r.ToggleRecording()
	if streams[0].Phase != model.RecordStopRequested {
		t.Errorf("Expected stop-requested, got %v", streams[0].Phase)
	}

	streams[0].Phase = model.RecordActive
	r.ToggleRecording()
	if streams[0].Phase != model.RecordStopRequested {
		t.Errorf("Expected stop-requested from active, got %v", streams[0].Phase)
	}
}

func TestRecordAbort(t *testing.T) {
	r := New(Config{})
	streams := populate(t, r, 3)

	streams[0].Phase = model.RecordActive
	streams[1].Phase = model.RecordStartRequested

	// Abort applies regardless of selection.
	r.RecordAbort()

	if streams[0].Phase != model.RecordStopRequested {
		t.Errorf("Active stream should be stop-requested, got %v", streams[0].Phase)
	}
	if streams[1].Phase != model.RecordStopRequested {
		t.Errorf("Start-requested stream should be stop-requested, got %v", streams[1].Phase)
	}
	if streams[2].Phase != model.RecordInactive {
		t.Errorf("Inactive stream should stay inactive, got %v", streams[2].Phase)
	}
}

func TestToggleViews(t *testing.T) {
	r := New(Config{})
	streams := populate(t, r, 2)
	streams[0].SetFlag(model.FlagSelected)

	r.ToggleShowPIDs()
	if !streams[0].HasFlag(model.FlagShowPIDs) {
		t.Error("Expected PIDs view enabled")
	}
	r.ToggleShowPIDs()
	if streams[0].HasFlag(model.FlagShowPIDs) {
		t.Error("Expected PIDs view disabled again")
	}
	if streams[1].HasFlag(model.FlagShowPIDs) {
		t.Error("Unselected entries must be untouched")
	}

	r.ToggleShowErrorAnalysis()
	r.ToggleShowIATHistogram()
	r.ToggleShowStreamModel()
	want := model.FlagShowErrorAnalysis | model.FlagShowIATHistogram | model.FlagShowStreamModel
	if streams[0].Flags()&want != want {
		t.Errorf("Expected view flags %b set, got %b", want, streams[0].Flags())
	}
}

func TestHide(t *testing.T) {
	r := New(Config{})
	streams := populate(t, r, 3)

	streams[0].SetFlag(model.FlagSelected)
	streams[1].SetFlag(model.FlagSelected)
	streams[1].Phase = model.RecordActive

	r.Hide()

	if !streams[0].HasFlag(model.FlagHidden) {
		t.Error("Selected stream should be hidden")
	}
	// Recording streams cannot be hidden, even when selected.
	if streams[1].HasFlag(model.FlagHidden) {
		t.Error("Recording stream must not be hidden")
	}
	if streams[2].HasFlag(model.FlagHidden) {
		t.Error("Unselected stream must not be hidden")
	}

	// A stop request is enough to make the stream hideable again.
	streams[1].Phase = model.RecordStopRequested
	r.Hide()
	if !streams[1].HasFlag(model.FlagHidden) {
		t.Error("Stop-requested stream should be hideable")
	}

	r.UnhideAll()
	r.ForEach(func(st *model.Stream) {
		if st.HasFlag(model.FlagHidden) {
			t.Errorf("UnhideAll left %s hidden", st.Dst)
		}
	})
}

func TestRecorderTransitions(t *testing.T) {
	r := New(Config{})
	st := populate(t, r, 1)[0]

	sink := &fakeSink{}

	// Attaching without a pending start request is rejected.
	if r.AttachRecorder(st, sink) {
		t.Error("AttachRecorder should reject an inactive stream")
	}

	st.Phase = model.RecordStartRequested
	if !r.AttachRecorder(st, sink) {
		t.Fatal("AttachRecorder should accept a start-requested stream")
	}
	if st.Phase != model.RecordActive || st.Recorder == nil {
		t.Error("Expected active phase with an installed sink")
	}

	// Detach only completes a stop request.
	if got := r.DetachRecorder(st); got != nil {
		t.Error("DetachRecorder should reject an active stream without a stop request")
	}
	st.Phase = model.RecordStopRequested
	if got := r.DetachRecorder(st); got != sink {
		t.Error("DetachRecorder should hand the sink back")
	}
	if st.Phase != model.RecordInactive || st.Recorder != nil {
		t.Error("Expected inactive phase with the sink detached")
	}
}

type fakeSink struct {
	packets int
	closed  bool
}

func (f *fakeSink) WritePacket(info *model.PacketInfo) error {
	f.packets++
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

package registry

import "github.com/heftig/ltntstools/internal/model"

// Selection is a single-cursor model over the ordered, non-hidden subset of
// the registry. All operations scan the full list under the lock; these are
// operator-rate actions, not per-packet.

// SelectFirst sets the selected flag on the first registry entry. Any
// existing selection elsewhere is deliberately left in place; see the
// mismatch note against SelectNext/SelectPrev in DESIGN.md.
func (r *Registry) SelectFirst() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) > 0 {
		r.streams[0].SetFlag(model.FlagSelected)
	}
}

// SelectNext advances the selection cursor to the next non-hidden entry. The
// currently selected entry keeps its flag when it is the final list element,
// so the cursor parks at the end rather than wrapping. With no current
// selection nothing is selected.
func (r *Registry) SelectNext() {
	r.mu.Lock()
	defer r.mu.Unlock()

	doSelect := false
	for i, e := range r.streams {
		if e.HasFlag(model.FlagHidden) {
			continue
		}
		if e.HasFlag(model.FlagSelected) {
			// Only clear the current entry if it's not the last list entry.
			if i != len(r.streams)-1 {
				e.ClearFlag(model.FlagSelected)
			}
			doSelect = true
		} else if doSelect {
			e.SetFlag(model.FlagSelected)
			break
		}
	}
}

// SelectPrev moves the selection cursor to the previous non-hidden entry
// using a trailing pointer. The first visible entry keeps its selection.
func (r *Registry) SelectPrev() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev *model.Stream
	for _, e := range r.streams {
		if e.HasFlag(model.FlagHidden) {
			continue
		}
		if e.HasFlag(model.FlagSelected) && prev != nil {
			e.ClearFlag(model.FlagSelected)
			prev.SetFlag(model.FlagSelected)
			break
		}
		prev = e
	}
}

// SelectAll sets the selected flag on every entry.
func (r *Registry) SelectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.streams {
		e.SetFlag(model.FlagSelected)
	}
}

// SelectNone clears the selected flag on every entry.
func (r *Registry) SelectNone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.streams {
		e.ClearFlag(model.FlagSelected)
	}
}

// ToggleRecording requests a recording start or stop on every selected
// entry, depending on its current phase. The sink performs the actual
// open/close transitions.
func (r *Registry) ToggleRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.streams {
		if !e.HasFlag(model.FlagSelected) {
			continue
		}
		if e.Phase.Requested() {
			e.Phase = model.RecordStopRequested
		} else {
			e.Phase = model.RecordStartRequested
		}
	}
}

// RecordAbort requests a stop on every entry anywhere in the active half of
// the recording lifecycle, regardless of selection.
func (r *Registry) RecordAbort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.streams {
		if e.Phase.Requested() {
			e.Phase = model.RecordStopRequested
		}
	}
}

// toggleSelected flips the given flag on every selected entry.
func (r *Registry) toggleSelected(f model.Flag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.streams {
		if !e.HasFlag(model.FlagSelected) {
			continue
		}
		if e.HasFlag(f) {
			e.ClearFlag(f)
		} else {
			e.SetFlag(f)
		}
	}
}

// ToggleShowPIDs flips the per-PID table view on selected entries.
func (r *Registry) ToggleShowPIDs() {
	r.toggleSelected(model.FlagShowPIDs)
}

// ToggleShowErrorAnalysis flips the error analysis view on selected entries.
func (r *Registry) ToggleShowErrorAnalysis() {
	r.toggleSelected(model.FlagShowErrorAnalysis)
}

// ToggleShowIATHistogram flips the interval histogram view on selected entries.
func (r *Registry) ToggleShowIATHistogram() {
	r.toggleSelected(model.FlagShowIATHistogram)
}

// ToggleShowStreamModel flips the stream structure view on selected entries.
func (r *Registry) ToggleShowStreamModel() {
	r.toggleSelected(model.FlagShowStreamModel)
}

// Hide hides every selected entry, except streams with an active recording.
func (r *Registry) Hide() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.streams {
		if !e.HasFlag(model.FlagSelected) {
			continue
		}
		// No hiding if recording.
		if e.Phase == model.RecordActive {
			continue
		}
		e.SetFlag(model.FlagHidden)
	}
}

// UnhideAll clears the hidden flag on every entry.
func (r *Registry) UnhideAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.streams {
		e.ClearFlag(model.FlagHidden)
	}
}

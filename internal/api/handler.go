// Package api exposes the stream registry to operators over HTTP. Reads
// return JSON views built under the registry lock; writes map one-to-one
// onto the registry's selection and toggle operations.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/heftig/ltntstools/internal/engine/registry"
	"github.com/heftig/ltntstools/internal/model"

	"github.com/gorilla/mux"
)

// Handler holds the dependencies for the API handlers.
type Handler struct {
	reg *registry.Registry
}

// NewHandler creates a Handler over the given registry.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{reg: reg}
}

// Router builds the API route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/streams", h.listStreamsHandler).Methods("GET")
	r.HandleFunc("/api/v1/streams/{dst}/histogram", h.histogramHandler).Methods("GET")
	r.HandleFunc("/api/v1/select", h.selectHandler).Methods("POST")
	r.HandleFunc("/api/v1/toggle", h.toggleHandler).Methods("POST")
	r.HandleFunc("/api/v1/hide", h.hideHandler).Methods("POST")
	r.HandleFunc("/api/v1/unhide", h.unhideHandler).Methods("POST")
	r.HandleFunc("/api/v1/record/abort", h.recordAbortHandler).Methods("POST")
	r.HandleFunc("/api/v1/cache", h.cacheHandler).Methods("GET")
	return r
}

// streamView is the JSON projection of one registry entry.
type streamView struct {
	Src         string    `json:"src"`
	Dst         string    `json:"dst"`
	PayloadType string    `json:"payload_type"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
	Mbps        float64   `json:"mbps"`
	PacketCount uint64    `json:"packet_count"`
	ByteCount   uint64    `json:"byte_count"`
	CCErrors    uint64    `json:"cc_errors"`
	TEIErrors   uint64    `json:"tei_errors"`
	IATCurUs    int64     `json:"iat_cur_us"`
	IATLwmUs    int64     `json:"iat_lwm_us"`
	IATHwmUs    int64     `json:"iat_hwm_us"`
	Selected    bool      `json:"selected"`
	Hidden      bool      `json:"hidden"`
	Duplicate   bool      `json:"duplicate"`
	Recording   string    `json:"recording"`
}

func (h *Handler) listStreamsHandler(w http.ResponseWriter, r *http.Request) {
	views := make([]streamView, 0, h.reg.Count())
	h.reg.ForEach(func(st *model.Stream) {
		st.Lock()
		views = append(views, streamView{
			Src:         st.Src,
			Dst:         st.Dst,
			PayloadType: st.PayloadType.String(),
			FirstSeen:   st.FirstSeen,
			LastUpdated: st.LastUpdated,
			Mbps:        st.Stats.MbpsForPayload(st.PayloadType),
			PacketCount: st.Stats.PacketCount,
			ByteCount:   st.Stats.ByteCount,
			CCErrors:    st.Stats.CCErrors,
			TEIErrors:   st.Stats.TEIErrors,
			IATCurUs:    st.IATCurUs,
			IATLwmUs:    st.IATLwmUs,
			IATHwmUs:    st.IATHwmUs,
			Selected:    st.HasFlag(model.FlagSelected),
			Hidden:      st.HasFlag(model.FlagHidden),
			Duplicate:   st.HasFlag(model.FlagDuplicateDst),
			Recording:   st.Phase.String(),
		})
		st.Unlock()
	})
	writeJSON(w, views)
}

func (h *Handler) histogramHandler(w http.ResponseWriter, r *http.Request) {
	dst := mux.Vars(r)["dst"]
	var target *model.Stream
	h.reg.ForEach(func(st *model.Stream) {
		if target == nil && st.Dst == dst {
			target = st
		}
	})
	if target == nil || target.Intervals == nil {
		http.Error(w, fmt.Sprintf("no stream with destination %s", dst), http.StatusNotFound)
		return
	}
	// Render under the stream mutex; ingest updates the buckets concurrently.
	var buf bytes.Buffer
	target.Lock()
	target.Intervals.Print(&buf)
	target.Unlock()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

type actionRequest struct {
	Action string `json:"action"`
}

func (h *Handler) selectHandler(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	switch strings.ToLower(req.Action) {
	case "first":
		h.reg.SelectFirst()
	case "next":
		h.reg.SelectNext()
	case "prev":
		h.reg.SelectPrev()
	case "all":
		h.reg.SelectAll()
	case "none":
		h.reg.SelectNone()
	default:
		http.Error(w, fmt.Sprintf("unknown select action %q", req.Action), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) toggleHandler(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	switch strings.ToLower(req.Action) {
	case "record":
		h.reg.ToggleRecording()
	case "pids":
		h.reg.ToggleShowPIDs()
	case "errors":
		h.reg.ToggleShowErrorAnalysis()
	case "iat":
		h.reg.ToggleShowIATHistogram()
	case "model":
		h.reg.ToggleShowStreamModel()
	default:
		http.Error(w, fmt.Sprintf("unknown toggle action %q", req.Action), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) hideHandler(w http.ResponseWriter, r *http.Request) {
	h.reg.Hide()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) unhideHandler(w http.ResponseWriter, r *http.Request) {
	h.reg.UnhideAll()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) recordAbortHandler(w http.ResponseWriter, r *http.Request) {
	h.reg.RecordAbort()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) cacheHandler(w http.ResponseWriter, r *http.Request) {
	hits, misses, ratio, ok := h.reg.CacheStats()
	resp := map[string]interface{}{
		"hits":   hits,
		"misses": misses,
	}
	if ok {
		resp["ratio"] = ratio
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}

// Package export is the reporting path: console summaries, the append-only
// per-stream statistics files and the optional ClickHouse record writer. File
// and database I/O always happens outside the registry lock; only the final
// delta snapshot reacquires it briefly.
package export

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/heftig/ltntstools/internal/engine/registry"
	"github.com/heftig/ltntstools/internal/model"
)

// DropStatsFunc supplies the capture layer's dropped-packet counters
// (kernel drops, interface drops).
type DropStatsFunc func() (dropped, ifDropped uint32)

// FileWriter appends per-stream summary and detailed records to disk.
type FileWriter struct {
	Nic            string
	Prefix         string
	DetailedPrefix string
	DropStats      DropStatsFunc

	reg *registry.Registry
	now func() time.Time
}

// NewFileWriter creates a writer for the given registry. Prefixes may be
// empty, in which case files land in the working directory named after each
// stream's destination endpoint.
func NewFileWriter(reg *registry.Registry, nic, prefix, detailedPrefix string, drops DropStatsFunc) *FileWriter {
	return &FileWriter{
		Nic:            nic,
		Prefix:         prefix,
		DetailedPrefix: detailedPrefix,
		DropStats:      drops,
		reg:            reg,
		now:            time.Now,
	}
}

// WriteAll appends one record per stream to its summary file and its
// detailed file, then snapshots current stats for the next delta comparison.
// The registry lock is not held across the file writes; packet-rate ingest
// must never block on disk I/O.
func (w *FileWriter) WriteAll() {
	streams := w.reg.Streams()
	for _, st := range streams {
		w.writeSummary(st)
		w.writeDetailed(st)
	}
	w.reg.SnapshotStatsToFile()
}

func (w *FileWriter) writeSummary(st *model.Stream) {
	if st.Filename == "" {
		st.Filename = w.Prefix + st.Dst
	}
	f, err := os.OpenFile(st.Filename, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Failed to open %s: %v", st.Filename, err)
		return
	}
	defer f.Close()
	maybeChownToSudoUser(f, st.Filename)

	io.WriteString(f, w.record(st))
}

func (w *FileWriter) writeDetailed(st *model.Stream) {
	if st.DetailedFilename == "" {
		st.DetailedFilename = w.DetailedPrefix + st.Dst
	}
	f, err := os.OpenFile(st.DetailedFilename, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Failed to open %s: %v", st.DetailedFilename, err)
		return
	}
	defer f.Close()
	maybeChownToSudoUser(f, st.DetailedFilename)

	io.WriteString(f, w.record(st))
	WriteStreamSummary(f, st)
}

// record formats the delimited stats line. The continuity error count gains a
// change marker when it moved since the last export. The counters are read
// under the stream mutex; the returned string is written with no lock held.
func (w *FileWriter) record(st *model.Stream) string {
	var dropped, ifDropped uint32
	if w.DropStats != nil {
		dropped, ifDropped = w.DropStats()
	}

	st.Lock()
	pt := st.PayloadType
	bps := st.Stats.BpsForPayload(pt)
	mbps := st.Stats.MbpsForPayload(pt)
	packets := st.Stats.PacketCount
	ccErrors := st.Stats.CCErrors
	marker := ""
	if ccErrors != st.StatsToFile.CCErrors {
		marker = "!"
	}
	st.Unlock()

	return fmt.Sprintf("time=%s,nic=%s,bps=%d,mbps=%.2f,tspacketcount=%d,ccerrors=%d%s,src=%s,dst=%s,dropped=%d/%d\n",
		w.now().Format("20060102-150405"),
		w.Nic,
		bps,
		mbps,
		packets,
		ccErrors,
		marker,
		st.Src,
		st.Dst,
		dropped,
		ifDropped)
}

// WriteStreamSummary emits the per-PID statistics table and the interval
// histogram dump for one stream. The stats are snapshotted and the histogram
// rendered under the stream mutex; the writer sees only the finished text.
func WriteStreamSummary(w io.Writer, st *model.Stream) {
	st.Lock()
	stats := st.Stats.Clone()
	pt := st.PayloadType
	var hist bytes.Buffer
	if st.Intervals != nil {
		st.Intervals.Print(&hist)
	}
	st.Unlock()

	fmt.Fprintf(w, "   PID   PID     PacketCount     CCErrors    TEIErrors @ %6.2f : %s -> %s (%s)\n",
		stats.MbpsForPayload(pt), st.Src, st.Dst, pt)
	fmt.Fprintf(w, "<---------------------------  ----------- ------------ ---Mb/ps------------------------------------------------>\n")

	pids := make([]int, 0, len(stats.Pids))
	for pid := range stats.Pids {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	for _, pid := range pids {
		ps := stats.Pids[uint16(pid)]
		fmt.Fprintf(w, "0x%04x (%4d) %14d %12d %12d   %6.2f\n",
			pid, pid, ps.PacketCount, ps.CCErrors, ps.TEIErrors, pidMbps(&stats, ps))
	}

	w.Write(hist.Bytes())
	fmt.Fprintln(w)
}

// pidMbps apportions the stream bitrate by the PID's packet share.
func pidMbps(stats *model.StreamStats, ps *model.PIDStats) float64 {
	if stats.PacketCount == 0 {
		return 0
	}
	share := float64(ps.PacketCount) / float64(stats.PacketCount)
	return stats.StreamMbps() * share
}

// ConsoleSummary prints every stream's summary to the writer. The registry
// lock is held only to take the entry snapshot, never across the writes.
func ConsoleSummary(w io.Writer, reg *registry.Registry) {
	for _, st := range reg.Streams() {
		WriteStreamSummary(w, st)
	}
}

// maybeChownToSudoUser hands file ownership to the invoking sudo user when
// running privileged, so operators can read their own stats files.
func maybeChownToSudoUser(f *os.File, name string) {
	if os.Getuid() != 0 {
		return
	}
	uidStr, gidStr := os.Getenv("SUDO_UID"), os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return
	}
	uid, err1 := strconv.Atoi(uidStr)
	gid, err2 := strconv.Atoi(gidStr)
	if err1 != nil || err2 != nil {
		return
	}
	if err := f.Chown(uid, gid); err != nil {
		log.Printf("Error changing %s ownership to uid %d gid %d, ignoring: %v", name, uid, gid, err)
	}
}

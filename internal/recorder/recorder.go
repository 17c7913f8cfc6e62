// Package recorder drives per-stream pcap segment writers from each stream's
// recording phase: it opens a sink on a start request and closes it on a stop
// request, performing the StartRequested->Active and StopRequested->Inactive
// transitions the core expects of its recording sink. All file I/O happens
// outside the registry lock.
package recorder

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/heftig/ltntstools/internal/engine/registry"
	"github.com/heftig/ltntstools/internal/model"
)

const defaultScanInterval = 250 * time.Millisecond

// Recorder watches a registry for recording phase requests.
type Recorder struct {
	reg          *registry.Registry
	dir          string
	scanInterval time.Duration
}

// New creates a recorder writing pcap segments into dir.
func New(reg *registry.Registry, dir string) *Recorder {
	return &Recorder{
		reg:          reg,
		dir:          dir,
		scanInterval: defaultScanInterval,
	}
}

// Run services recording requests until the context is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Scan()
		case <-ctx.Done():
			r.reg.RecordAbort()
			r.Scan()
			return
		}
	}
}

// Scan performs one pass over the registry, opening sinks for streams with a
// pending start request and closing sinks for streams with a pending stop.
func (r *Recorder) Scan() {
	var starts, stops []*model.Stream
	r.reg.ForEach(func(st *model.Stream) {
		switch st.Phase {
		case model.RecordStartRequested:
			starts = append(starts, st)
		case model.RecordStopRequested:
			stops = append(stops, st)
		}
	})

	for _, st := range starts {
		sink, err := newSink(r.dir, st.Dst)
		if err != nil {
			log.Printf("Failed to open recording for %s: %v", st.Dst, err)
			continue
		}
		if !r.reg.AttachRecorder(st, sink) {
			// The phase moved away while the file was being opened.
			sink.Close()
			continue
		}
		log.Printf("Recording %s to %s", st.Dst, sink.path)
	}

	for _, st := range stops {
		if sink := r.reg.DetachRecorder(st); sink != nil {
			if err := sink.Close(); err != nil {
				log.Printf("Error closing recording for %s: %v", st.Dst, err)
			}
			log.Printf("Stopped recording %s", st.Dst)
		}
	}
}

// sink is a single pcap segment file implementing model.RecordingSink.
type sink struct {
	path string
	f    *os.File
	w    *pcapgo.Writer
}

func newSink(dir, dst string) (*sink, error) {
	name := fmt.Sprintf("%s-%s.pcap",
		strings.ReplaceAll(dst, ":", "."),
		time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return &sink{path: path, f: f, w: w}, nil
}

// WritePacket appends one captured frame to the segment.
func (s *sink) WritePacket(info *model.PacketInfo) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     info.Timestamp,
		CaptureLength: len(info.Data),
		Length:        info.Length,
	}
	return s.w.WritePacket(ci, info.Data)
}

// Close flushes and closes the segment file.
func (s *sink) Close() error {
	return s.f.Close()
}

package export

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/heftig/ltntstools/internal/config"
	"github.com/heftig/ltntstools/internal/engine/registry"
	"github.com/heftig/ltntstools/internal/model"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS stream_metrics (
    Timestamp   DateTime,
    Nic         String,
    Src         String,
    Dst         String,
    PayloadType String,
    Bps         UInt64,
    Mbps        Float64,
    PacketCount UInt64,
    CCErrors    UInt64,
    TEIErrors   UInt64,
    IATCurUs    Int64,
    IATLwmUs    Int64,
    IATHwmUs    Int64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Dst, Timestamp);
`

// Record is one per-stream measurement row.
type Record struct {
	Timestamp   time.Time
	Nic         string
	Src         string
	Dst         string
	PayloadType string
	Bps         uint64
	Mbps        float64
	PacketCount uint64
	CCErrors    uint64
	TEIErrors   uint64
	IATCurUs    int64
	IATLwmUs    int64
	IATHwmUs    int64
}

// BuildRecords snapshots one Record per live stream. Each stream's counters
// are read under its own mutex so an ingest update cannot tear the row.
func BuildRecords(reg *registry.Registry, nic string, now time.Time) []Record {
	var out []Record
	reg.ForEach(func(st *model.Stream) {
		st.Lock()
		out = append(out, Record{
			Timestamp:   now,
			Nic:         nic,
			Src:         st.Src,
			Dst:         st.Dst,
			PayloadType: st.PayloadType.String(),
			Bps:         st.Stats.BpsForPayload(st.PayloadType),
			Mbps:        st.Stats.MbpsForPayload(st.PayloadType),
			PacketCount: st.Stats.PacketCount,
			CCErrors:    st.Stats.CCErrors,
			TEIErrors:   st.Stats.TEIErrors,
			IATCurUs:    st.IATCurUs,
			IATLwmUs:    st.IATLwmUs,
			IATHwmUs:    st.IATHwmUs,
		})
		st.Unlock()
	})
	return out
}

// ClickHouseWriter batch-inserts stream measurement records.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter connects, pings and ensures the stream_metrics table
// exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured export interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write inserts the records into the stream_metrics table.
func (w *ClickHouseWriter) Write(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO stream_metrics")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.Timestamp,
			r.Nic,
			r.Src,
			r.Dst,
			r.PayloadType,
			r.Bps,
			r.Mbps,
			r.PacketCount,
			r.CCErrors,
			r.TEIErrors,
			r.IATCurUs,
			r.IATLwmUs,
			r.IATHwmUs,
		)
		if err != nil {
			return fmt.Errorf("failed to append record to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d stream records to ClickHouse", len(records))
	return nil
}

// Close releases the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

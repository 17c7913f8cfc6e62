package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heftig/ltntstools/internal/api"
	"github.com/heftig/ltntstools/internal/config"
	"github.com/heftig/ltntstools/internal/engine/monitor"
	"github.com/heftig/ltntstools/internal/engine/protocol"
	"github.com/heftig/ltntstools/internal/engine/registry"
	"github.com/heftig/ltntstools/internal/export"
	"github.com/heftig/ltntstools/internal/recorder"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	iface := flag.String("iface", "", "Interface to monitor (overrides the config file).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Failed to load configuration (%v), using defaults.", err)
		cfg = config.Default()
	}
	if *iface != "" {
		cfg.Monitor.Interface = *iface
	}
	if cfg.Monitor.Interface == "" {
		log.Fatalf("No interface configured. Use -iface or set monitor.interface.")
	}

	exportInterval, err := time.ParseDuration(cfg.Monitor.ExportInterval)
	if err != nil {
		log.Fatalf("Invalid export_interval %q: %v", cfg.Monitor.ExportInterval, err)
	}

	handle, err := pcap.OpenLive(cfg.Monitor.Interface, cfg.Monitor.SnapshotLength,
		cfg.Monitor.Promiscuous, pcap.BlockForever)
	if err != nil {
		log.Fatalf("Error opening device %s: %v", cfg.Monitor.Interface, err)
	}
	defer handle.Close()
	log.Printf("Monitoring %s", cfg.Monitor.Interface)

	reg := registry.New(registry.Config{AutoRecord: cfg.Monitor.AutoRecord})
	mon := monitor.New(reg)
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recording loop, honoring each stream's requested phase.
	rec := recorder.New(reg, cfg.Monitor.RecordDir)
	go rec.Run(ctx)

	// Periodic stats file export.
	dropStats := func() (dropped, ifDropped uint32) {
		s, err := handle.Stats()
		if err != nil {
			return 0, 0
		}
		return uint32(s.PacketsDropped), uint32(s.PacketsIfDropped)
	}
	writer := export.NewFileWriter(reg, cfg.Monitor.Interface,
		cfg.Monitor.FilePrefix, cfg.Monitor.DetailedFilePrefix, dropStats)
	go func() {
		ticker := time.NewTicker(exportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writer.WriteAll()
			case <-ctx.Done():
				return
			}
		}
	}()

	// Optional ClickHouse record writer.
	if cfg.ClickHouse.Enabled {
		chInterval := exportInterval
		if cfg.ClickHouse.ExportInterval != "" {
			if chInterval, err = time.ParseDuration(cfg.ClickHouse.ExportInterval); err != nil {
				log.Fatalf("Invalid clickhouse export_interval %q: %v", cfg.ClickHouse.ExportInterval, err)
			}
		}
		chWriter, err := export.NewClickHouseWriter(cfg.ClickHouse, chInterval)
		if err != nil {
			log.Fatalf("Failed to create ClickHouse writer: %v", err)
		}
		defer chWriter.Close()
		go func() {
			ticker := time.NewTicker(chWriter.GetInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					records := export.BuildRecords(reg, cfg.Monitor.Interface, time.Now())
					if err := chWriter.Write(records); err != nil {
						log.Printf("Failed to write records to ClickHouse: %v", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Operator HTTP API.
	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewHandler(reg).Router(),
	}
	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	// Capture loop.
	go func() {
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		for packet := range packetSource.Packets() {
			info, err := protocol.ParsePacket(packet.Data(), packet.Metadata().Timestamp)
			if err != nil {
				continue
			}
			mon.ProcessPacket(info)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received, cleaning up...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("API server forced to shutdown: %v", err)
	}

	// Final export so the stats files carry the last interval.
	writer.WriteAll()
	export.ConsoleSummary(os.Stdout, reg)
	log.Println("Monitor exited.")
}

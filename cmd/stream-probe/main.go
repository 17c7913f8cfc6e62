package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heftig/ltntstools/internal/config"
	"github.com/heftig/ltntstools/internal/engine/monitor"
	"github.com/heftig/ltntstools/internal/engine/protocol"
	"github.com/heftig/ltntstools/internal/engine/registry"
	"github.com/heftig/ltntstools/internal/export"
	"github.com/heftig/ltntstools/internal/model"
	"github.com/heftig/ltntstools/internal/probe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

func main() {
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and monitor.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Failed to load configuration (%v), using defaults.", err)
		cfg = config.Default()
	}

	switch *mode {
	case "pub":
		runPublisher(cfg, *iface)
	case "sub":
		runSubscriber(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runPublisher captures packets on the local interface and publishes their
// parsed headers to NATS.
func runPublisher(cfg *config.Config, interfaceName string) {
	if interfaceName == "" {
		log.Println("Error: -iface flag is required for pub mode.")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting stream-probe in PUBLISH mode on interface: %s", interfaceName)

	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	handle, err := pcap.OpenLive(interfaceName, cfg.Monitor.SnapshotLength,
		cfg.Monitor.Promiscuous, pcap.BlockForever)
	if err != nil {
		log.Fatalf("Error opening device %s: %v", interfaceName, err)
	}
	defer handle.Close()

	log.Println("Capture started. Publishing packet headers to NATS...")

	go func() {
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		published := 0
		for packet := range packetSource.Packets() {
			info, err := protocol.ParsePacket(packet.Data(), packet.Metadata().Timestamp)
			if err != nil {
				continue
			}
			if err := pub.Publish(info); err != nil {
				log.Printf("Failed to publish packet: %v", err)
			}
			published++
			if published%1000 == 0 {
				log.Printf("%d packets published...", published)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}

// runSubscriber feeds received packet headers into a local registry and
// prints a periodic summary of the discovered streams.
func runSubscriber(cfg *config.Config) {
	log.Println("Starting stream-probe in SUBSCRIBE mode...")

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	reg := registry.New(registry.Config{})
	mon := monitor.New(reg)
	defer reg.Close()

	handler := func(info *model.PacketInfo) {
		mon.ProcessPacket(info)
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			export.ConsoleSummary(os.Stdout, reg)
		case <-sigChan:
			log.Println("Shutdown signal received, cleaning up...")
			return
		}
	}
}

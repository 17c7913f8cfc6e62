package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/heftig/ltntstools/internal/model"
)

// buildFrame serializes an ethernet/IPv4/UDP frame carrying the payload.
func buildFrame(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x01, 0, 0x5e, 0, 0, 1},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP),
		DstIP:    net.ParseIP(dstIP),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

// tsCells builds n sync-aligned transport stream cells for the given PID.
func tsCells(n int, pid uint16, firstCC uint8) []byte {
	out := make([]byte, 0, n*model.TSPacketSize)
	for i := 0; i < n; i++ {
		cell := make([]byte, model.TSPacketSize)
		cell[0] = 0x47
		cell[1] = byte(pid >> 8 & 0x1f)
		cell[2] = byte(pid)
		cell[3] = 0x10 | (firstCC+uint8(i))&0x0f // payload present
		out = append(out, cell...)
	}
	return out
}

func TestParsePacket_UDP(t *testing.T) {
	payload := []byte("hello")
	frame := buildFrame(t, "192.168.1.10", "227.1.20.80", 41000, 4001, payload)

	ts := time.Now()
	info, err := ParsePacket(frame, ts)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	if !info.Headers.IP.SrcIP.Equal(net.ParseIP("192.168.1.10")) {
		t.Errorf("Bad source IP: %s", info.Headers.IP.SrcIP)
	}
	if !info.Headers.IP.DstIP.Equal(net.ParseIP("227.1.20.80")) {
		t.Errorf("Bad destination IP: %s", info.Headers.IP.DstIP)
	}
	if info.Headers.UDP.SrcPort != 41000 || info.Headers.UDP.DstPort != 4001 {
		t.Errorf("Bad ports: %d -> %d", info.Headers.UDP.SrcPort, info.Headers.UDP.DstPort)
	}
	if string(info.Payload) != "hello" {
		t.Errorf("Bad payload: %q", info.Payload)
	}
	if !info.Timestamp.Equal(ts) {
		t.Error("Timestamp not propagated")
	}
	if info.Headers.DstLabel() != "227.1.20.80:4001" {
		t.Errorf("Bad destination label: %s", info.Headers.DstLabel())
	}
}

func TestParsePacket_RejectsNonUDP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("192.168.1.10"),
		DstIP:    net.ParseIP("192.168.1.20"),
	}
	tcp := &layers.TCP{SrcPort: 1000, DstPort: 2000}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}

	if _, err := ParsePacket(buf.Bytes(), time.Now()); err == nil {
		t.Error("Expected TCP frame to be rejected")
	}
}

func TestClassifyPayload(t *testing.T) {
	if pt := ClassifyPayload(tsCells(7, 0x100, 0)); pt != model.PayloadUDPTransport {
		t.Errorf("TS cells classified as %v", pt)
	}

	rtp := make([]byte, 12)
	rtp[0] = 0x80 // RTP version 2
	rtp = append(rtp, tsCells(7, 0x100, 0)...)
	if pt := ClassifyPayload(rtp); pt != model.PayloadRTPTransport {
		t.Errorf("RTP-wrapped TS classified as %v", pt)
	}

	if pt := ClassifyPayload([]byte("some opaque datagram")); pt != model.PayloadByteStream {
		t.Errorf("Opaque payload classified as %v", pt)
	}

	if pt := ClassifyPayload(nil); pt != model.PayloadUndefined {
		t.Errorf("Empty payload classified as %v", pt)
	}

	// Misaligned sync bytes are not a transport stream.
	broken := tsCells(2, 0x100, 0)
	broken[188] = 0x48
	if pt := ClassifyPayload(broken); pt != model.PayloadByteStream {
		t.Errorf("Broken sync classified as %v", pt)
	}
}

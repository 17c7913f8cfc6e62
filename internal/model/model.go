// Package model holds the shared value types of the stream monitor: the
// parsed packet header snapshot, the payload classification tags, the
// per-stream statistics block and the stream identity record itself.
package model

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// PayloadType tags the payload classification of a discovered stream.
type PayloadType uint8

const (
	PayloadUndefined    PayloadType = iota
	PayloadUDPTransport             // MPEG-TS directly over UDP
	PayloadRTPTransport             // MPEG-TS over RTP
	PayloadSTL                      // proprietary studio-transmitter link
	PayloadByteStream               // UDP carrying an unclassified byte stream
	PayloadSMPTE2110Video
	PayloadSMPTE2110Audio
	PayloadSMPTE2110Data
	PayloadA324CTP
)

var payloadTypeNames = []string{
	"???",
	"UDP",
	"RTP",
	"STL",
	"UNK",
	"21V",
	"21A",
	"21D",
	"324",
}

// String returns the short display tag for the payload type.
func (p PayloadType) String() string {
	if int(p) >= len(payloadTypeNames) {
		return payloadTypeNames[0]
	}
	return payloadTypeNames[p]
}

// EthernetHeader is the link-layer part of the discovery-time snapshot.
type EthernetHeader struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
}

// IPv4Header is the network-layer part of the discovery-time snapshot.
type IPv4Header struct {
	SrcIP    net.IP
	DstIP    net.IP
	TTL      uint8
	Protocol uint8
}

// UDPHeader is the transport-layer part of the discovery-time snapshot.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

// PacketHeaders is the parsed link/network/transport triplet handed to the
// core once per observed packet. The copy captured on a Stream at discovery
// time is immutable.
type PacketHeaders struct {
	Eth EthernetHeader
	IP  IPv4Header
	UDP UDPHeader
}

// SrcLabel formats the source endpoint as "ip:port".
func (h *PacketHeaders) SrcLabel() string {
	return fmt.Sprintf("%s:%d", h.IP.SrcIP, h.UDP.SrcPort)
}

// DstLabel formats the destination endpoint as "ip:port".
func (h *PacketHeaders) DstLabel() string {
	return fmt.Sprintf("%s:%d", h.IP.DstIP, h.UDP.DstPort)
}

// DstAddrV4 returns the destination address as a host-order uint32.
func (h *PacketHeaders) DstAddrV4() uint32 {
	ip := h.IP.DstIP.To4()
	if ip == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip)
}

// SortKey is the 48-bit registry ordering key: destination address in the
// upper 32 bits, destination port in the lower 16.
func (h *PacketHeaders) SortKey() uint64 {
	return uint64(h.DstAddrV4())<<16 | uint64(h.UDP.DstPort)
}

// EqualStream reports whether two header snapshots describe the same stream.
// Identity is the full source+destination address and port comparison; link
// layer fields and TTL do not participate.
func (h *PacketHeaders) EqualStream(o *PacketHeaders) bool {
	return h.UDP.SrcPort == o.UDP.SrcPort &&
		h.UDP.DstPort == o.UDP.DstPort &&
		h.IP.SrcIP.Equal(o.IP.SrcIP) &&
		h.IP.DstIP.Equal(o.IP.DstIP)
}

// PacketInfo carries one parsed packet through the ingest path.
type PacketInfo struct {
	Timestamp time.Time
	Headers   PacketHeaders
	Length    int    // original wire length
	Data      []byte // full frame, as captured
	Payload   []byte // UDP payload
}

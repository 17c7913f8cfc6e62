// Package protocol decodes captured frames into the header snapshot the
// stream registry keys on, and applies the cheap payload classification
// heuristics. Full protocol analysis lives outside this core.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/heftig/ltntstools/internal/model"
)

// ParsePacket decodes a raw ethernet frame and extracts the link/network/
// transport header triplet. Only IPv4 UDP packets are accepted; everything
// else is reported as an error and skipped by callers.
func ParsePacket(data []byte, ts time.Time) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	info := &model.PacketInfo{
		Timestamp: ts,
		Length:    len(data),
		Data:      data,
	}

	if l := packet.Layer(layers.LayerTypeEthernet); l != nil {
		eth := l.(*layers.Ethernet)
		info.Headers.Eth.SrcMAC = eth.SrcMAC
		info.Headers.Eth.DstMAC = eth.DstMAC
	}

	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, fmt.Errorf("not an IPv4 packet")
	}
	ip := l.(*layers.IPv4)
	info.Headers.IP = model.IPv4Header{
		SrcIP:    ip.SrcIP,
		DstIP:    ip.DstIP,
		TTL:      ip.TTL,
		Protocol: uint8(ip.Protocol),
	}

	l = packet.Layer(layers.LayerTypeUDP)
	if l == nil {
		return nil, fmt.Errorf("not a UDP packet")
	}
	udp := l.(*layers.UDP)
	info.Headers.UDP = model.UDPHeader{
		SrcPort: uint16(udp.SrcPort),
		DstPort: uint16(udp.DstPort),
		Length:  udp.Length,
	}
	info.Payload = udp.Payload

	return info, nil
}

const rtpHeaderSize = 12

// ClassifyPayload applies a cheap heuristic to tag a UDP payload: aligned
// 0x47 sync bytes mean MPEG-TS, an RTP v2 header wrapping sync bytes means
// TS over RTP, anything else stays an unclassified byte stream.
func ClassifyPayload(b []byte) model.PayloadType {
	if isTransportStream(b) {
		return model.PayloadUDPTransport
	}
	if len(b) > rtpHeaderSize && b[0]>>6 == 2 && isTransportStream(b[rtpHeaderSize:]) {
		return model.PayloadRTPTransport
	}
	if len(b) == 0 {
		return model.PayloadUndefined
	}
	return model.PayloadByteStream
}

// isTransportStream reports whether the payload is a whole number of 188-byte
// cells, each led by the 0x47 sync byte.
func isTransportStream(b []byte) bool {
	if len(b) == 0 || len(b)%model.TSPacketSize != 0 {
		return false
	}
	for i := 0; i < len(b); i += model.TSPacketSize {
		if b[i] != 0x47 {
			return false
		}
	}
	return true
}

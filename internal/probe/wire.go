// Package probe moves parsed packet headers between a remote capture host
// and a monitor over NATS.
package probe

import (
	"net"
	"time"

	"github.com/heftig/ltntstools/internal/model"
)

// wirePacket is the JSON representation of a parsed packet published on the
// probe subject. Payload bytes travel with it so the receiving side can
// classify and count; the full captured frame does not.
type wirePacket struct {
	Timestamp time.Time `json:"ts"`
	SrcMAC    string    `json:"src_mac,omitempty"`
	DstMAC    string    `json:"dst_mac,omitempty"`
	SrcIP     string    `json:"src_ip"`
	DstIP     string    `json:"dst_ip"`
	TTL       uint8     `json:"ttl"`
	SrcPort   uint16    `json:"src_port"`
	DstPort   uint16    `json:"dst_port"`
	Length    int       `json:"len"`
	Payload   []byte    `json:"payload,omitempty"`
}

func toWire(info *model.PacketInfo) wirePacket {
	return wirePacket{
		Timestamp: info.Timestamp,
		SrcMAC:    info.Headers.Eth.SrcMAC.String(),
		DstMAC:    info.Headers.Eth.DstMAC.String(),
		SrcIP:     info.Headers.IP.SrcIP.String(),
		DstIP:     info.Headers.IP.DstIP.String(),
		TTL:       info.Headers.IP.TTL,
		SrcPort:   info.Headers.UDP.SrcPort,
		DstPort:   info.Headers.UDP.DstPort,
		Length:    info.Length,
		Payload:   info.Payload,
	}
}

func fromWire(w *wirePacket) *model.PacketInfo {
	srcMAC, _ := net.ParseMAC(w.SrcMAC)
	dstMAC, _ := net.ParseMAC(w.DstMAC)
	return &model.PacketInfo{
		Timestamp: w.Timestamp,
		Length:    w.Length,
		Payload:   w.Payload,
		Headers: model.PacketHeaders{
			Eth: model.EthernetHeader{SrcMAC: srcMAC, DstMAC: dstMAC},
			IP: model.IPv4Header{
				SrcIP:    net.ParseIP(w.SrcIP),
				DstIP:    net.ParseIP(w.DstIP),
				TTL:      w.TTL,
				Protocol: 17,
			},
			UDP: model.UDPHeader{
				SrcPort: w.SrcPort,
				DstPort: w.DstPort,
				Length:  uint16(len(w.Payload) + 8),
			},
		},
	}
}

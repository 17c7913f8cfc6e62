package probe

import (
	"encoding/json"
	"log"

	"github.com/heftig/ltntstools/internal/config"
	"github.com/heftig/ltntstools/internal/model"

	"github.com/nats-io/nats.go"
)

// PacketHandler is a function that processes a received PacketInfo.
type PacketHandler func(info *model.PacketInfo)

// Subscriber is responsible for subscribing to a NATS subject and processing messages.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes to the configured subject and processes messages with the handler.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var w wirePacket
		if err := json.Unmarshal(msg.Data, &w); err != nil {
			log.Printf("Error unmarshalling packet: %v", err)
			return
		}
		handler(fromWire(&w))
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for messages...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}

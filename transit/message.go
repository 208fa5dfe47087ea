package transit

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/wormhole-go/proto"
)

// wireDirectHint is the JSON shape of a direct-tcp-v1 hint on the wire.
type wireDirectHint struct {
	Type     string  `json:"type"`
	Priority float64 `json:"priority"`
	Hostname string  `json:"hostname"`
	Port     uint16  `json:"port"`
}

// wireRelayHint is the JSON shape of a relay-v1 hint: a group of direct
// hints that all reach the same relay server.
type wireRelayHint struct {
	Type  string           `json:"type"`
	Hints []wireDirectHint `json:"hints"`
}

// wireAbility is one entry of the abilities array.
type wireAbility struct {
	Type string `json:"type"`
}

// Message is the JSON object exchanged over the rendezvous mailbox that
// advertises transit abilities and reachable hints.
type Message struct {
	Abilities []proto.TransitAbility
	Hints     []proto.Hint
}

type wireMessage struct {
	Abilities []wireAbility     `json:"abilities"`
	HintsV1   []json.RawMessage `json:"hints-v1"`
}

// Encode serializes m as the wire JSON body of a "transit" phase message.
func (m Message) Encode() ([]byte, error) {
	wire := wireMessage{}
	for _, a := range m.Abilities {
		wire.Abilities = append(wire.Abilities, wireAbility{Type: string(a)})
	}
	for _, h := range m.Hints {
		raw, err := encodeHint(h)
		if err != nil {
			return nil, err
		}
		wire.HintsV1 = append(wire.HintsV1, raw)
	}
	return json.Marshal(wire)
}

func encodeHint(h proto.Hint) (json.RawMessage, error) {
	switch {
	case h.IsDirect():
		d := h.Direct
		return json.Marshal(wireDirectHint{
			Type:     string(proto.AbilityDirectTCPv1),
			Priority: d.Priority,
			Hostname: d.Hostname,
			Port:     d.Port,
		})
	case h.IsRelay():
		sub := make([]wireDirectHint, 0, len(h.Relay.Hints))
		for _, d := range h.Relay.Hints {
			sub = append(sub, wireDirectHint{
				Type:     string(proto.AbilityDirectTCPv1),
				Priority: d.Priority,
				Hostname: d.Hostname,
				Port:     d.Port,
			})
		}
		return json.Marshal(wireRelayHint{Type: string(proto.AbilityRelayV1), Hints: sub})
	default:
		return nil, fmt.Errorf("transit: hint has neither direct nor relay set")
	}
}

// DecodeMessage parses the wire JSON body of a "transit" phase message.
func DecodeMessage(body []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return Message{}, fmt.Errorf("transit: decode message: %w", err)
	}

	msg := Message{}
	for _, a := range wire.Abilities {
		msg.Abilities = append(msg.Abilities, proto.TransitAbility(a.Type))
	}

	for _, raw := range wire.HintsV1 {
		var discrim struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &discrim); err != nil {
			return Message{}, fmt.Errorf("transit: decode hint: %w", err)
		}
		switch proto.TransitAbility(discrim.Type) {
		case proto.AbilityDirectTCPv1:
			var d wireDirectHint
			if err := json.Unmarshal(raw, &d); err != nil {
				return Message{}, fmt.Errorf("transit: decode direct hint: %w", err)
			}
			msg.Hints = append(msg.Hints, proto.Hint{Direct: &proto.DirectTcp{
				Priority: d.Priority, Hostname: d.Hostname, Port: d.Port,
			}})
		case proto.AbilityRelayV1:
			var r wireRelayHint
			if err := json.Unmarshal(raw, &r); err != nil {
				return Message{}, fmt.Errorf("transit: decode relay hint: %w", err)
			}
			sub := make([]proto.DirectTcp, 0, len(r.Hints))
			for _, d := range r.Hints {
				sub = append(sub, proto.DirectTcp{Priority: d.Priority, Hostname: d.Hostname, Port: d.Port})
			}
			msg.Hints = append(msg.Hints, proto.Hint{Relay: &proto.Relay{Hints: sub}})
		default:
			return Message{}, fmt.Errorf("transit: unknown hint type %q", discrim.Type)
		}
	}

	return msg, nil
}

// OfferMessage is the "offer" phase body a sender transmits describing
// the file it wants to send.
type OfferMessage struct {
	Filename string
	Filesize uint64
}

type wireOffer struct {
	Offer struct {
		File struct {
			Filename string `json:"filename"`
			Filesize uint64 `json:"filesize"`
		} `json:"file"`
	} `json:"offer"`
}

// Encode serializes the offer as its wire JSON body.
func (o OfferMessage) Encode() ([]byte, error) {
	var wire wireOffer
	wire.Offer.File.Filename = o.Filename
	wire.Offer.File.Filesize = o.Filesize
	return json.Marshal(wire)
}

// DecodeOffer parses an "offer" phase body.
func DecodeOffer(body []byte) (OfferMessage, error) {
	var wire wireOffer
	if err := json.Unmarshal(body, &wire); err != nil {
		return OfferMessage{}, fmt.Errorf("transit: decode offer: %w", err)
	}
	return OfferMessage{Filename: wire.Offer.File.Filename, Filesize: wire.Offer.File.Filesize}, nil
}

// AnswerMessage is the "answer" phase body a receiver transmits to
// confirm it will accept the offered file.
type AnswerMessage struct {
	FileAck string
}

type wireAnswer struct {
	Answer struct {
		FileAck string `json:"file_ack"`
	} `json:"answer"`
}

// Encode serializes the answer as its wire JSON body.
func (a AnswerMessage) Encode() ([]byte, error) {
	var wire wireAnswer
	wire.Answer.FileAck = a.FileAck
	return json.Marshal(wire)
}

// DecodeAnswer parses an "answer" phase body.
func DecodeAnswer(body []byte) (AnswerMessage, error) {
	var wire wireAnswer
	if err := json.Unmarshal(body, &wire); err != nil {
		return AnswerMessage{}, fmt.Errorf("transit: decode answer: %w", err)
	}
	return AnswerMessage{FileAck: wire.Answer.FileAck}, nil
}

// TransitAckMessage is the receiver's post-transfer SHA-256
// confirmation, sent as a single encrypted record.
type TransitAckMessage struct {
	Ack    string
	SHA256 string
}

type wireTransitAck struct {
	Ack    string `json:"ack"`
	SHA256 string `json:"sha256"`
}

// Encode serializes the transit-ack as its JSON body.
func (a TransitAckMessage) Encode() ([]byte, error) {
	return json.Marshal(wireTransitAck{Ack: a.Ack, SHA256: a.SHA256})
}

// DecodeTransitAck parses a transit-ack JSON body.
func DecodeTransitAck(body []byte) (TransitAckMessage, error) {
	var wire wireTransitAck
	if err := json.Unmarshal(body, &wire); err != nil {
		return TransitAckMessage{}, fmt.Errorf("transit: decode transit-ack: %w", err)
	}
	return TransitAckMessage{Ack: wire.Ack, SHA256: wire.SHA256}, nil
}

// Package models holds the protocol-agnostic data shapes shared by every
// other package in the gateway: the route configuration the resolver and
// cache exchange, the telemetry payloads the sink reports, and the wire DTOs
// the translator reads and writes.
package models

import "encoding/json"

// Protocol identifies the wire shape a client or upstream speaks. It is a
// tagged enum with two well-known variants (OpenAI, Anthropic) and an open
// Custom(name) variant for upstreams that don't fit either shape but still
// want byte-identical OpenAI-style forwarding.
type Protocol struct {
	name string
}

var (
	// OpenAI is the "chat completions" / "responses" wire shape.
	OpenAI = Protocol{name: "openai"}
	// Anthropic is the "messages" wire shape.
	Anthropic = Protocol{name: "anthropic"}
)

// CustomProtocol builds a Custom(name) protocol variant. Wire-for-wire it is
// treated identically to OpenAI; the variant is retained so future adapters
// can branch on it.
func CustomProtocol(name string) Protocol {
	return Protocol{name: name}
}

// Name returns the lowercase wire name of the protocol.
func (p Protocol) Name() string { return p.name }

// IsOpenAI reports whether p should be treated with OpenAI-shape rules —
// true for the OpenAI variant itself and for any Custom variant.
func (p Protocol) IsOpenAI() bool { return p != Anthropic }

// IsAnthropic reports whether p is the Anthropic variant.
func (p Protocol) IsAnthropic() bool { return p == Anthropic }

// IsCustom reports whether p is neither the predeclared OpenAI nor Anthropic
// variant.
func (p Protocol) IsCustom() bool { return p != OpenAI && p != Anthropic }

func (p Protocol) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.name)
}

func (p *Protocol) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case OpenAI.name:
		*p = OpenAI
	case Anthropic.name:
		*p = Anthropic
	default:
		*p = CustomProtocol(s)
	}
	return nil
}

func (p Protocol) String() string { return p.name }

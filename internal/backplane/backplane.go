// Package backplane fans events out across server processes through a
// shared publish/subscribe broker. Single-process deployments use the Noop
// implementation.
package backplane

import (
	"encoding/json"
)

// Envelope carries one event across the backplane. Origin identifies the
// publishing process so subscribers can skip their own deliveries.
type Envelope struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Backplane delivery is at-least-once and unordered across channels.
type Backplane interface {
	Publish(env Envelope) error
	// Subscribe registers the handler for envelopes published by other
	// processes. Envelopes from this process are filtered out.
	Subscribe(handler func(Envelope)) error
	Close() error
}

// Noop is the single-process backplane: publishes go nowhere and no remote
// envelopes arrive.
type Noop struct{}

func (Noop) Publish(Envelope) error { return nil }

func (Noop) Subscribe(func(Envelope)) error { return nil }

func (Noop) Close() error { return nil }

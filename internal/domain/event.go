package domain

import (
	"encoding/json"
	"time"
)

// Bus channels the engine publishes on.
const (
	ChannelOrders     = "orders"
	ChannelFills      = "fills"
	ChannelMarkets    = "markets"
	ChannelClaims     = "claims"
	ChannelCollateral = "collateral"
	ChannelLeverage   = "leverage"

	// StreamFills is the durable copy of every fill.
	StreamFills = "stream:fills"
)

// Event is the envelope published on the signal bus.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// EncodeEvent marshals an event envelope.
func EncodeEvent(typ string, payload any) ([]byte, error) {
	return json.Marshal(Event{Type: typ, Payload: payload, CreatedAt: time.Now().UTC()})
}

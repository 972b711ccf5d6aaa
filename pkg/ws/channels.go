// Package ws provides a WebSocket client for the KIS realtime feed.
package ws

// Channel represents a realtime subscription channel (a tr_id on the wire).
type Channel string

// Available realtime channels.
const (
	// ChannelQuote delivers best bid/ask updates.
	ChannelQuote Channel = "H0STCNT0"

	// ChannelExecution delivers trade execution ticks.
	ChannelExecution Channel = "H0STCNI0"
)

// DefaultChannels is the channel set subscribed when none is specified.
var DefaultChannels = []Channel{ChannelQuote, ChannelExecution}

// String returns the wire tr_id of the channel.
func (c Channel) String() string {
	return string(c)
}

// IsValid returns true if the channel is a known realtime channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelQuote, ChannelExecution:
		return true
	default:
		return false
	}
}

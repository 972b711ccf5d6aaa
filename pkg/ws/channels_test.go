package ws

import "testing"

func TestChannelIsValid(t *testing.T) {
	tests := []struct {
		channel Channel
		want    bool
	}{
		{ChannelQuote, true},
		{ChannelExecution, true},
		{Channel("PINGPONG"), false},
		{Channel(""), false},
		{Channel("H0STASP0"), false},
	}
	for _, tt := range tests {
		if got := tt.channel.IsValid(); got != tt.want {
			t.Errorf("Channel(%q).IsValid() = %v, want %v", tt.channel, got, tt.want)
		}
	}
}

func TestDefaultChannels(t *testing.T) {
	if len(DefaultChannels) != 2 {
		t.Fatalf("DefaultChannels has %d entries, want 2", len(DefaultChannels))
	}
	for _, ch := range DefaultChannels {
		if !ch.IsValid() {
			t.Errorf("default channel %q is invalid", ch)
		}
	}
}

package transport

import "testing"

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		kind CommandKind
		args int
		ok   bool
	}{
		{name: "slash", text: "/track", kind: CommandTrack, ok: true},
		{name: "slash with arg", text: "/track U123", kind: CommandTrack, args: 1, ok: true},
		{name: "bot suffix", text: "/status@trackbot U123", kind: CommandStatus, args: 1, ok: true},
		{name: "plain trigger", text: "Track Status", kind: CommandTrack, ok: true},
		{name: "start maps to help", text: "/start", kind: CommandHelp, ok: true},
		{name: "unknown", text: "/frobnicate", ok: false},
		{name: "chatter", text: "hello there", ok: false},
		{name: "empty", text: "   ", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			kind, args, ok := ParseCommand(tt.text)
			if ok != tt.ok {
				t.Fatalf("ParseCommand(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if !ok {
				return
			}
			if kind != tt.kind {
				t.Fatalf("kind = %q, want %q", kind, tt.kind)
			}
			if len(args) != tt.args {
				t.Fatalf("args = %v, want %d entries", args, tt.args)
			}
		})
	}
}

package playercount

import (
	"fmt"
	"testing"
)

func TestExtract_Ratio(t *testing.T) {
	pairs := []struct{ online, max int }{
		{0, 10}, {5, 20}, {127, 128}, {1000, 1000},
	}
	for _, p := range pairs {
		response := fmt.Sprintf("%d/%d", p.online, p.max)
		if got := Extract(response, ""); got != p.online {
			t.Errorf("Extract(%q) = %d, want %d", response, got, p.online)
		}
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		response string
		pattern  string
		want     int
	}{
		{name: "empty", response: "", want: 0},
		{name: "whitespace only", response: "  \n\t ", want: 0},
		{name: "no digits", response: "no digits here", want: 0},
		{name: "sentinel", response: "N/A", want: 0},
		{name: "ratio with spaces", response: " 5 / 20 ", want: 5},
		{
			name:     "numbered listing",
			response: "1. Alice, steamid\n2. Bob, steamid\n3. Carol, steamid",
			want:     3,
		},
		{
			name:     "numbered listing ignores chatter",
			response: "Players online:\n1. Alice, id\n2. Bob, id\n",
			want:     2,
		},
		{
			name:     "csv listing",
			response: "name,playeruid,steamid\nAlice,100,steam_1\nBob,200,steam_2\n",
			want:     2,
		},
		{
			name:     "csv listing empty server",
			response: "name,playeruid,steamid\n",
			want:     0,
		},
		{
			name:     "online players header",
			response: "Online players (4):\nAlice Bob Carol Dave",
			want:     4,
		},
		{
			name:     "custom pattern",
			response: "currently 17 players connected",
			pattern:  `\d+`,
			want:     17,
		},
		{
			name:     "custom pattern no match",
			response: "players: none 0f them",
			pattern:  `connected: (\d+)`,
			want:     0,
		},
		{
			name:     "invalid custom pattern",
			response: "7 players",
			pattern:  `((`,
			want:     0,
		},
		{name: "unmatched shape", response: "some text with 42 inside", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.response, tt.pattern); got != tt.want {
				t.Errorf("Extract(%q, %q) = %d, want %d", tt.response, tt.pattern, got, tt.want)
			}
		})
	}
}

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteUtterance(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		route   Route
		command Command
	}{
		{"empty", "", RouteNoise, CommandNone},
		{"whitespace only", "   ", RouteNoise, CommandNone},
		{"single filler", "um", RouteNoise, CommandNone},
		{"two fillers", "uh okay", RouteNoise, CommandNone},
		{"filler plus content is not noise", "um pizza", RouteIntentFragment, CommandNone},
		{"hold command", "hold on", RouteCommand, CommandHold},
		{"hold with punctuation", "Hold on!", RouteCommand, CommandHold},
		{"resume command", "resume", RouteCommand, CommandResume},
		{"cancel command", "never mind", RouteCommand, CommandCancel},
		{"kill command", "stop everything", RouteCommand, CommandKill},
		{"command is exact match only", "please hold on a moment", RouteIntentFragment, CommandNone},
		{"interruption", "no wait", RouteInterruption, CommandNone},
		{"interruption with apostrophe", "that's not it", RouteInterruption, CommandNone},
		{"ordinary fragment", "book me a flight to lisbon", RouteIntentFragment, CommandNone},
		{"case insensitive", "CANCEL THAT", RouteCommand, CommandCancel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := RouteUtterance(tt.text)
			assert.Equal(t, tt.route, d.Route)
			assert.Equal(t, tt.command, d.Command)
		})
	}
}

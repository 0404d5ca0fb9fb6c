package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStateActive(t *testing.T) {
	tests := []struct {
		state SessionState
		want  bool
	}{
		{StateInactive, false},
		{StatePreparing, true},
		{StateGenerating, true},
		{StateRunning, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Active())
		})
	}
}

func TestSessionReadiness(t *testing.T) {
	s := Session{Participants: []Participant{
		{Slot: "Host", Ready: false},
		{Slot: "P2", Ready: true},
	}}
	assert.False(t, s.AllReady())
	assert.Equal(t, []string{"Host"}, s.Missing())

	s.Participants[0].Ready = true
	assert.True(t, s.AllReady())
	assert.Empty(t, s.Missing())

	assert.False(t, Session{}.AllReady(), "an empty roster is never ready")
}

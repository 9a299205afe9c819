package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidParticipantID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"P01", true},
		{"pilot_03-b", true},
		{"", false},
		{"P 01", false},
		{"../P01", false},
		{"P01/x", false},
		{"abcdefghijklmnopqrstuvwxyz0123456789", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidParticipantID(tt.id))
		})
	}
}

func TestNormalizeParticipantID(t *testing.T) {
	assert.Equal(t, "P01", NormalizeParticipantID("  P01\n"))
}

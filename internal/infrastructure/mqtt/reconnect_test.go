package mqtt

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

func TestBackoffDelay(t *testing.T) {
	base := 500 * time.Millisecond
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, base},
		{1, base * 2},
		{2, base * 4},
		{4, base * 16},
		{-1, base},
	}

	for _, tt := range tests {
		if got := backoffDelay(base, tt.attempts); got != tt.want {
			t.Errorf("backoffDelay(%v, %d) = %v, want %v", base, tt.attempts, got, tt.want)
		}
	}

	if got := backoffDelay(time.Millisecond, 200); got <= 0 {
		t.Errorf("backoffDelay overflowed: %v", got)
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad credentials", packets.ErrorRefusedBadUsernameOrPassword, true},
		{"not authorised", packets.ErrorRefusedNotAuthorised, true},
		{"wrapped", fmt.Errorf("connack: %w", packets.ErrorRefusedNotAuthorised), true},
		{"server unavailable", packets.ErrorRefusedServerUnavailable, false},
		{"identifier rejected", packets.ErrorRefusedIDRejected, false},
		{"network", errors.New("i/o timeout"), false},
		{"timeout", ErrTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAuthFailure(doneToken(tt.err), tt.err); got != tt.want {
				t.Errorf("isAuthFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

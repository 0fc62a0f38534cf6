package ws

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOriginPolicy_Allows(t *testing.T) {
	policy := newOriginPolicy([]string{" https://Chat.Example.com ", "not an origin", ""}, slog.Default())

	tests := []struct {
		origin string
		ok     bool
	}{
		{"https://chat.example.com", true},
		{"https://chat.example.com/some/path", true},
		{"http://chat.example.com", false},
		{"https://chat.example.com:8443", false},
		{"not an origin", false},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			require.Equal(t, tt.ok, policy.allows(tt.origin))
		})
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, slog.Default())
	require.True(t, policy.allows("http://anything.test"))
	require.True(t, policy.allows("garbage"))
}

func TestState_String(t *testing.T) {
	req := require.New(t)
	req.Equal("connecting", Connecting.String())
	req.Equal("active", Active.String())
	req.Equal("closed", Closed.String())
	req.Equal("state(42)", State(42).String())
}

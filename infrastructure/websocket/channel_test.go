package websocket

import (
	"fmt"
	"io"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestIsUnexpectedClose(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Normal closure",
			err:      &websocket.CloseError{Code: websocket.CloseNormalClosure},
			expected: false,
		},
		{
			name:     "Peer going away",
			err:      &websocket.CloseError{Code: websocket.CloseGoingAway},
			expected: false,
		},
		{
			name:     "Server internal error",
			err:      &websocket.CloseError{Code: websocket.CloseInternalServerErr},
			expected: true,
		},
		{
			name:     "Wrapped policy violation",
			err:      fmt.Errorf("connection of bot-1 closed: %w", &websocket.CloseError{Code: websocket.ClosePolicyViolation}),
			expected: true,
		},
		{
			name:     "Not a close frame",
			err:      io.ErrUnexpectedEOF,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.New(t).Equal(tt.expected, IsUnexpectedClose(tt.err))
		})
	}
}

//internal/transport/websocket_test.go
package transport

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/gorilla/websocket"
)

func TestIsGracefulClose(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, false},
		{"no status", &websocket.CloseError{Code: websocket.CloseNoStatusReceived}, false},
		{"abnormal", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, false},
		{"wrapped normal", fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseNormalClosure}), true},
		{"io error", errors.New("connection reset"), false},
		{"nil", nil, false},
	}

	for _, tc := range testCases {
		if got := IsGracefulClose(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsNoiseClose(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"no status", &websocket.CloseError{Code: websocket.CloseNoStatusReceived}, true},
		{"policy violation", &websocket.CloseError{Code: websocket.ClosePolicyViolation}, false},
		{"net closed", net.ErrClosed, true},
		{"closed conn string", errors.New("use of closed network connection"), true},
		{"other", errors.New("connection reset by peer"), false},
	}

	for _, tc := range testCases {
		if got := IsNoiseClose(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

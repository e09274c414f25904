package chat

import (
	"errors"
	"fmt"
)

// ErrNotConnected is wrapped by SendError when Say is called without a live connection.
var ErrNotConnected = errors.New("chat: not connected")

// ConnectError reports a failed handshake. Credential is true when Twitch
// rejected the login, which calls for a token refresh before reconnecting.
type ConnectError struct {
	Channel    string
	Credential bool
	Err        error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("chat connect %s: %v", e.Channel, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a message the transport would not accept. Callers log it and move on.
type SendError struct {
	Channel string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("chat send %s: %v", e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

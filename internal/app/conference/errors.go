package conference

import "errors"

var (
	// ErrSessionActive is returned by Connect while a room is connecting or connected.
	ErrSessionActive = errors.New("session already active")
	ErrConnectFailed = errors.New("connect failed")
	ErrAcquireFailed = errors.New("media acquisition failed")
	ErrNoSession     = errors.New("no active session")

	// ErrConnectAbandoned is returned by a Connect that a Disconnect superseded.
	ErrConnectAbandoned = errors.New("connect abandoned")
)

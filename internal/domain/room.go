// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxRoomNameLen = 128

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type (
	RoomName string
	RoomSID  string
)

// Validate keeps obviously broken names away from the SDK.
func (n RoomName) Validate() error {
	if len(n) == 0 {
		return ErrRoomNameEmpty
	}
	if len(n) > MaxRoomNameLen {
		return ErrRoomNameTooLong
	}
	return nil
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Active reports whether a room handle is live or being established.
func (s ConnectionState) Active() bool {
	return s == Connecting || s == Connected
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

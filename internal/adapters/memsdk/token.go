package memsdk

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dkeye/roomsync/internal/domain"
)

// TokenSource mints opaque tokens the in-memory connector accepts.
type TokenSource struct{}

func (TokenSource) Generate(room domain.RoomName, identity string) (string, error) {
	if identity == "" {
		return "", errors.New("empty identity")
	}
	return fmt.Sprintf("mem.%s.%s.%s", room, identity, uuid.NewString()[:8]), nil
}

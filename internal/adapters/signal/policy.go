package signal

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickClient
)

// Policy decides what happens to a client whose send queue is full.
type Policy interface {
	OnBackpressure(clientID string, dropped int) BackpressureAction
}

// DropPolicy drops frames, and kicks the client once it has lost more than
// MaxDropped in a row. Zero never kicks.
type DropPolicy struct {
	MaxDropped int
}

func (p DropPolicy) OnBackpressure(_ string, dropped int) BackpressureAction {
	if p.MaxDropped > 0 && dropped > p.MaxDropped {
		return KickClient
	}
	return DropFrame
}

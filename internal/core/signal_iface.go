package core

// Frame is one encoded message for a UI client.
type Frame []byte

// SignalConnection is the outbound half of a UI client link. TrySend never
// blocks; a full queue is reported as an error and the frame is lost.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

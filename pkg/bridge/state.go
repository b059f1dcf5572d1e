package bridge

// State is the lifecycle position of a stream.
//
//	Idle -> Connecting -> Streaming -> Closing -> Closed
//	                 \         \
//	                  +-> Erred -+-> Closing -> Closed
//
// Only Idle and Closed have no I/O pending.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateErred
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateErred:
		return "erred"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

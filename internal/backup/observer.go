package backup

// Message is one typed update from a running driver to its observer. A
// single observer channel receives messages from several drivers
// interleaved; within one driver the order matches the walker, across
// drivers there is no ordering. Consumers serialize as needed.
type Message interface {
	message()
}

// ProgressUpdate reports how far along one driver is.
type ProgressUpdate struct {
	Source  string
	Percent float64
	Message string
}

// ErrorMessage carries one recorded per-destination error.
type ErrorMessage struct {
	Source string
	Err    OpError
}

// Finished signals that a driver has stopped, successfully or not. Every
// driver emits it exactly once.
type Finished struct {
	Source string
}

func (ProgressUpdate) message() {}
func (ErrorMessage) message()   {}
func (Finished) message()       {}

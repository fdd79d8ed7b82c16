package emit

// NullEmitter discards all events. Use it to disable observability without
// touching wiring code; it is safe for concurrent use and has zero
// overhead.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(_ Event) {}

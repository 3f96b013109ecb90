package events

// Event enumerates high-level topics inside the signal pipeline.
type Event string

const (
	EventScanCompleted     Event = "scan.completed"
	EventSignalAccepted    Event = "signal.accepted"
	EventSignalsExpired    Event = "signal.expired"
	EventOrderSubmitted    Event = "order.submitted"
	EventOrderRejected     Event = "order.rejected"
	EventOrderFilled       Event = "order.filled"
	EventExecutionLogged   Event = "execution.logged"
	EventExecutionDegraded Event = "execution.degraded"
	EventPositionClosed    Event = "position.closed"
)

// Feed lists the topics streamed to external listeners.
var Feed = []Event{
	EventScanCompleted,
	EventSignalAccepted,
	EventSignalsExpired,
	EventExecutionLogged,
	EventExecutionDegraded,
	EventPositionClosed,
}

// Envelope tags a payload with its topic.
type Envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload"`
}

package crawler

const (
	QuitSignal EventType = iota
	ObservationDone
	ObservationFailed
)

type EventType int

func (et EventType) String() string {
	switch et {
	case QuitSignal:
		return "QuitSignal"
	case ObservationDone:
		return "ObservationDone"
	case ObservationFailed:
		return "ObservationFailed"
	default:
		return "Unknown"
	}
}

type QuitEvent struct{}

func (q QuitEvent) Type() EventType {
	return QuitSignal
}

// ObservableEvent is emitted when the observation of an observable ends, or
// when one of its polls fails.
type ObservableEvent struct {
	EventType EventType
	Key       string
	Err       error
}

func (e ObservableEvent) Type() EventType {
	return e.EventType
}

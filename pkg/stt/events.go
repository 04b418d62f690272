package stt

type EventType string

const (
	EventInfo    EventType = "info"
	EventSegment EventType = "segment"
	EventFinal   EventType = "final"
	EventError   EventType = "error"
)

// Event is one line of a transcription stream.
type Event struct {
	Type    EventType `json:"type"`
	Data    any       `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
}

func NewInfoEvent(info *Info) *Event {
	return &Event{Type: EventInfo, Data: info}
}

func NewSegmentEvent(seg *Segment) *Event {
	return &Event{Type: EventSegment, Data: seg}
}

func NewFinalEvent(msg string) *Event {
	return &Event{Type: EventFinal, Message: msg}
}

func NewErrorEvent(msg string) *Event {
	return &Event{Type: EventError, Message: msg}
}

// IsTerminal reports whether no event may follow e.
func (e *Event) IsTerminal() bool {
	return e.Type == EventFinal || e.Type == EventError
}

package events

type SpeechStartedEvent struct {
	Base
}

func NewSpeechStartedEvent() SpeechStartedEvent {
	return SpeechStartedEvent{Base: NewBase(KindSpeechStarted)}
}

func (e SpeechStartedEvent) String() string { return "speech started" }

type SpeechEndedEvent struct {
	Base
}

func NewSpeechEndedEvent() SpeechEndedEvent {
	return SpeechEndedEvent{Base: NewBase(KindSpeechEnded)}
}

func (e SpeechEndedEvent) String() string { return "speech ended" }

package events

import "time"

type Kind string

const (
	KindTranscript    Kind = "transcript"
	KindSpeechStarted Kind = "speech_started"
	KindSpeechEnded   Kind = "speech_ended"
	KindUserPrompt    Kind = "user_prompt"
)

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

package events

// TranscriptEvent carries one recognition result from the transcription link.
// Interim results arrive with Final() == false and may be revised by later
// events; final results are stable.
type TranscriptEvent struct {
	Base
	text       string
	final      bool
	confidence float64
}

func NewTranscriptEvent(text string, final bool, confidence float64) TranscriptEvent {
	return TranscriptEvent{
		Base:       NewBase(KindTranscript),
		text:       text,
		final:      final,
		confidence: confidence,
	}
}

func (e TranscriptEvent) String() string      { return e.text }
func (e TranscriptEvent) Text() string        { return e.text }
func (e TranscriptEvent) Final() bool         { return e.final }
func (e TranscriptEvent) Confidence() float64 { return e.confidence }

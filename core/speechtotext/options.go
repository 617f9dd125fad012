package speechtotext

import (
	"time"

	"github.com/hotline-labs/hotline-core/core/audio"
)

// Transcript is a single recognition result. Interim transcripts (IsFinal
// false) are best-effort previews and may be revised; final transcripts are
// stable segments of the current utterance.
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
	ReceivedAt time.Time
}

type TranscriptionOptions struct {
	// TranscriptCallback is called for every recognition result, interim and
	// final.
	TranscriptCallback func(Transcript)
	// UtteranceEndCallback is called when the vendor signals the end of the
	// current utterance.
	UtteranceEndCallback func()
	// SpeechStartedCallback is called when the vendor detects the user
	// starting to speak.
	SpeechStartedCallback func()
	// ErrorCallback is called when the transcription link fails permanently,
	// after reconnection attempts are exhausted.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithTranscriptCallback(callback func(Transcript)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptCallback = callback
	}
}

func WithUtteranceEndCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.UtteranceEndCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithErrorCallback(callback func(error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}

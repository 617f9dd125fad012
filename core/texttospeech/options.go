package texttospeech

import "github.com/hotline-labs/hotline-core/core/audio"

// VoiceSettings selects and shapes the synthesis voice. Zero values fall back
// to vendor defaults.
type VoiceSettings struct {
	VoiceID         string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	UseSpeakerBoost bool
}

type SynthesisOptions struct {
	// AudioCallback is called when the synthesis client produces audio.
	AudioCallback func(audio []byte)
	// MarkCallback is called once per mark, with the text segment synthesized
	// up to that mark.
	MarkCallback func(segment string)
	// SpeechEndedCallback is called when all requested speech has been
	// produced.
	SpeechEndedCallback func()
	// ErrorCallback is called when synthesis fails; the generator is unusable
	// afterwards.
	ErrorCallback func(error)

	Voice        VoiceSettings
	EncodingInfo audio.EncodingInfo
}

type SynthesisOption func(*SynthesisOptions)

func WithAudioCallback(callback func([]byte)) SynthesisOption {
	return func(o *SynthesisOptions) { o.AudioCallback = callback }
}

func WithMarkCallback(callback func(string)) SynthesisOption {
	return func(o *SynthesisOptions) { o.MarkCallback = callback }
}

func WithSpeechEndedCallback(callback func()) SynthesisOption {
	return func(o *SynthesisOptions) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(error)) SynthesisOption {
	return func(o *SynthesisOptions) { o.ErrorCallback = callback }
}

func WithVoiceSettings(voice VoiceSettings) SynthesisOption {
	return func(o *SynthesisOptions) { o.Voice = voice }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}

type SpeechGenerator interface {
	// SendText sends text to the generator. Speech is guaranteed to be
	// generated in the order text is sent.
	//
	// SendText will error if EndOfText, Cancel or Close has been called.
	SendText(string) error
	// Mark marks the current point in the text. The mark callback fires after
	// the text sent up to the mark has been generated, with that segment of
	// text.
	//
	// Mark will error if EndOfText, Cancel or Close has been called.
	Mark() error
	// EndOfText signals that no more text will be sent. The generator closes
	// itself after all remaining speech has been generated.
	//
	// EndOfText will error if Cancel or Close has been called.
	EndOfText() error
	// Cancel immediately stops further speech generation and closes the
	// generator. Repeated calls are ignored.
	Cancel() error
	// Close immediately closes the generator. No more speech is produced
	// after this call. Repeated calls are ignored.
	Close() error
}

package orchestration

import (
	"context"
	"time"

	"github.com/hotline-labs/hotline-core/core/audio"
	"github.com/hotline-labs/hotline-core/core/conversations"
	"github.com/hotline-labs/hotline-core/core/events"
	"github.com/hotline-labs/hotline-core/core/llms"
	"github.com/hotline-labs/hotline-core/core/speechtotext"
	"github.com/hotline-labs/hotline-core/core/texttospeech"
)

// SpeechToText is the contract transcription clients implement.
type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
}

// TextToSpeech is the contract synthesis clients implement. A generator is
// created per agent response.
type TextToSpeech interface {
	NewSpeechGenerator(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error)
}

// LLMWithStream is the contract streaming language model clients implement.
type LLMWithStream interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream
}

// AudioInput is the contract microphone capture clients implement. Stream
// blocks until the context is cancelled or the device fails.
type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}

// AudioOutput is the contract playback clients implement. Mark must invoke
// the callback once everything queued before the mark has played.
type AudioOutput interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	Mark(mark string, callback func(string)) error
	ClearBuffer()
}

type OrchestratorOption func(*Orchestrator)

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText.set(client) }
}

func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) { o.textToSpeechClient = client }
}

func WithStreamingLLM(client LLMWithStream) OrchestratorOption {
	return func(o *Orchestrator) { o.llm.set(client) }
}

func WithAudioInput(client AudioInput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput.Set(client) }
}

func WithAudioOutput(client AudioOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioOutput.Set(client) }
}

func WithVoiceActivityConfig(config VoiceActivityConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.voiceActivity = newVoiceActivityMonitor(config) }
}

// WithUtteranceHoldOff sets how long the session waits after the vendor's
// end-of-utterance signal before committing the utterance. Speech resuming
// within the hold-off folds into the same utterance.
func WithUtteranceHoldOff(holdOff time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.utteranceHoldOff = holdOff }
}

// SessionOptions carry the observer callbacks for one session. All callbacks
// are invoked from the session runtime loop and should return promptly.
type SessionOptions struct {
	onEvent             func(events.Event)
	onTranscript        func(events.TranscriptEvent)
	onStateChanged      func(SessionState)
	onResponse          func(chunk string)
	onAudio             func(audio []byte)
	onTurnCompleted     func(conversations.Turn)
	onCancellation      func()
	onSessionTerminated func(reason error)
}

type SessionOption func(*SessionOptions)

// WithConversationEventCallback observes every conversation event:
// transcripts, speech boundaries and typed prompts. Use the dedicated
// callbacks when only one kind matters.
func WithConversationEventCallback(callback func(events.Event)) SessionOption {
	return func(o *SessionOptions) { o.onEvent = callback }
}

// WithTranscriptCallback is called for every transcript, interim and final.
func WithTranscriptCallback(callback func(events.TranscriptEvent)) SessionOption {
	return func(o *SessionOptions) { o.onTranscript = callback }
}

func WithStateChangedCallback(callback func(SessionState)) SessionOption {
	return func(o *SessionOptions) { o.onStateChanged = callback }
}

// WithResponseCallback is called for each generated response text chunk.
func WithResponseCallback(callback func(chunk string)) SessionOption {
	return func(o *SessionOptions) { o.onResponse = callback }
}

// WithAudioCallback is called for each synthesized audio chunk sent to
// playback.
func WithAudioCallback(callback func(audio []byte)) SessionOption {
	return func(o *SessionOptions) { o.onAudio = callback }
}

// WithTurnCompletedCallback is called when a turn is committed to history.
func WithTurnCompletedCallback(callback func(conversations.Turn)) SessionOption {
	return func(o *SessionOptions) { o.onTurnCompleted = callback }
}

// WithCancellationCallback is called when an in-flight response is cancelled,
// whether by barge-in or by continued user speech.
func WithCancellationCallback(callback func()) SessionOption {
	return func(o *SessionOptions) { o.onCancellation = callback }
}

// WithSessionTerminatedCallback is called once when the session terminates.
// The reason is nil for a normal hangup.
func WithSessionTerminatedCallback(callback func(reason error)) SessionOption {
	return func(o *SessionOptions) { o.onSessionTerminated = callback }
}

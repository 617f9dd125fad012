// Package orchestration runs full-duplex voice conversations: microphone
// audio streams to transcription while agent responses stream through the
// language model and speech synthesis back out to playback. The user can
// interrupt the agent mid-sentence; the agent's turn is then truncated to
// exactly the prefix that was played.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hotline-labs/hotline-core/core/personality"
	"github.com/hotline-labs/hotline-core/core/speechtotext"
)

const defaultUtteranceHoldOff = 300 * time.Millisecond

// Orchestrator wires the vendor clients together and hosts one session at a
// time.
type Orchestrator struct {
	speechToText       *speechToText
	textToSpeechClient TextToSpeech
	llm                *llm
	audioInput         *audioInput
	audioOutput        *audioOutput

	voiceActivity    *voiceActivityMonitor
	voiceActivityMu  sync.Mutex
	utteranceHoldOff time.Duration

	sessionMu sync.RWMutex
	session   *Session
	runtime   *sessionRuntime

	started   atomic.Bool
	closeOnce sync.Once
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	orchestrator := &Orchestrator{
		speechToText:     newSpeechToText(nil),
		llm:              newLLM(nil),
		audioOutput:      newAudioOutput(nil),
		voiceActivity:    newVoiceActivityMonitor(VoiceActivityConfig{}),
		utteranceHoldOff: defaultUtteranceHoldOff,
	}
	orchestrator.audioInput = newAudioInput(nil, orchestrator.handleInputAudio)

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// StartSession begins a conversation with the given personality. The session
// starts idle, speaks the greeting if the personality has one, and then
// listens. StartSession returns once the session is live; conversation
// progress is reported through the session callbacks.
func (o *Orchestrator) StartSession(ctx context.Context, p personality.Personality, opts ...SessionOption) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid personality: %w", err)
	}

	if !o.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session already started")
	}

	options := SessionOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	session := newSession(p)
	runtime := newSessionRuntime(ctx, session, options, o.llm, o.textToSpeechClient, o.audioOutput, o.utteranceHoldOff)

	o.sessionMu.Lock()
	o.session = session
	o.runtime = runtime
	o.sessionMu.Unlock()

	runtime.start()

	if err := o.speechToText.Start(ctx, o.audioInput.EncodingInfo(), speechToTextCallbacks{
		onTranscript: func(transcript speechtotext.Transcript) {
			runtime.enqueue(transcriptReceived{transcript: transcript})
		},
		onUtteranceEnd: func() {
			runtime.enqueue(utteranceEnded{})
		},
		onSpeechStarted: func() {
			runtime.enqueue(speechStarted{})
		},
		onFatalError: func(err error) {
			runtime.enqueuePriority(transcriptionFailed{err: err})
		},
	}); err != nil {
		runtime.end()
		if errors.Is(err, speechtotext.ErrProtocol) {
			return fmt.Errorf("%w: failed to start transcription: %w", ErrProtocolFailure, err)
		}
		return fmt.Errorf("failed to start transcription: %w", err)
	}

	o.audioInput.Start(ctx, func(err error) {
		if err != nil {
			runtime.enqueuePriority(hangupRequested{
				reason: fmt.Errorf("%w: %w", ErrDeviceUnavailable, err),
			})
		}
	})

	runtime.enqueue(sessionStarted{greeting: p.Greeting})

	return nil
}

// FeedAudio pushes a capture frame into the session, for callers that bring
// their own audio transport instead of an AudioInput client. Muted sessions
// drop the frame.
func (o *Orchestrator) FeedAudio(audio []byte) error {
	runtime := o.runtimeSnapshot()
	if runtime == nil {
		return ErrSessionClosed
	}
	if runtime.isClosed() {
		return ErrSessionClosed
	}

	if o.audioInput.IsMuted() {
		return nil
	}

	o.handleInputAudio(audio)
	return nil
}

// handleInputAudio routes every unmuted capture frame: voice activity watches
// it for barge-in, and the transcription link receives it.
func (o *Orchestrator) handleInputAudio(frame []byte) {
	runtime := o.runtimeSnapshot()
	session := o.sessionSnapshot()
	if runtime == nil || session == nil || runtime.isClosed() {
		return
	}

	o.voiceActivityMu.Lock()
	signal := o.voiceActivity.Observe(frame)
	o.voiceActivityMu.Unlock()

	if signal.SustainedVoiceStarted && session.State() == StateSpeaking {
		runtime.enqueuePriority(bargeInDetected{energy: signal.Energy})
	}

	// Local silence is a fallback end-of-utterance signal for when the
	// vendor's utterance-end never arrives. The runtime ignores it unless
	// there is a pending utterance to commit.
	if signal.SustainedSilenceStarted && session.State() == StateListening {
		runtime.enqueue(utteranceEnded{})
	}

	o.speechToText.SendAudio(frame)
}

// SendPrompt submits a typed user utterance, bypassing transcription. The
// session must be listening.
func (o *Orchestrator) SendPrompt(prompt string) error {
	runtime := o.runtimeSnapshot()
	if runtime == nil || runtime.isClosed() {
		return ErrSessionClosed
	}

	runtime.enqueue(userPromptReceived{prompt: prompt})
	return nil
}

// Mute drops microphone frames until Unmute. Transcription stays connected.
func (o *Orchestrator) Mute()         { o.audioInput.Mute() }
func (o *Orchestrator) Unmute()       { o.audioInput.Unmute() }
func (o *Orchestrator) IsMuted() bool { return o.audioInput.IsMuted() }

// Hangup ends the session normally. Safe to call repeatedly.
func (o *Orchestrator) Hangup() {
	runtime := o.runtimeSnapshot()
	if runtime == nil || runtime.isClosed() {
		return
	}

	runtime.enqueuePriority(hangupRequested{})
}

// Session returns the live session, or nil before StartSession.
func (o *Orchestrator) Session() *Session {
	return o.sessionSnapshot()
}

// Close tears the orchestrator down: the runtime loop stops, capture and
// transcription close. Blocks until the runtime loop has exited.
func (o *Orchestrator) Close(ctx context.Context) {
	o.closeOnce.Do(func() {
		runtime := o.runtimeSnapshot()
		if runtime != nil {
			runtime.enqueuePriority(hangupRequested{})
		}

		o.audioInput.Close()
		if err := o.speechToText.Close(ctx); err != nil {
			logger.Warn("Failed to close transcription", "error", err)
		}

		if runtime != nil {
			runtime.waitUntilEnded()
		}
	})
}

func (o *Orchestrator) runtimeSnapshot() *sessionRuntime {
	o.sessionMu.RLock()
	defer o.sessionMu.RUnlock()
	return o.runtime
}

func (o *Orchestrator) sessionSnapshot() *Session {
	o.sessionMu.RLock()
	defer o.sessionMu.RUnlock()
	return o.session
}

package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hotline-labs/hotline-core/core/audio"
	"github.com/hotline-labs/hotline-core/core/speechtotext"
)

// speechToTextCallbacks is how transcription results reach the session
// runtime. All callbacks are invoked from the transcription client's reader
// goroutine.
type speechToTextCallbacks struct {
	onTranscript    func(speechtotext.Transcript)
	onUtteranceEnd  func()
	onSpeechStarted func()
	// onFatalError is called once when the transcription link is lost for
	// good, after the client exhausted its reconnection attempts.
	onFatalError func(error)
}

// speechToText wraps the configured transcription client with an unbounded
// send queue. Audio capture never blocks on the transcription link; frames
// queue up during reconnects and drain once the link is back.
type speechToText struct {
	// client stores the configured speech-to-text implementation.
	client SpeechToText

	mu           sync.Mutex
	queue        [][]byte
	updateSignal chan struct{}

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newSpeechToText(client SpeechToText) *speechToText {
	return &speechToText{
		client:       client,
		updateSignal: make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
	}
}

func (s *speechToText) set(client SpeechToText) {
	if s != nil {
		s.client = client
	}
}

func (s *speechToText) isConfigured() bool {
	return s != nil && s.client != nil
}

// Start opens the transcription stream and starts the audio pump.
func (s *speechToText) Start(ctx context.Context, encodingInfo audio.EncodingInfo, callbacks speechToTextCallbacks) error {
	if !s.isConfigured() {
		return nil
	}

	sttOptions := []speechtotext.TranscriptionOption{
		speechtotext.WithEncodingInfo(encodingInfo),
	}
	if callbacks.onTranscript != nil {
		sttOptions = append(sttOptions, speechtotext.WithTranscriptCallback(callbacks.onTranscript))
	}
	if callbacks.onUtteranceEnd != nil {
		sttOptions = append(sttOptions, speechtotext.WithUtteranceEndCallback(callbacks.onUtteranceEnd))
	}
	if callbacks.onSpeechStarted != nil {
		sttOptions = append(sttOptions, speechtotext.WithSpeechStartedCallback(callbacks.onSpeechStarted))
	}
	if callbacks.onFatalError != nil {
		sttOptions = append(sttOptions, speechtotext.WithErrorCallback(callbacks.onFatalError))
	}

	if err := s.client.Transcribe(ctx, sttOptions...); err != nil {
		return fmt.Errorf("failed to start transcribing: %w", err)
	}

	go s.pumpAudio(ctx)

	return nil
}

// SendAudio queues a frame for the transcription link. It never blocks and
// never fails; delivery is handled by the pump.
func (s *speechToText) SendAudio(audio []byte) {
	if !s.isConfigured() {
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, audio)
	s.mu.Unlock()
	s.signalUpdate()
}

func (s *speechToText) pumpAudio(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		case <-s.updateSignal:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			chunk := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			if err := s.client.SendAudio(chunk); err != nil {
				// The client reconnects on its own; requeue the frame and back
				// off instead of dropping audio. Permanent failures surface
				// through the error callback.
				s.mu.Lock()
				s.queue = append([][]byte{chunk}, s.queue...)
				s.mu.Unlock()

				select {
				case <-ctx.Done():
					return
				case <-s.closeCh:
					return
				case <-time.After(100 * time.Millisecond):
				}
				s.signalUpdate()
				break
			}
		}
	}
}

func (s *speechToText) Close(ctx context.Context) error {
	if !s.isConfigured() {
		return nil
	}

	s.closeOnce.Do(func() { close(s.closeCh) })

	switch c := s.client.(type) {
	case interface{ Close(context.Context) error }:
		if err := c.Close(ctx); err != nil {
			return fmt.Errorf("failed to close speech-to-text client: %w", err)
		}
	case interface{ Close(context.Context) }:
		c.Close(ctx)
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close speech-to-text client: %w", err)
		}
	case interface{ Close() }:
		c.Close()
	}

	return nil
}

func (s *speechToText) signalUpdate() {
	select {
	case s.updateSignal <- struct{}{}:
	default:
	}
}

package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hotline-labs/hotline-core/core/audio"
	"github.com/hotline-labs/hotline-core/core/texttospeech"
)

// textToSpeech wraps one speech generator for the lifetime of one response.
// The generator is created lazily by init, so a response that produces no
// text never opens a synthesis stream.
type textToSpeech struct {
	// base stores the configured TTS implementation.
	base TextToSpeech
	// voice shapes the synthesis voice for this response.
	voice texttospeech.VoiceSettings

	generator texttospeech.SpeechGenerator

	// initialized closes when init (or ensureResolved) completes so workers
	// can safely proceed.
	initialized chan struct{}
	// initOnce ensures per-response initialization is executed once.
	initOnce sync.Once
	// initErr stores the one-time initialization result.
	initErr error

	clientMu sync.RWMutex
	// connected reports whether a speech generator was initialized.
	connected atomic.Bool
	// closeStarted makes Close idempotent under concurrent shutdown paths.
	closeStarted atomic.Bool
}

func newTextToSpeech(client TextToSpeech, voice texttospeech.VoiceSettings) *textToSpeech {
	return &textToSpeech{
		base:        client,
		voice:       voice,
		initialized: make(chan struct{}),
	}
}

func (t *textToSpeech) init(ctx context.Context, audioBuffer *audioBuffer, encodingInfo audio.EncodingInfo, onError func(error)) error {
	if t == nil {
		return nil
	}

	t.initOnce.Do(func() {
		defer close(t.initialized)
		t.connected.Store(false)
		if t.closeStarted.Load() || t.base == nil {
			return
		}

		ttsOptions := []texttospeech.SynthesisOption{
			texttospeech.WithAudioCallback(audioBuffer.AddAudio),
			texttospeech.WithMarkCallback(audioBuffer.Mark),
			texttospeech.WithSpeechEndedCallback(audioBuffer.AllAudioLoaded),
			texttospeech.WithVoiceSettings(t.voice),
			texttospeech.WithEncodingInfo(encodingInfo),
		}
		if onError != nil {
			ttsOptions = append(ttsOptions, texttospeech.WithErrorCallback(onError))
		}

		generator, err := t.base.NewSpeechGenerator(ctx, ttsOptions...)
		if err != nil {
			t.initErr = fmt.Errorf("failed to create speech generator: %w", err)
			return
		}

		t.clientMu.Lock()
		if t.closeStarted.Load() {
			t.clientMu.Unlock()
			_ = generator.Close()
			return
		}
		t.generator = generator
		t.clientMu.Unlock()
		t.connected.Store(true)
	})

	return t.initErr
}

// ensureResolved resolves the initialized signal without opening a generator.
// Used when the response produced no text.
func (t *textToSpeech) ensureResolved() {
	if t == nil {
		return
	}

	t.initOnce.Do(func() {
		close(t.initialized)
	})
}

func (t *textToSpeech) waitUntilInitialized(ctx context.Context) bool {
	if t != nil && t.initialized != nil {
		select {
		case <-t.initialized:
			return t.connected.Load()
		case <-ctx.Done():
			return false
		}
	}
	return false
}

func (t *textToSpeech) SendText(text string) error {
	if t == nil {
		return nil
	}

	t.clientMu.RLock()
	generator := t.generator
	t.clientMu.RUnlock()

	if generator != nil {
		if err := generator.SendText(text); err != nil {
			return fmt.Errorf("failed to send text to tts: %w", err)
		}
	}

	return nil
}

func (t *textToSpeech) Mark() error {
	if t == nil {
		return nil
	}

	t.clientMu.RLock()
	generator := t.generator
	t.clientMu.RUnlock()

	if generator != nil {
		if err := generator.Mark(); err != nil {
			return fmt.Errorf("failed to send mark to tts: %w", err)
		}
	}

	return nil
}

func (t *textToSpeech) EndOfText() error {
	if t == nil {
		return nil
	}

	t.clientMu.RLock()
	generator := t.generator
	t.clientMu.RUnlock()

	if generator != nil {
		if err := generator.Mark(); err != nil {
			return fmt.Errorf("failed to send flush to tts: %w", err)
		}
		if err := generator.EndOfText(); err != nil {
			return fmt.Errorf("failed to send end of text to tts: %w", err)
		}
	}

	return nil
}

func (t *textToSpeech) Cancel() error {
	if t == nil {
		return nil
	}

	t.clientMu.RLock()
	generator := t.generator
	t.clientMu.RUnlock()

	if generator != nil {
		if err := generator.Cancel(); err != nil {
			return fmt.Errorf("failed to cancel tts: %w", err)
		}
	}

	return nil
}

func (t *textToSpeech) Close() error {
	if t == nil {
		return nil
	}

	if !t.closeStarted.CompareAndSwap(false, true) {
		return nil
	}

	t.clientMu.Lock()
	generator := t.generator
	t.generator = nil
	t.connected.Store(false)
	t.clientMu.Unlock()

	if generator != nil {
		if err := generator.Close(); err != nil {
			return fmt.Errorf("speech generator close failed: %w", err)
		}
	}

	return nil
}

package orchestration

import (
	"context"
	"sync/atomic"

	"github.com/hotline-labs/hotline-core/core/audio"
)

// audioInput wraps the configured capture client. Muting drops frames before
// they reach voice activity detection or the transcription link.
type audioInput struct {
	client AudioInput

	capturing atomic.Bool
	muted     atomic.Bool

	// onAudio receives unmuted capture frames.
	onAudio func([]byte)
}

func newAudioInput(client AudioInput, onAudio func([]byte)) *audioInput {
	audioInput := audioInput{onAudio: onAudio}
	audioInput.Set(client)
	return &audioInput
}

func (a *audioInput) Set(client AudioInput) {
	if a == nil {
		return
	}

	if isNilClient(client) {
		a.client = nil
		return
	}
	a.client = client
}

func (a *audioInput) isConfigured() bool {
	return a != nil && a.client != nil
}

// Start begins streaming capture frames. Stream errors end the capture loop
// and are reported through onStreamEnded.
func (a *audioInput) Start(ctx context.Context, onStreamEnded func(error)) {
	if !a.isConfigured() || !a.capturing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		err := a.client.Stream(ctx, func(frame []byte) {
			if a.muted.Load() {
				return
			}
			a.onAudio(frame)
		})
		a.capturing.Store(false)
		if onStreamEnded != nil {
			onStreamEnded(err)
		}
	}()
}

func (a *audioInput) Mute()         { a.muted.Store(true) }
func (a *audioInput) Unmute()       { a.muted.Store(false) }
func (a *audioInput) IsMuted() bool { return a != nil && a.muted.Load() }

func (a *audioInput) EncodingInfo() audio.EncodingInfo {
	if a.isConfigured() {
		return a.client.EncodingInfo()
	}

	return audio.GetDefaultEncodingInfo()
}

func (a *audioInput) Close() {
	if a.isConfigured() {
		a.client.Close()
	}
}

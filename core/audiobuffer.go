package orchestration

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hotline-labs/hotline-core/core/audio"
)

// audioBuffer queues synthesized audio between the synthesis client and the
// audio output, interleaving marks with the audio stream.
//
// The buffer tracks two playheads. The internal playhead advances as chunks
// are handed to the output; the external playhead advances only when the
// output confirms a mark, meaning every chunk before it was actually played.
// The gap between the two is audio in flight, which is exactly what gets
// discarded on interruption.
type audioBuffer struct {
	mu sync.Mutex

	encodingInfo audio.EncodingInfo

	audio          [][]byte
	allAudioLoaded bool

	internalPlayhead int
	externalPlayhead int

	marks []audioBufferMark

	stopped bool

	updateSignal chan struct{}
}

type audioBufferMark struct {
	ID          string
	transcript  string
	position    int
	broadcasted bool
	confirmed   bool
}

func newAudioBuffer(encodingInfo audio.EncodingInfo) *audioBuffer {
	return &audioBuffer{
		encodingInfo: encodingInfo,
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *audioBuffer) AddAudio(audio []byte) {
	b.mu.Lock()
	b.audio = append(b.audio, audio)
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *audioBuffer) Audio(yield func(audio audioOrMark) bool) {
	for {
		for {
			audio, ok := b.consumeNextChunk()
			if !ok {
				break
			}

			if !yield(audioOrMark{Type: "audio", Audio: audio}) {
				return
			}
			if ok := b.broadcastMarks(yield); !ok {
				return
			}
		}
		if ok := b.waitForNextAudio(yield); !ok {
			return
		}
	}
}

func (b *audioBuffer) consumeNextChunk() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || len(b.audio) <= b.internalPlayhead {
		return nil, false
	}

	audio := b.audio[b.internalPlayhead]
	b.internalPlayhead++
	return audio, true
}

func (b *audioBuffer) broadcastMarks(yield func(audioOrMark) bool) (ok bool) {
	b.mu.Lock()
	marksToBroadcast := []string{}
	for i, mark := range b.marks {
		if mark.confirmed || mark.broadcasted {
			continue
		} else if mark.position > b.internalPlayhead {
			break
		}

		b.marks[i].broadcasted = true
		marksToBroadcast = append(marksToBroadcast, mark.ID)
	}
	b.mu.Unlock()

	for _, markID := range marksToBroadcast {
		if !yield(audioOrMark{Type: "mark", Mark: markID}) {
			return false
		}
	}

	return true
}

func (b *audioBuffer) waitForNextAudio(yield func(audioOrMark) bool) (ok bool) {
	for {
		b.mu.Lock()
		noAudioAvailable := len(b.audio) == b.internalPlayhead
		stopped := b.stopped
		audioDone := b.audioDoneLocked()
		b.mu.Unlock()

		if !noAudioAvailable {
			return !(stopped || audioDone)
		}

		if stopped || audioDone {
			return false
		}

		<-b.updateSignal
		// A mark can arrive after its audio has been fully consumed; broadcast
		// here so the loop doesn't wait on a mark nobody will add audio after.
		if ok := b.broadcastMarks(yield); !ok {
			return false
		}
	}
}

func (b *audioBuffer) audioDoneLocked() bool {
	return b.allAudioLoaded && b.externalPlayhead == len(b.audio)
}

func (b *audioBuffer) Mark(transcript string) {
	b.mu.Lock()
	b.marks = append(b.marks, audioBufferMark{
		ID:         uuid.NewString(),
		transcript: transcript,
		position:   len(b.audio),
	})
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *audioBuffer) GetMarkText(id string) *string {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.marks {
		if b.marks[i].ID == id {
			transcript := b.marks[i].transcript
			return &transcript
		}
	}
	return nil
}

// ConfirmMark records that the output played everything queued before the
// mark, advancing the external playhead to the mark's position.
func (b *audioBuffer) ConfirmMark(id string) {
	b.mu.Lock()
	shouldSignal := false
	for i, mark := range b.marks {
		if mark.confirmed {
			continue
		} else if !mark.broadcasted {
			break
		}
		if mark.ID == id {
			b.marks[i].confirmed = true
			b.externalPlayhead = mark.position
			if b.audioDoneLocked() {
				shouldSignal = true
			}
			break
		}
	}
	b.mu.Unlock()

	if shouldSignal {
		b.signalUpdate()
	}
}

func (b *audioBuffer) AllAudioLoaded() {
	b.mu.Lock()
	b.allAudioLoaded = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *audioBuffer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *audioBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}

type audioOrMark struct {
	Type  string
	Audio []byte
	Mark  string
}

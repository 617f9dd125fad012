package portaudio

import (
	"fmt"
	"sync"
)

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

// playbackBuffer queues synthesized audio ahead of the device writer. The
// buffer is bounded: once it holds maxBytes of unplayed audio, push blocks
// until the writer consumes some, so producers are paced to real-time
// playback instead of draining their source at network speed.
type playbackBuffer struct {
	maxBytes int

	mu         sync.Mutex
	spaceFreed *sync.Cond
	pending    []byte
	marks      []playbackMark
	closed     bool
}

func newPlaybackBuffer(maxBytes int) *playbackBuffer {
	buffer := &playbackBuffer{maxBytes: maxBytes}
	buffer.spaceFreed = sync.NewCond(&buffer.mu)
	return buffer
}

func (b *playbackBuffer) push(audio []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.closed && len(b.pending) >= b.maxBytes {
		b.spaceFreed.Wait()
	}
	if b.closed {
		return fmt.Errorf("playback buffer closed")
	}

	b.pending = append(b.pending, audio...)
	return nil
}

func (b *playbackBuffer) mark(name string, callback func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.marks = append(b.marks, playbackMark{
		name:     name,
		position: len(b.pending),
		callback: callback,
	})
}

func (b *playbackBuffer) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = nil
	b.marks = nil
	b.spaceFreed.Broadcast()
}

// consume takes up to one frame of pending audio, padded with silence to a
// full frame, and returns any marks passed by the consumed bytes. A nil chunk
// means the buffer is drained.
func (b *playbackBuffer) consume(frameBytes int) ([]byte, []playbackMark) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		dueMarks := b.marks
		b.marks = nil
		return nil, dueMarks
	}

	n := min(len(b.pending), frameBytes)
	chunk := make([]byte, frameBytes)
	copy(chunk, b.pending[:n])
	b.pending = b.pending[n:]
	b.spaceFreed.Broadcast()

	passed := 0
	for i := range b.marks {
		if b.marks[i].position <= n {
			passed++
			continue
		}
		b.marks[i].position -= n
	}
	dueMarks := b.marks[:passed]
	b.marks = b.marks[passed:]

	return chunk, dueMarks
}

func (b *playbackBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.spaceFreed.Broadcast()
}

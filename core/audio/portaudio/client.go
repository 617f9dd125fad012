package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/hotline-labs/hotline-core/core/audio"
)

// maxBufferedPlayback bounds how much unplayed audio SendAudio may queue
// before it blocks, pacing producers to real-time playback.
const maxBufferedPlayback = time.Second

// Client captures microphone audio and plays synthesized audio on the default
// devices. Playback runs on an internal writer goroutine; SendAudio blocks
// once roughly a second of audio is queued, so callers never outrun playback
// by more than the buffer. Marks fire once playback consumes the bytes queued
// before them.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream

	in  []int16
	out []int16

	playback *playbackBuffer

	updateSignal chan struct{}
	closeCh      chan struct{}
	closeOnce    sync.Once
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	client := &Client{
		bufferSize:   bufferSize,
		stream:       stream,
		in:           in,
		out:          out,
		updateSignal: make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
	}
	client.playback = newPlaybackBuffer(client.EncodingInfo().Bytes(maxBufferedPlayback))
	go client.playbackLoop()

	return client, nil
}

func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closeCh:
			return nil
		default:
			if err := c.stream.Read(); err != nil {
				log.Printf("Failed to read from portaudio stream: %v", err)
				continue
			}

			audioBuffer := bytes.Buffer{}
			binary.Write(&audioBuffer, binary.LittleEndian, c.in)
			onAudio(audioBuffer.Bytes())
		}
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.playback.close()
		c.stream.Close()
		portaudio.Terminate()
	})
}

// SendAudio queues audio for playback. Blocks while the playback buffer is
// full, so a fast producer is paced to real-time playback.
func (c *Client) SendAudio(audio []byte) error {
	if err := c.playback.push(audio); err != nil {
		return err
	}
	c.signalUpdate()
	return nil
}

func (c *Client) Mark(mark string, callback func(string)) error {
	c.playback.mark(mark, callback)
	c.signalUpdate()
	return nil
}

func (c *Client) ClearBuffer() {
	c.playback.clear()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}

func (c *Client) playbackLoop() {
	frameBytes := c.bufferSize * 2

	for {
		select {
		case <-c.closeCh:
			return
		case <-c.updateSignal:
		}

		for {
			chunk, dueMarks := c.playback.consume(frameBytes)
			for _, mark := range dueMarks {
				mark.callback(mark.name)
			}
			if chunk == nil {
				break
			}

			binary.Read(bytes.NewBuffer(chunk), binary.LittleEndian, c.out)
			if err := c.stream.Write(); err != nil {
				log.Printf("Failed to write to portaudio stream: %v", err)
			}
		}
	}
}

func (c *Client) signalUpdate() {
	select {
	case c.updateSignal <- struct{}{}:
	default:
	}
}

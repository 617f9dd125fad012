package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/hotline-labs/hotline-core/core/audio"
)

const (
	capturePeriodFrames = 480
	capturePeriods      = 3
)

// captureClient streams microphone frames to a single listener. The device
// callback copies each frame before handing it over, since malgo reuses the
// input buffer between callbacks.
type captureClient struct {
	device *malgo.Device

	mu      sync.Mutex
	onAudio func(audio []byte)
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format := malgo.FormatS16
	frameBytes := malgo.SampleSizeInBytes(format)

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(audio.DefaultSampleRate)
	config.Capture.Format = format
	config.Capture.Channels = 1
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = capturePeriodFrames
	config.Periods = capturePeriods

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * frameBytes
			if n == 0 || len(input) < n {
				return
			}

			c.mu.Lock()
			onAudio := c.onAudio
			c.mu.Unlock()
			if onAudio == nil {
				return
			}

			frame := make([]byte, n)
			copy(frame, input[:n])
			onAudio(frame)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	c.device = device
	return nil
}

// Start, Stop and Uninit release the mutex before touching the device: the
// data callback locks it, and the device blocks on in-flight callbacks.
func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	device := c.device
	if device == nil {
		c.mu.Unlock()
		return fmt.Errorf("device not initialized")
	}
	if device.IsStarted() {
		c.mu.Unlock()
		return nil
	}
	c.onAudio = onAudio
	c.mu.Unlock()

	if err := device.Start(); err != nil {
		c.mu.Lock()
		c.onAudio = nil
		c.mu.Unlock()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	device := c.device
	if device == nil {
		c.mu.Unlock()
		return fmt.Errorf("device not initialized")
	}
	if !device.IsStarted() {
		c.mu.Unlock()
		return nil
	}
	c.onAudio = nil
	c.mu.Unlock()

	if err := device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}

	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.onAudio = nil
	c.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	return nil
}

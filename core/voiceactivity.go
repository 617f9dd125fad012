package orchestration

import (
	"encoding/binary"
	"math"
)

// VoiceActivityConfig tunes the energy-based voice activity detector that
// watches the microphone stream for barge-in. Zero values fall back to the
// defaults below.
type VoiceActivityConfig struct {
	// EnergyThreshold is the normalized RMS energy ([0, 1] over int16 samples)
	// above which a frame counts as voiced.
	EnergyThreshold float64
	// SustainedVoiceFrames is how many consecutive voiced frames make up
	// sustained voice.
	SustainedVoiceFrames int
	// SilenceFrames is how many consecutive unvoiced frames end a voice run.
	SilenceFrames int
}

const (
	defaultEnergyThreshold      = 0.015
	defaultSustainedVoiceFrames = 3
	defaultSilenceFrames        = 10
)

type voiceSignal struct {
	Voiced bool
	// SustainedVoiceStarted fires once per voice run, on the frame that
	// completes the sustained-voice window.
	SustainedVoiceStarted bool
	// SustainedSilenceStarted fires once per silence run, on the frame that
	// completes the silence window.
	SustainedSilenceStarted bool
	Energy                  float64
}

// voiceActivityMonitor classifies microphone frames as voiced or unvoiced and
// detects sustained voice runs. It is deterministic: the same frame sequence
// always produces the same signals. Not safe for concurrent use; the
// orchestrator feeds it from a single goroutine.
type voiceActivityMonitor struct {
	config VoiceActivityConfig

	voicedRun  int
	silenceRun int
	inVoice    bool
	inSilence  bool
}

func newVoiceActivityMonitor(config VoiceActivityConfig) *voiceActivityMonitor {
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = defaultEnergyThreshold
	}
	if config.SustainedVoiceFrames <= 0 {
		config.SustainedVoiceFrames = defaultSustainedVoiceFrames
	}
	if config.SilenceFrames <= 0 {
		config.SilenceFrames = defaultSilenceFrames
	}

	return &voiceActivityMonitor{config: config}
}

func (m *voiceActivityMonitor) Observe(frame []byte) voiceSignal {
	signal := voiceSignal{Energy: frameEnergy(frame)}
	signal.Voiced = signal.Energy >= m.config.EnergyThreshold

	if signal.Voiced {
		m.silenceRun = 0
		m.inSilence = false
		m.voicedRun++
		if m.voicedRun >= m.config.SustainedVoiceFrames && !m.inVoice {
			m.inVoice = true
			signal.SustainedVoiceStarted = true
		}
		return signal
	}

	m.voicedRun = 0
	m.inVoice = false
	m.silenceRun++
	if m.silenceRun >= m.config.SilenceFrames && !m.inSilence {
		m.inSilence = true
		signal.SustainedSilenceStarted = true
	}
	return signal
}

func (m *voiceActivityMonitor) Reset() {
	m.voicedRun = 0
	m.silenceRun = 0
	m.inVoice = false
	m.inSilence = false
}

// frameEnergy computes the RMS energy of a little-endian 16-bit PCM frame,
// normalized to [0, 1].
func frameEnergy(frame []byte) float64 {
	sampleCount := len(frame) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < sampleCount*2; i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(frame[i:])))
		sum += sample * sample
	}

	return math.Sqrt(sum/float64(sampleCount)) / math.MaxInt16
}

package deepgram

import (
	"fmt"
	"slices"

	"github.com/hotline-labs/hotline-core/core/audio"
)

type TextToSpeechClient struct {
	voice        deepgramVoice
	encodingInfo audio.EncodingInfo
}

type ClientOption func(*TextToSpeechClient)

func WithVoice(voice deepgramVoice) ClientOption {
	return func(c *TextToSpeechClient) { c.voice = voice }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) ClientOption {
	return func(c *TextToSpeechClient) { c.encodingInfo = encodingInfo }
}

func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		voice:        defaultVoice,
		encodingInfo: audio.GetDefaultEncodingInfo(),
	}

	for _, opt := range opts {
		opt(client)
	}

	if !slices.Contains(GetAvailableVoices(), client.voice) {
		return nil, fmt.Errorf("invalid voice %q", client.voice)
	}

	return client, nil
}

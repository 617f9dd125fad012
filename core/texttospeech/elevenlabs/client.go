package elevenlabs

import (
	"fmt"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hotline-labs/hotline-core/core/audio"
)

const defaultModelID = "eleven_turbo_v2_5"

type TextToSpeechClient struct {
	apiKey  string
	modelID string

	encodingInfo audio.EncodingInfo

	httpClient *http.Client
}

type ClientOption func(*TextToSpeechClient)

func WithModelID(modelID string) ClientOption {
	return func(c *TextToSpeechClient) { c.modelID = modelID }
}

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) ClientOption {
	return func(c *TextToSpeechClient) { c.encodingInfo = encodingInfo }
}

// NewTextToSpeechClient builds a streaming synthesis client. The API key is
// read from ELEVENLABS_API_KEY unless overridden with WithAPIKey.
func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		modelID:      defaultModelID,
		encodingInfo: audio.GetDefaultEncodingInfo(),
		httpClient:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("ELEVENLABS_API_KEY")
		if !ok {
			return nil, fmt.Errorf("elevenlabs api key not found")
		}
		client.apiKey = apiKey
	}

	if _, err := convertEncoding(client.encodingInfo); err != nil {
		return nil, err
	}

	return client, nil
}

// convertEncoding maps encoding info to an elevenlabs output_format value.
func convertEncoding(encoding audio.EncodingInfo) (string, error) {
	switch encoding.Format {
	case audio.EncodingLinear16:
		switch encoding.SampleRate {
		case 16000, 22050, 24000, 44100:
			return fmt.Sprintf("pcm_%d", encoding.SampleRate), nil
		}
		return "", fmt.Errorf("unsupported sample rate %d for linear16 encoding", encoding.SampleRate)
	case audio.EncodingMulaw:
		if encoding.SampleRate != 8000 {
			return "", fmt.Errorf("unsupported sample rate %d for mulaw encoding", encoding.SampleRate)
		}
		return "ulaw_8000", nil
	}

	return "", fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
}

package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/hotline-labs/hotline-core/core/texttospeech"
	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/codes"
)

const (
	apiHost        = "api.elevenlabs.io"
	audioChunkSize = 4096
	segmentQueue   = 16
)

// streamingRequest synthesizes marked text segments one HTTP streaming
// request at a time, preserving segment order. Each segment's audio is
// delivered through AudioCallback before its MarkCallback fires.
type streamingRequest struct {
	client *TextToSpeechClient

	ctx    context.Context
	cancel context.CancelFunc

	options      texttospeech.SynthesisOptions
	outputFormat string

	segments chan string

	mu           sync.Mutex
	pending      string
	textComplete bool
	cancelled    bool
	closed       bool
}

func (c *TextToSpeechClient) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error) {
	req := &streamingRequest{
		client: c,
		options: texttospeech.SynthesisOptions{
			AudioCallback:       func([]byte) {},
			MarkCallback:        func(string) {},
			SpeechEndedCallback: func() {},
			ErrorCallback:       func(error) {},
			EncodingInfo:        c.encodingInfo,
		},
		segments: make(chan string, segmentQueue),
	}

	for _, opt := range opts {
		opt(&req.options)
	}

	outputFormat, err := convertEncoding(req.options.EncodingInfo)
	if err != nil {
		return nil, err
	}
	req.outputFormat = outputFormat

	req.ctx, req.cancel = context.WithCancel(ctx)
	go req.processSegments()

	return req, nil
}

func (r *streamingRequest) processSegments() {
	for segment := range r.segments {
		if r.isCancelled() {
			continue
		}

		if err := r.synthesizeSegment(segment); err != nil {
			if !r.isCancelled() {
				r.options.ErrorCallback(fmt.Errorf("failed to synthesize segment: %w", err))
				_ = r.Cancel()
			}
			continue
		}

		r.options.MarkCallback(segment)
	}

	if !r.isCancelled() {
		r.options.SpeechEndedCallback()
	}
	_ = r.Close()
}

func (r *streamingRequest) synthesizeSegment(segment string) error {
	ctx, span := tracer.Start(r.ctx, "synthesize segment")
	defer span.End()

	voiceID := r.options.Voice.VoiceID
	if voiceID == "" {
		return fmt.Errorf("voice id is required")
	}

	var voiceSettings requestVoiceSettings
	if err := copier.Copy(&voiceSettings, &r.options.Voice); err != nil {
		return fmt.Errorf("failed to map voice settings: %w", err)
	}

	reqBody := requestBody{
		Text:          segment,
		ModelID:       r.client.modelID,
		VoiceSettings: voiceSettings,
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("error marshalling JSON: %w", err)
	}

	streamURL := url.URL{
		Scheme:   "https",
		Host:     apiHost,
		Path:     "/v1/text-to-speech/" + voiceID + "/stream",
		RawQuery: url.Values{"output_format": {r.outputFormat}}.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, "POST", streamURL.String(), bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", r.client.apiKey)

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	buffer := make([]byte, audioChunkSize)
	for {
		n, err := resp.Body.Read(buffer)
		if n > 0 {
			audio := make([]byte, n)
			copy(audio, buffer[:n])
			r.options.AudioCallback(audio)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("error reading audio stream: %w", err)
		}
	}
}

func (r *streamingRequest) SendText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete {
		return fmt.Errorf("streaming request text already completed")
	}

	r.pending += text
	return nil
}

func (r *streamingRequest) Mark() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete {
		return fmt.Errorf("streaming request text already completed")
	}

	r.enqueuePendingLocked()
	return nil
}

func (r *streamingRequest) EndOfText() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		return fmt.Errorf("streaming request cancelled")
	}
	if r.textComplete {
		return nil
	}

	r.textComplete = true
	r.enqueuePendingLocked()
	close(r.segments)
	return nil
}

func (r *streamingRequest) enqueuePendingLocked() {
	if r.pending == "" {
		return
	}

	select {
	case r.segments <- r.pending:
		r.pending = ""
	case <-r.ctx.Done():
	}
}

func (r *streamingRequest) Cancel() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("streaming request closed")
	}
	if r.cancelled {
		r.mu.Unlock()
		return nil
	}

	r.cancelled = true
	r.pending = ""
	if !r.textComplete {
		r.textComplete = true
		close(r.segments)
	}
	r.mu.Unlock()

	r.cancel()
	return nil
}

func (r *streamingRequest) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if !r.textComplete {
		r.textComplete = true
		close(r.segments)
	}
	r.mu.Unlock()

	r.cancel()
	return nil
}

func (r *streamingRequest) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled || r.closed
}

type requestBody struct {
	Text          string               `json:"text"`
	ModelID       string               `json:"model_id"`
	VoiceSettings requestVoiceSettings `json:"voice_settings"`
}

type requestVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

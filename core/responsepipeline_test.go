package orchestration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hotline-labs/hotline-core/core/audio"
	"github.com/hotline-labs/hotline-core/core/llms"
	"github.com/hotline-labs/hotline-core/core/personality"
	"github.com/hotline-labs/hotline-core/core/texttospeech"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

type contentChunk struct{ content string }

func (c contentChunk) FinishReason() *string { return nil }
func (c contentChunk) Content() string       { return c.content }

type chunkedStream struct {
	chunks   []string
	interval time.Duration
	err      error
}

func (s chunkedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, chunk := range s.chunks {
			if s.interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.interval):
				}
			}
			if !yield(contentChunk{content: chunk}, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

type streamLLMStub struct {
	chunks   []string
	interval time.Duration
	err      error
}

func (s streamLLMStub) PromptWithStream(_ context.Context, _ *string, _ ...llms.StreamingPromptOption) llms.Stream {
	return chunkedStream{chunks: s.chunks, interval: s.interval, err: s.err}
}

type repeatingStream struct {
	chunk    string
	interval time.Duration
}

func (s repeatingStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
			if !yield(contentChunk{content: s.chunk}, nil) {
				return
			}
		}
	}
}

type repeatingStreamLLMStub struct {
	chunk    string
	interval time.Duration
}

func (s repeatingStreamLLMStub) PromptWithStream(_ context.Context, _ *string, _ ...llms.StreamingPromptOption) llms.Stream {
	return repeatingStream{chunk: s.chunk, interval: s.interval}
}

// generatorStub synthesizes deterministic audio: every marked segment becomes
// one audio chunk of the same byte length as the segment text.
type generatorStub struct {
	options texttospeech.SynthesisOptions

	mu        sync.Mutex
	pending   string
	ended     bool
	cancelled bool
	closed    bool
}

func (g *generatorStub) SendText(text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended || g.cancelled || g.closed {
		return fmt.Errorf("speech generator is no longer accepting text")
	}
	g.pending += text
	return nil
}

func (g *generatorStub) Mark() error {
	g.mu.Lock()
	if g.ended || g.cancelled || g.closed {
		g.mu.Unlock()
		return fmt.Errorf("speech generator is no longer accepting marks")
	}
	segment := g.pending
	g.pending = ""
	options := g.options
	g.mu.Unlock()

	if segment != "" && options.AudioCallback != nil {
		options.AudioCallback(bytes.Repeat([]byte{0x7f}, len(segment)))
	}
	if options.MarkCallback != nil {
		options.MarkCallback(segment)
	}
	return nil
}

func (g *generatorStub) EndOfText() error {
	g.mu.Lock()
	if g.ended || g.cancelled || g.closed {
		g.mu.Unlock()
		return fmt.Errorf("speech generation has already ended")
	}
	g.ended = true
	options := g.options
	g.mu.Unlock()

	if options.SpeechEndedCallback != nil {
		options.SpeechEndedCallback()
	}
	return nil
}

func (g *generatorStub) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	return nil
}

func (g *generatorStub) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

type textToSpeechStub struct {
	mu         sync.Mutex
	generators []*generatorStub
}

func (s *textToSpeechStub) NewSpeechGenerator(_ context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error) {
	options := texttospeech.SynthesisOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}

	generator := &generatorStub{options: options}
	s.mu.Lock()
	s.generators = append(s.generators, generator)
	s.mu.Unlock()
	return generator, nil
}

func (s *textToSpeechStub) generatorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.generators)
}

// recordingAudioOutput confirms marks immediately, simulating instantaneous
// playback.
type recordingAudioOutput struct {
	mu     sync.Mutex
	audio  [][]byte
	marks  []string
	clears int
}

func (r *recordingAudioOutput) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (r *recordingAudioOutput) SendAudio(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, chunk)
	return nil
}

func (r *recordingAudioOutput) Mark(mark string, callback func(string)) error {
	r.mu.Lock()
	r.marks = append(r.marks, mark)
	r.mu.Unlock()
	callback(mark)
	return nil
}

func (r *recordingAudioOutput) ClearBuffer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func (r *recordingAudioOutput) audioChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audio)
}

func (r *recordingAudioOutput) clearCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

func newTestPipeline(llmClient LLMWithStream, tts *textToSpeechStub, output AudioOutput, config responsePipelineConfig) *responsePipeline {
	config.llm = newLLM(llmClient)
	config.textToSpeech = newTextToSpeech(tts, texttospeech.VoiceSettings{})
	config.audioOutput = newAudioOutput(output)
	return newResponsePipeline("test-pipeline", config)
}

func TestPipelineSpeaksFullResponse(t *testing.T) {
	tts := &textToSpeechStub{}
	output := &recordingAudioOutput{}
	pipeline := newTestPipeline(
		streamLLMStub{chunks: []string{"Turning on ", "the lights. ", "Anything else?"}},
		tts, output,
		responsePipelineConfig{style: personality.Default().ConversationStyle},
	)

	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("expected pipeline run to succeed, got %v", err)
	}

	expected := "Turning on the lights. Anything else?"
	if result.GeneratedText != expected {
		t.Fatalf("unexpected generated text %q", result.GeneratedText)
	}
	if result.SpokenText != expected {
		t.Fatalf("expected the whole response to be spoken, got %q", result.SpokenText)
	}
	if result.Empty {
		t.Fatalf("expected a non-empty result")
	}
	if output.audioChunkCount() == 0 {
		t.Fatalf("expected audio to reach the output")
	}
}

func TestPipelineWithEmptyStreamNeverOpensSynthesis(t *testing.T) {
	tts := &textToSpeechStub{}
	pipeline := newTestPipeline(
		streamLLMStub{},
		tts, &recordingAudioOutput{},
		responsePipelineConfig{style: personality.Default().ConversationStyle},
	)

	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("expected empty pipeline run to succeed, got %v", err)
	}

	if !result.Empty {
		t.Fatalf("expected an empty result, got %+v", result)
	}
	if tts.generatorCount() != 0 {
		t.Fatalf("expected no speech generator for an empty response, got %d", tts.generatorCount())
	}
}

func TestPipelineReturnsPartialTextOnStreamFailure(t *testing.T) {
	tts := &textToSpeechStub{}
	pipeline := newTestPipeline(
		streamLLMStub{chunks: []string{"I was saying. "}, err: errors.New("stream interrupted")},
		tts, &recordingAudioOutput{},
		responsePipelineConfig{style: personality.Default().ConversationStyle},
	)

	result, err := pipeline.Run(context.Background())
	if err == nil {
		t.Fatalf("expected pipeline run to report the stream failure")
	}

	if result.GeneratedText != "I was saying. " {
		t.Fatalf("expected the partial response to survive, got %q", result.GeneratedText)
	}
	if result.Empty {
		t.Fatalf("expected a failed stream with partial text to not be empty")
	}
}

func TestPipelineCancelStopsGenerationAndIsIdempotent(t *testing.T) {
	tts := &textToSpeechStub{}
	output := &recordingAudioOutput{}

	cancellations := 0
	var cancellationsMu sync.Mutex
	pipeline := newTestPipeline(
		repeatingStreamLLMStub{chunk: "More words. ", interval: 10 * time.Millisecond},
		tts, output,
		responsePipelineConfig{
			style: personality.Default().ConversationStyle,
			onCancel: func() {
				cancellationsMu.Lock()
				cancellations++
				cancellationsMu.Unlock()
			},
		},
	)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = pipeline.Run(context.Background())
	}()

	waitForCondition(t, 2*time.Second, "audio to start flowing", func() bool {
		return output.audioChunkCount() > 0
	})

	pipeline.Cancel()
	pipeline.Cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancelled pipeline to finish")
	}

	cancellationsMu.Lock()
	defer cancellationsMu.Unlock()
	if cancellations != 1 {
		t.Fatalf("expected exactly one cancellation callback, got %d", cancellations)
	}

	if output.clearCalls() == 0 {
		t.Fatalf("expected the output buffer to be cleared on cancel")
	}
}

func TestPipelineSpeaksFixedTextWithoutLLM(t *testing.T) {
	tts := &textToSpeechStub{}
	output := &recordingAudioOutput{}
	pipeline := newTestPipeline(
		nil, tts, output,
		responsePipelineConfig{
			fixedText: "Hello! How can I help you today?",
			style:     personality.Default().ConversationStyle,
		},
	)

	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("expected fixed text pipeline to succeed, got %v", err)
	}

	if result.SpokenText != "Hello! How can I help you today?" {
		t.Fatalf("expected the fixed text to be spoken, got %q", result.SpokenText)
	}
}

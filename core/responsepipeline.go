package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hotline-labs/hotline-core/core/llms"
	"github.com/hotline-labs/hotline-core/core/personality"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// pipelineResult is what one response attempt produced. GeneratedText is the
// full text the model emitted; SpokenText is the prefix confirmed as played
// by the audio output. For uninterrupted responses the two match.
type pipelineResult struct {
	GeneratedText string
	SpokenText    string
	// Empty reports that the stream finished without error and produced no
	// content.
	Empty bool
}

// responsePipeline runs one agent response: generation into the text buffer,
// text into synthesis, and synthesized audio out to playback, as three
// workers. The synthesis stream is opened lazily on the first text chunk so
// an empty response never reaches the synthesis vendor.
type responsePipeline struct {
	id string

	llm          *llm
	textBuffer   *textBuffer
	textToSpeech *textToSpeech
	audioBuffer  *audioBuffer
	audioOutput  *audioOutput

	// fixedText, when set, is spoken verbatim instead of generating a
	// response. Used for the greeting and the fallback apology.
	fixedText    string
	instructions string
	style        personality.ConversationStyle
	history      []llms.Message

	onChunk func(string)
	onAudio func([]byte)
	// onSpeakingStarted fires once, when the first audio chunk reaches the
	// output.
	onSpeakingStarted func()
	onCancel          func()

	cancelled atomic.Bool

	spokenMu   sync.Mutex
	spokenText strings.Builder

	generatedMu   sync.Mutex
	generatedText string
	generateErr   error
}

type responsePipelineConfig struct {
	llm          *llm
	textToSpeech *textToSpeech
	audioOutput  *audioOutput

	fixedText    string
	instructions string
	style        personality.ConversationStyle
	history      []llms.Message

	onChunk           func(string)
	onAudio           func([]byte)
	onSpeakingStarted func()
	onCancel          func()
}

func newResponsePipeline(id string, config responsePipelineConfig) *responsePipeline {
	return &responsePipeline{
		id:           id,
		llm:          config.llm,
		textBuffer:   newTextBuffer(),
		textToSpeech: config.textToSpeech,
		audioBuffer:  newAudioBuffer(config.audioOutput.EncodingInfo()),
		audioOutput:  config.audioOutput,

		fixedText:    config.fixedText,
		instructions: config.instructions,
		style:        config.style,
		history:      config.history,

		onChunk:           config.onChunk,
		onAudio:           config.onAudio,
		onSpeakingStarted: config.onSpeakingStarted,
		onCancel:          config.onCancel,
	}
}

func (p *responsePipeline) Run(ctx context.Context) (pipelineResult, error) {
	if p == nil {
		return pipelineResult{}, fmt.Errorf("response pipeline is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	run := func(name string, f func(context.Context) error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
				cancel()
			}
		}()

		if err := f(ctx); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
			cancel()
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		run("response generation", p.generateResponse)
	}()
	go func() {
		defer wg.Done()
		run("response text processing", p.processResponseText)
	}()
	go func() {
		defer wg.Done()
		run("speech processing", p.processSpeech)
	}()

	wg.Wait()

	if err := p.textToSpeech.Close(); err != nil {
		addWorkerErr(fmt.Errorf("failed to close tts resources: %w", err))
	}

	p.generatedMu.Lock()
	generated := p.generatedText
	generateErr := p.generateErr
	p.generatedMu.Unlock()

	result := pipelineResult{
		GeneratedText: generated,
		SpokenText:    p.SpokenText(),
		Empty:         generateErr == nil && workerErr == nil && strings.TrimSpace(generated) == "",
	}

	if generateErr != nil {
		workerErr = errors.Join(generateErr, workerErr)
	}
	if workerErr != nil && !p.IsCancelled() {
		return result, fmt.Errorf("one or more response workers failed: %w", workerErr)
	}

	return result, nil
}

func (p *responsePipeline) generateResponse(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "generate response text")
	defer span.End()

	if p.fixedText != "" {
		p.setGenerated(p.fixedText, nil)
		p.textBuffer.AddChunk(p.fixedText)
		if p.onChunk != nil {
			p.onChunk(p.fixedText)
		}
		p.textBuffer.TextComplete()
		return nil
	}

	response, err := p.llm.generate(ctx, p.history, p.instructions, p.style, func(chunk string) {
		p.textBuffer.AddChunk(chunk)
		if p.onChunk != nil {
			p.onChunk(chunk)
		}
	}, p.IsCancelled)

	p.setGenerated(response, err)
	p.textBuffer.TextComplete()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// The partial response, if any, still flows through the rest of the
		// pipeline; the error is attached to the result instead of tearing
		// the workers down.
	}

	return nil
}

func (p *responsePipeline) processResponseText(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.textBuffer.Clear()
		case <-done:
		}
	}()

	_, span := tracer.Start(ctx, "passing text to tts")
	defer span.End()

	initialized := false
	for chunk := range p.textBuffer.Chunks {
		if p.IsCancelled() {
			break
		}

		if !initialized {
			if err := p.textToSpeech.init(ctx, p.audioBuffer, p.audioOutput.EncodingInfo(), p.onSynthesisError(span)); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			initialized = true
		}

		if err := p.textToSpeech.SendText(chunk); err != nil {
			span.RecordError(fmt.Errorf("failed to send text to tts: %w", err))
		}
		if strings.ContainsAny(chunk, ".?!") {
			if err := p.textToSpeech.Mark(); err != nil {
				span.RecordError(fmt.Errorf("failed to send mark to tts: %w", err))
			}
		}
	}

	if !initialized {
		p.textToSpeech.ensureResolved()
		return nil
	}

	if err := p.textToSpeech.EndOfText(); err != nil {
		span.RecordError(fmt.Errorf("failed to send end of text to tts: %w", err))
	}

	return nil
}

// onSynthesisError cancels speech on a failed synthesis stream. The response
// text itself is unaffected; whatever was confirmed as spoken stays spoken.
func (p *responsePipeline) onSynthesisError(span trace.Span) func(error) {
	return func(err error) {
		span.RecordError(fmt.Errorf("synthesis failed: %w", err))
		p.audioBuffer.AllAudioLoaded()
		p.audioBuffer.Stop()
		p.audioOutput.Clear()
	}
}

func (p *responsePipeline) processSpeech(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			p.audioBuffer.Stop()
		case <-done:
		}
	}()

	if ok := p.textToSpeech.waitUntilInitialized(ctx); !ok {
		return nil
	}

	_, span := tracer.Start(ctx, "passing speech to audio output")
	defer span.End()

	speakingStarted := sync.Once{}
bufferReadingLoop:
	for audioOrMark := range p.audioBuffer.Audio {
		switch audioOrMark.Type {
		case "audio":
			audio := audioOrMark.Audio

			if p.IsCancelled() {
				p.audioOutput.Clear()
				break bufferReadingLoop
			}

			speakingStarted.Do(func() {
				if p.onSpeakingStarted != nil {
					p.onSpeakingStarted()
				}
			})

			p.audioOutput.SendAudio(audio)
			if p.onAudio != nil {
				p.onAudio(audio)
			}

		case "mark":
			mark := audioOrMark.Mark
			span.AddEvent("received mark", trace.WithAttributes(attribute.String("mark", mark)))
			p.audioOutput.Mark(mark, func(mark string) {
				span.AddEvent("mark played", trace.WithAttributes(attribute.String("mark", mark)))
				if transcript := p.audioBuffer.GetMarkText(mark); transcript != nil {
					p.spokenMu.Lock()
					p.spokenText.WriteString(*transcript)
					p.spokenMu.Unlock()
				}
				p.audioBuffer.ConfirmMark(mark)
			})
		}
	}

	return nil
}

// Cancel stops the pipeline: synthesis is cancelled, unplayed audio is
// discarded and the workers wind down. Repeated calls are ignored.
func (p *responsePipeline) Cancel() {
	if p == nil || !p.cancelled.CompareAndSwap(false, true) {
		return
	}

	p.textBuffer.Clear()
	if err := p.textToSpeech.Cancel(); err != nil {
		logger.Warn("Failed to cancel speech synthesis", "error", err)
	}
	if err := p.textToSpeech.Close(); err != nil {
		logger.Warn("Failed to close speech synthesis", "error", err)
	}
	p.textToSpeech.ensureResolved()
	p.audioBuffer.Stop()
	p.audioOutput.Clear()
	if p.onCancel != nil {
		p.onCancel()
	}
}

func (p *responsePipeline) IsCancelled() bool {
	if p == nil {
		return false
	}

	return p.cancelled.Load()
}

// SpokenText returns the response prefix confirmed as played so far. After an
// interruption this is exactly the text the user heard.
func (p *responsePipeline) SpokenText() string {
	if p == nil {
		return ""
	}

	p.spokenMu.Lock()
	defer p.spokenMu.Unlock()
	return p.spokenText.String()
}

func (p *responsePipeline) setGenerated(text string, err error) {
	p.generatedMu.Lock()
	p.generatedText = text
	p.generateErr = err
	p.generatedMu.Unlock()
}

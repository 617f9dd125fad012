// Command hotline runs a voice conversation against the default microphone
// and speakers: Deepgram transcription, an OpenAI model and Deepgram or
// ElevenLabs synthesis, wired through the orchestration core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	orchestration "github.com/hotline-labs/hotline-core/core"
	"github.com/hotline-labs/hotline-core/core/audio/miniaudio"
	"github.com/hotline-labs/hotline-core/core/audio/portaudio"
	"github.com/hotline-labs/hotline-core/core/conversations"
	"github.com/hotline-labs/hotline-core/core/events"
	"github.com/hotline-labs/hotline-core/core/llms/openai"
	"github.com/hotline-labs/hotline-core/core/personality"
	deepgramstt "github.com/hotline-labs/hotline-core/core/speechtotext/deepgram"
	deepgramtts "github.com/hotline-labs/hotline-core/core/texttospeech/deepgram"
	"github.com/hotline-labs/hotline-core/core/texttospeech/elevenlabs"
)

const captureFrameSamples = 1600 // 100ms at 16kHz

// audioDevice is a capture and playback pair on the same backend.
type audioDevice interface {
	orchestration.AudioInput
	orchestration.AudioOutput
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	personalityPath := flag.String("personality", "", "path to a personality JSON file")
	voiceBackend := flag.String("voice", "deepgram", "synthesis backend: deepgram or elevenlabs")
	audioBackend := flag.String("audio", "portaudio", "audio device backend: portaudio or miniaudio")
	model := flag.String("model", "", "override the OpenAI model")
	flag.Parse()

	p := personality.Default()
	if *personalityPath != "" {
		loaded, err := personality.Load(*personalityPath)
		if err != nil {
			return fmt.Errorf("failed to load personality: %w", err)
		}
		p = loaded
	}

	var audioClient audioDevice
	var err error
	switch *audioBackend {
	case "portaudio":
		audioClient, err = portaudio.NewClient(captureFrameSamples)
	case "miniaudio":
		audioClient, err = miniaudio.NewClient()
	default:
		return fmt.Errorf("unknown audio backend %q", *audioBackend)
	}
	if err != nil {
		return fmt.Errorf("failed to open audio devices: %w", err)
	}
	defer audioClient.Close()

	transcription := deepgramstt.NewTranscriptionClient()

	llmOptions := []openai.ClientOption{}
	if *model != "" {
		llmOptions = append(llmOptions, openai.WithModel(*model))
	}
	llm, err := openai.NewClient(llmOptions...)
	if err != nil {
		return fmt.Errorf("failed to build llm client: %w", err)
	}

	var synthesis orchestration.TextToSpeech
	switch *voiceBackend {
	case "deepgram":
		synthesis, err = deepgramtts.NewTextToSpeechClient()
	case "elevenlabs":
		synthesis, err = elevenlabs.NewTextToSpeechClient()
	default:
		return fmt.Errorf("unknown voice backend %q", *voiceBackend)
	}
	if err != nil {
		return fmt.Errorf("failed to build synthesis client: %w", err)
	}

	orchestrator := orchestration.NewOrchestrator(
		orchestration.WithSpeechToTextClient(transcription),
		orchestration.WithStreamingLLM(llm),
		orchestration.WithTextToSpeechClient(synthesis),
		orchestration.WithAudioInput(audioClient),
		orchestration.WithAudioOutput(audioClient),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer orchestrator.Close(context.Background())

	terminated := make(chan struct{})
	err = orchestrator.StartSession(ctx, p,
		orchestration.WithTranscriptCallback(func(event events.TranscriptEvent) {
			if event.Final() {
				fmt.Printf("you: %s\n", event.Text())
			}
		}),
		orchestration.WithTurnCompletedCallback(func(turn conversations.Turn) {
			if turn.Speaker == conversations.SpeakerAgent {
				suffix := ""
				if turn.Status == conversations.TurnStatusInterrupted {
					suffix = " [interrupted]"
				}
				fmt.Printf("%s: %s%s\n", p.Name, turn.Text, suffix)
			}
		}),
		orchestration.WithSessionTerminatedCallback(func(reason error) {
			if reason != nil {
				log.Printf("session ended: %v", reason)
			}
			close(terminated)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	select {
	case <-ctx.Done():
		orchestrator.Hangup()
		<-terminated
	case <-terminated:
	}

	return nil
}

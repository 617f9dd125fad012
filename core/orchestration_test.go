package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hotline-labs/hotline-core/core/conversations"
	"github.com/hotline-labs/hotline-core/core/events"
	"github.com/hotline-labs/hotline-core/core/personality"
	"github.com/hotline-labs/hotline-core/core/speechtotext"
)

// scriptedTranscription captures the transcription options so tests can drive
// the session by invoking the callbacks directly.
type scriptedTranscription struct {
	mu      sync.Mutex
	options speechtotext.TranscriptionOptions
	started bool
	sent    [][]byte
}

func (s *scriptedTranscription) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		opt(&s.options)
	}
	s.started = true
	return nil
}

func (s *scriptedTranscription) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, audio)
	return nil
}

func (s *scriptedTranscription) snapshotOptions() speechtotext.TranscriptionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

func (s *scriptedTranscription) emitFinal(text string) {
	if callback := s.snapshotOptions().TranscriptCallback; callback != nil {
		callback(speechtotext.Transcript{Text: text, IsFinal: true, Confidence: 0.97, ReceivedAt: time.Now()})
	}
}

func (s *scriptedTranscription) emitInterim(text string) {
	if callback := s.snapshotOptions().TranscriptCallback; callback != nil {
		callback(speechtotext.Transcript{Text: text, ReceivedAt: time.Now()})
	}
}

func (s *scriptedTranscription) endUtterance() {
	if callback := s.snapshotOptions().UtteranceEndCallback; callback != nil {
		callback()
	}
}

func (s *scriptedTranscription) startSpeech() {
	if callback := s.snapshotOptions().SpeechStartedCallback; callback != nil {
		callback()
	}
}

func (s *scriptedTranscription) failLink(err error) {
	if callback := s.snapshotOptions().ErrorCallback; callback != nil {
		callback(err)
	}
}

func (s *scriptedTranscription) sentFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// turnRecorder collects completed turns across goroutines.
type turnRecorder struct {
	mu    sync.Mutex
	turns []conversations.Turn
}

func (r *turnRecorder) record(turn conversations.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
}

func (r *turnRecorder) snapshot() []conversations.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	turns := make([]conversations.Turn, len(r.turns))
	copy(turns, r.turns)
	return turns
}

func mutePersonality() personality.Personality {
	p := personality.Default()
	p.Greeting = ""
	return p
}

func TestCommittedUtteranceProducesSpokenResponse(t *testing.T) {
	stt := &scriptedTranscription{}
	tts := &textToSpeechStub{}
	output := &recordingAudioOutput{}
	recorder := &turnRecorder{}

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(tts),
		WithStreamingLLM(streamLLMStub{chunks: []string{"The lights ", "are on. "}}),
		WithAudioOutput(output),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithTurnCompletedCallback(recorder.record),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.emitFinal("turn on")
	stt.emitFinal("the lights")
	stt.endUtterance()

	waitForCondition(t, 2*time.Second, "user and agent turns to complete", func() bool {
		return len(recorder.snapshot()) == 2
	})

	turns := recorder.snapshot()
	if turns[0].Speaker != conversations.SpeakerUser || turns[0].Text != "turn on the lights" {
		t.Fatalf("unexpected user turn %+v", turns[0])
	}
	if turns[1].Speaker != conversations.SpeakerAgent || turns[1].Text != "The lights are on. " {
		t.Fatalf("unexpected agent turn %+v", turns[1])
	}
	if turns[1].Status != conversations.TurnStatusComplete {
		t.Fatalf("expected a complete agent turn, got %s", turns[1].Status)
	}

	waitForCondition(t, 2*time.Second, "session to resume listening", func() bool {
		return o.Session().State() == StateListening
	})

	if output.audioChunkCount() == 0 {
		t.Fatalf("expected synthesized audio to reach the output")
	}
}

func TestInterimTranscriptsDoNotCommitTurns(t *testing.T) {
	stt := &scriptedTranscription{}
	recorder := &turnRecorder{}

	var transcriptsMu sync.Mutex
	var interimTexts []string

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(streamLLMStub{chunks: []string{"response"}}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithTurnCompletedCallback(recorder.record),
		WithTranscriptCallback(func(event events.TranscriptEvent) {
			if !event.Final() {
				transcriptsMu.Lock()
				interimTexts = append(interimTexts, event.Text())
				transcriptsMu.Unlock()
			}
		}),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.emitInterim("turn on")
	stt.emitInterim("turn on the")
	stt.endUtterance()

	waitForCondition(t, 2*time.Second, "interim transcripts to reach the observer", func() bool {
		transcriptsMu.Lock()
		defer transcriptsMu.Unlock()
		return len(interimTexts) == 2
	})

	if o.Session().State() != StateListening {
		t.Fatalf("expected interim transcripts to keep the session listening, got %s", o.Session().State())
	}
	if len(recorder.snapshot()) != 0 {
		t.Fatalf("expected no committed turns from interim transcripts, got %d", len(recorder.snapshot()))
	}
}

func TestBargeInTruncatesAgentTurnToSpokenPrefix(t *testing.T) {
	stt := &scriptedTranscription{}
	tts := &textToSpeechStub{}
	output := &recordingAudioOutput{}
	recorder := &turnRecorder{}

	cancelled := make(chan struct{}, 1)

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(tts),
		WithStreamingLLM(repeatingStreamLLMStub{chunk: "Another sentence. ", interval: 10 * time.Millisecond}),
		WithAudioOutput(output),
		WithUtteranceHoldOff(0),
		WithVoiceActivityConfig(VoiceActivityConfig{SustainedVoiceFrames: 2, SilenceFrames: 2}),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithTurnCompletedCallback(recorder.record),
		WithCancellationCallback(func() {
			select {
			case cancelled <- struct{}{}:
			default:
			}
		}),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.emitFinal("tell me a story")
	stt.endUtterance()

	waitForCondition(t, 2*time.Second, "agent to start speaking", func() bool {
		return o.Session().State() == StateSpeaking
	})

	waitForCondition(t, 2*time.Second, "barge-in to interrupt the agent", func() bool {
		_ = o.FeedAudio(pcmFrame(8000, 160))
		return o.Session().State() == StateListening && len(recorder.snapshot()) >= 2
	})

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancellation callback")
	}

	turns := recorder.snapshot()
	agentTurn := turns[len(turns)-1]
	if agentTurn.Speaker != conversations.SpeakerAgent {
		t.Fatalf("expected the last turn to be the interrupted agent turn, got %+v", agentTurn)
	}
	if agentTurn.Status != conversations.TurnStatusInterrupted {
		t.Fatalf("expected an interrupted agent turn, got %s", agentTurn.Status)
	}

	// The recorded text is exactly the confirmed prefix: zero or more whole
	// segments of the repeated sentence.
	for remaining := agentTurn.Text; remaining != ""; {
		const segment = "Another sentence. "
		if len(remaining) < len(segment) || remaining[:len(segment)] != segment {
			t.Fatalf("agent turn %q is not a whole-segment prefix", agentTurn.Text)
		}
		remaining = remaining[len(segment):]
	}
}

func TestContinuedSpeechDuringThinkingCancelsResponse(t *testing.T) {
	stt := &scriptedTranscription{}
	tts := &textToSpeechStub{}
	recorder := &turnRecorder{}

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(tts),
		WithStreamingLLM(streamLLMStub{chunks: []string{"Slow response. "}, interval: 5 * time.Second}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithTurnCompletedCallback(recorder.record),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.emitFinal("first thought")
	stt.endUtterance()

	waitForCondition(t, 2*time.Second, "session to start thinking", func() bool {
		return o.Session().State() == StateThinking
	})

	stt.emitFinal("and another thing")

	waitForCondition(t, 2*time.Second, "session to return to listening", func() bool {
		return o.Session().State() == StateListening
	})

	for _, turn := range recorder.snapshot() {
		if turn.Speaker == conversations.SpeakerAgent {
			t.Fatalf("expected no agent turn after a silently dropped response, got %+v", turn)
		}
	}
}

func TestTranscriptionFailureTerminatesSession(t *testing.T) {
	stt := &scriptedTranscription{}

	terminated := make(chan error, 1)

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(streamLLMStub{chunks: []string{"unused"}}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithSessionTerminatedCallback(func(reason error) {
			select {
			case terminated <- reason:
			default:
			}
		}),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.failLink(errors.New("transcription link lost: connection refused"))

	select {
	case reason := <-terminated:
		if !errors.Is(reason, ErrTranscriptionUnavailable) {
			t.Fatalf("expected ErrTranscriptionUnavailable, got %v", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session termination")
	}

	if o.Session().State() != StateTerminated {
		t.Fatalf("expected session to be terminated, got %s", o.Session().State())
	}
	if !errors.Is(o.Session().TerminationReason(), ErrTranscriptionUnavailable) {
		t.Fatalf("unexpected termination reason %v", o.Session().TerminationReason())
	}
}

func TestProtocolViolationTerminatesWithProtocolReason(t *testing.T) {
	stt := &scriptedTranscription{}

	terminated := make(chan error, 1)

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(streamLLMStub{chunks: []string{"unused"}}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithSessionTerminatedCallback(func(reason error) {
			select {
			case terminated <- reason:
			default:
			}
		}),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.failLink(fmt.Errorf("%w: garbage on the wire", speechtotext.ErrProtocol))

	select {
	case reason := <-terminated:
		if !errors.Is(reason, ErrProtocolFailure) {
			t.Fatalf("expected ErrProtocolFailure, got %v", reason)
		}
		if errors.Is(reason, ErrTranscriptionUnavailable) {
			t.Fatalf("expected a protocol reason, not connectivity loss: %v", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session termination")
	}
}

func TestConversationEventCallbackObservesSpeechAndPrompts(t *testing.T) {
	stt := &scriptedTranscription{}

	var eventsMu sync.Mutex
	var kinds []events.Kind
	hasKind := func(kind events.Kind) bool {
		eventsMu.Lock()
		defer eventsMu.Unlock()
		for _, k := range kinds {
			if k == kind {
				return true
			}
		}
		return false
	}

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(streamLLMStub{chunks: []string{"Sure. "}}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithConversationEventCallback(func(event events.Event) {
			eventsMu.Lock()
			kinds = append(kinds, event.Kind())
			eventsMu.Unlock()
		}),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.startSpeech()
	stt.emitInterim("what time")
	stt.endUtterance()

	waitForCondition(t, 2*time.Second, "speech boundary events to arrive", func() bool {
		return hasKind(events.KindSpeechStarted) &&
			hasKind(events.KindSpeechEnded) &&
			hasKind(events.KindTranscript)
	})

	if err := o.SendPrompt("and a typed prompt"); err != nil {
		t.Fatalf("failed to send prompt: %v", err)
	}

	waitForCondition(t, 2*time.Second, "the prompt event to arrive", func() bool {
		return hasKind(events.KindUserPrompt)
	})
}

func TestEmptyResponseFallsBackToApologyTurn(t *testing.T) {
	stt := &scriptedTranscription{}
	tts := &textToSpeechStub{}
	recorder := &turnRecorder{}

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(tts),
		WithStreamingLLM(streamLLMStub{}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	p := mutePersonality()

	if err := o.StartSession(context.Background(), p,
		WithTurnCompletedCallback(recorder.record),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.emitFinal("hello?")
	stt.endUtterance()

	waitForCondition(t, 2*time.Second, "fallback apology turn to complete", func() bool {
		return len(recorder.snapshot()) == 2
	})

	turns := recorder.snapshot()
	if turns[1].Text != p.ConversationStyle.FallbackApology {
		t.Fatalf("expected the fallback apology, got %q", turns[1].Text)
	}
	if turns[1].Status != conversations.TurnStatusComplete {
		t.Fatalf("expected a complete fallback turn, got %s", turns[1].Status)
	}

	if tts.generatorCount() != 0 {
		t.Fatalf("expected no synthesis for an empty response, got %d generators", tts.generatorCount())
	}
}

func TestGreetingIsSpokenBeforeListening(t *testing.T) {
	stt := &scriptedTranscription{}
	tts := &textToSpeechStub{}
	output := &recordingAudioOutput{}
	recorder := &turnRecorder{}

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithTextToSpeechClient(tts),
		WithStreamingLLM(streamLLMStub{chunks: []string{"unused"}}),
		WithAudioOutput(output),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	p := personality.Default()

	if err := o.StartSession(context.Background(), p,
		WithTurnCompletedCallback(recorder.record),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "greeting to finish", func() bool {
		return len(recorder.snapshot()) == 1 && o.Session().State() == StateListening
	})

	turns := recorder.snapshot()
	if turns[0].Speaker != conversations.SpeakerAgent || turns[0].Text != p.Greeting {
		t.Fatalf("expected the greeting as the first agent turn, got %+v", turns[0])
	}
	if output.audioChunkCount() == 0 {
		t.Fatalf("expected the greeting to be synthesized")
	}
}

func TestHoldOffFoldsResumedSpeechIntoSameUtterance(t *testing.T) {
	stt := &scriptedTranscription{}
	recorder := &turnRecorder{}

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(streamLLMStub{chunks: []string{"Done. "}}),
		WithUtteranceHoldOff(100*time.Millisecond),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithTurnCompletedCallback(recorder.record),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	stt.emitFinal("turn on")
	stt.endUtterance()
	stt.startSpeech()
	stt.emitFinal("the kitchen lights")
	stt.endUtterance()

	waitForCondition(t, 2*time.Second, "the folded utterance to commit", func() bool {
		return len(recorder.snapshot()) >= 1
	})

	turns := recorder.snapshot()
	if turns[0].Text != "turn on the kitchen lights" {
		t.Fatalf("expected resumed speech to fold into one utterance, got %q", turns[0].Text)
	}
}

func TestSendPromptCommitsTypedUtterance(t *testing.T) {
	stt := &scriptedTranscription{}
	recorder := &turnRecorder{}

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(streamLLMStub{chunks: []string{"Certainly. "}}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithTurnCompletedCallback(recorder.record),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	if err := o.SendPrompt("what time is it"); err != nil {
		t.Fatalf("failed to send prompt: %v", err)
	}

	waitForCondition(t, 2*time.Second, "prompt and response turns to complete", func() bool {
		return len(recorder.snapshot()) == 2
	})

	turns := recorder.snapshot()
	if turns[0].Speaker != conversations.SpeakerUser || turns[0].Text != "what time is it" {
		t.Fatalf("unexpected user turn %+v", turns[0])
	}
}

func TestHangupTerminatesNormally(t *testing.T) {
	stt := &scriptedTranscription{}

	terminated := make(chan error, 1)

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(streamLLMStub{chunks: []string{"unused"}}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality(),
		WithSessionTerminatedCallback(func(reason error) {
			select {
			case terminated <- reason:
			default:
			}
		}),
	); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	o.Hangup()

	select {
	case reason := <-terminated:
		if reason != nil {
			t.Fatalf("expected a nil reason for a normal hangup, got %v", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for hangup")
	}

	if err := o.SendPrompt("too late"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after hangup, got %v", err)
	}
}

func TestMuteDropsCaptureFrames(t *testing.T) {
	stt := &scriptedTranscription{}

	o := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(streamLLMStub{chunks: []string{"unused"}}),
		WithUtteranceHoldOff(0),
	)
	defer o.Close(context.Background())

	if err := o.StartSession(context.Background(), mutePersonality()); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	waitForCondition(t, 2*time.Second, "session to start listening", func() bool {
		return o.Session().State() == StateListening
	})

	o.Mute()
	_ = o.FeedAudio(pcmFrame(8000, 160))
	if stt.sentFrameCount() != 0 {
		t.Fatalf("expected muted frames to be dropped")
	}

	o.Unmute()
	_ = o.FeedAudio(pcmFrame(8000, 160))

	waitForCondition(t, 2*time.Second, "unmuted frame to reach transcription", func() bool {
		return stt.sentFrameCount() == 1
	})
}

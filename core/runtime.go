package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hotline-labs/hotline-core/core/conversations"
	"github.com/hotline-labs/hotline-core/core/events"
	"github.com/hotline-labs/hotline-core/core/llms"
	"github.com/hotline-labs/hotline-core/core/speechtotext"
	"github.com/hotline-labs/hotline-core/core/texttospeech"
	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	sessionEventQueueCapacity  = 16
	priorityEventQueueCapacity = 4
)

// runtimeEvent is an internal event delivered to the session runtime loop.
// The loop is the sole mutator of session state; everything else (capture,
// transcription, pipelines, timers, the public API) communicates by enqueuing
// these.
type runtimeEvent interface {
	eventName() string
}

type sessionStarted struct{ greeting string }
type transcriptReceived struct{ transcript speechtotext.Transcript }
type utteranceEnded struct{}
type speechStarted struct{}

// commitUtterance finalizes the pending utterance as a user turn. generation
// guards against commits scheduled before the user resumed speaking.
type commitUtterance struct{ generation uint64 }

// bargeInDetected reports sustained user voice while the agent is speaking.
// Delivered on the priority queue so a backed-up event queue cannot delay the
// interruption.
type bargeInDetected struct{ energy float64 }

type userPromptReceived struct{ prompt string }
type pipelineSpeaking struct{ id string }
type pipelineFinished struct {
	id     string
	result pipelineResult
	err    error
}
type transcriptionFailed struct{ err error }
type hangupRequested struct{ reason error }

func (sessionStarted) eventName() string      { return "session started" }
func (transcriptReceived) eventName() string  { return "transcript received" }
func (utteranceEnded) eventName() string      { return "utterance ended" }
func (speechStarted) eventName() string       { return "speech started" }
func (commitUtterance) eventName() string     { return "commit utterance" }
func (bargeInDetected) eventName() string     { return "barge-in detected" }
func (userPromptReceived) eventName() string  { return "user prompt received" }
func (pipelineSpeaking) eventName() string    { return "pipeline speaking" }
func (pipelineFinished) eventName() string    { return "pipeline finished" }
func (transcriptionFailed) eventName() string { return "transcription failed" }
func (hangupRequested) eventName() string     { return "hangup requested" }

type pipelineKind int

const (
	responseKind pipelineKind = iota
	greetingKind
	apologyKind
)

// activePipeline tracks the one response pipeline that may run at a time.
type activePipeline struct {
	id        string
	kind      pipelineKind
	pipeline  *responsePipeline
	startedAt time.Time
	speaking  bool
}

type sessionRuntime struct {
	baseContext context.Context

	session *Session
	options SessionOptions

	llm                *llm
	textToSpeechClient TextToSpeech
	audioOutput        *audioOutput
	utteranceHoldOff   time.Duration

	queue    chan runtimeEvent
	priority chan runtimeEvent
	closeCh  chan struct{}
	done     chan struct{}

	startOnce sync.Once
	endOnce   sync.Once
	started   atomic.Bool

	// Everything below is loop-local: only the runtime loop goroutine touches
	// it.
	pendingSegments  []string
	pendingStarted   time.Time
	commitGeneration uint64
	active           *activePipeline
}

func newSessionRuntime(
	ctx context.Context,
	session *Session,
	options SessionOptions,
	llm *llm,
	textToSpeechClient TextToSpeech,
	audioOutput *audioOutput,
	utteranceHoldOff time.Duration,
) *sessionRuntime {
	return &sessionRuntime{
		baseContext:        ctx,
		session:            session,
		options:            options,
		llm:                llm,
		textToSpeechClient: textToSpeechClient,
		audioOutput:        audioOutput,
		utteranceHoldOff:   utteranceHoldOff,

		queue:    make(chan runtimeEvent, sessionEventQueueCapacity),
		priority: make(chan runtimeEvent, priorityEventQueueCapacity),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (runtime *sessionRuntime) start() {
	runtime.startOnce.Do(func() {
		runtime.started.Store(true)
		go func() {
			defer close(runtime.done)

			for {
				event, ok := runtime.nextEvent()
				if !ok {
					return
				}
				runtime.handleEvent(event)
			}
		}()
	})
}

// nextEvent prefers the priority queue so barge-in is never stuck behind
// queued transcripts.
func (runtime *sessionRuntime) nextEvent() (runtimeEvent, bool) {
	select {
	case <-runtime.closeCh:
		return nil, false
	case event := <-runtime.priority:
		return event, true
	default:
	}

	select {
	case <-runtime.closeCh:
		return nil, false
	case event := <-runtime.priority:
		return event, true
	case event := <-runtime.queue:
		return event, true
	}
}

func (runtime *sessionRuntime) end() {
	runtime.endOnce.Do(func() {
		close(runtime.closeCh)
		if runtime.active != nil {
			runtime.active.pipeline.Cancel()
		}
	})
}

func (runtime *sessionRuntime) waitUntilEnded() {
	if runtime.started.Load() {
		<-runtime.done
	}
}

func (runtime *sessionRuntime) isClosed() bool {
	select {
	case <-runtime.closeCh:
		return true
	default:
		return false
	}
}

func (runtime *sessionRuntime) enqueue(event runtimeEvent) bool {
	select {
	case <-runtime.closeCh:
		return false
	case runtime.queue <- event:
		return true
	}
}

func (runtime *sessionRuntime) enqueuePriority(event runtimeEvent) bool {
	select {
	case <-runtime.closeCh:
		return false
	case runtime.priority <- event:
		return true
	}
}

func (runtime *sessionRuntime) handleEvent(event runtimeEvent) {
	_, span := tracer.Start(runtime.baseContext, "handle session event",
		trace.WithAttributes(
			attribute.String("session.event", event.eventName()),
			attribute.String("session.state", string(runtime.session.State())),
		),
	)
	defer span.End()

	switch event := event.(type) {
	case sessionStarted:
		runtime.handleSessionStarted(event)
	case transcriptReceived:
		runtime.handleTranscript(event)
	case speechStarted:
		runtime.handleSpeechStarted()
	case utteranceEnded:
		runtime.handleUtteranceEnded()
	case commitUtterance:
		runtime.handleCommitUtterance(event)
	case bargeInDetected:
		runtime.handleBargeIn(event)
	case userPromptReceived:
		runtime.handleUserPrompt(event)
	case pipelineSpeaking:
		runtime.handlePipelineSpeaking(event)
	case pipelineFinished:
		runtime.handlePipelineFinished(event)
	case transcriptionFailed:
		runtime.terminateSession(fmt.Errorf("%w: %w", classifyTranscriptionFailure(event.err), event.err))
	case hangupRequested:
		runtime.terminateSession(event.reason)
	}
}

// classifyTranscriptionFailure picks the termination sentinel for a fatal
// transcription error: protocol violations are distinguished from plain
// connectivity loss so supervisors can react differently.
func classifyTranscriptionFailure(err error) error {
	if errors.Is(err, speechtotext.ErrProtocol) {
		return ErrProtocolFailure
	}
	return ErrTranscriptionUnavailable
}

func (runtime *sessionRuntime) handleSessionStarted(event sessionStarted) {
	if event.greeting != "" {
		runtime.startPipeline(greetingKind, event.greeting)
		return
	}

	runtime.setState(StateListening)
}

func (runtime *sessionRuntime) handleTranscript(event transcriptReceived) {
	transcriptEvent := events.NewTranscriptEvent(
		event.transcript.Text,
		event.transcript.IsFinal,
		event.transcript.Confidence,
	)
	if runtime.options.onTranscript != nil {
		runtime.options.onTranscript(transcriptEvent)
	}
	runtime.emitEvent(transcriptEvent)

	if !event.transcript.IsFinal || strings.TrimSpace(event.transcript.Text) == "" {
		return
	}

	switch runtime.session.State() {
	case StateListening:
		if len(runtime.pendingSegments) == 0 {
			runtime.pendingStarted = event.transcript.ReceivedAt
		}
		runtime.pendingSegments = append(runtime.pendingSegments, event.transcript.Text)
	case StateThinking:
		// The user kept talking before any agent audio played: the committed
		// utterance wasn't finished. Drop the in-flight response and fold the
		// new segment into a fresh utterance.
		runtime.cancelActivePipeline()
		runtime.setState(StateListening)
		runtime.pendingStarted = event.transcript.ReceivedAt
		runtime.pendingSegments = append(runtime.pendingSegments, event.transcript.Text)
	}
}

func (runtime *sessionRuntime) handleSpeechStarted() {
	runtime.emitEvent(events.NewSpeechStartedEvent())

	// Speech resuming voids any commit scheduled during the hold-off.
	runtime.commitGeneration++

	if runtime.session.State() == StateThinking && runtime.active != nil && !runtime.active.speaking {
		runtime.cancelActivePipeline()
		runtime.setState(StateListening)
	}
}

func (runtime *sessionRuntime) handleUtteranceEnded() {
	runtime.emitEvent(events.NewSpeechEndedEvent())

	if runtime.session.State() != StateListening || len(runtime.pendingSegments) == 0 {
		return
	}

	generation := runtime.commitGeneration
	if runtime.utteranceHoldOff <= 0 {
		runtime.handleCommitUtterance(commitUtterance{generation: generation})
		return
	}

	time.AfterFunc(runtime.utteranceHoldOff, func() {
		runtime.enqueue(commitUtterance{generation: generation})
	})
}

func (runtime *sessionRuntime) handleCommitUtterance(event commitUtterance) {
	if event.generation != runtime.commitGeneration {
		return
	}
	if runtime.session.State() != StateListening {
		return
	}

	text := strings.TrimSpace(strings.Join(runtime.pendingSegments, " "))
	runtime.pendingSegments = nil
	if text == "" {
		return
	}

	runtime.commitUserTurn(text, runtime.pendingStarted)
	runtime.setState(StateThinking)
	runtime.startPipeline(responseKind, "")
}

func (runtime *sessionRuntime) handleUserPrompt(event userPromptReceived) {
	prompt := strings.TrimSpace(event.prompt)
	if prompt == "" {
		return
	}

	if runtime.session.State() != StateListening {
		logger.Warn("Dropping prompt sent outside of listening state",
			"state", string(runtime.session.State()))
		return
	}

	runtime.emitEvent(events.NewUserPromptEvent(prompt))

	runtime.pendingSegments = nil
	runtime.commitGeneration++

	runtime.commitUserTurn(prompt, time.Now())
	runtime.setState(StateThinking)
	runtime.startPipeline(responseKind, "")
}

func (runtime *sessionRuntime) handleBargeIn(event bargeInDetected) {
	if runtime.session.State() != StateSpeaking || runtime.active == nil || !runtime.active.speaking {
		return
	}

	active := runtime.active
	runtime.active = nil
	active.pipeline.Cancel()

	// The agent turn ends right now with exactly what the user heard.
	spoken := active.pipeline.SpokenText()
	turn := conversations.NewTurn(conversations.SpeakerAgent, spoken, active.startedAt, conversations.TurnStatusInterrupted)
	runtime.session.appendTurn(turn)
	if runtime.options.onTurnCompleted != nil {
		runtime.options.onTurnCompleted(turn)
	}

	runtime.setState(StateInterrupted)
	runtime.setState(StateListening)
}

func (runtime *sessionRuntime) handlePipelineSpeaking(event pipelineSpeaking) {
	if runtime.active == nil || runtime.active.id != event.id {
		return
	}

	runtime.active.speaking = true
	switch runtime.session.State() {
	case StateIdle, StateThinking:
		runtime.setState(StateSpeaking)
	}
}

func (runtime *sessionRuntime) handlePipelineFinished(event pipelineFinished) {
	if runtime.active == nil || runtime.active.id != event.id {
		// The pipeline was already consumed, most likely by a barge-in.
		return
	}

	active := runtime.active
	runtime.active = nil

	switch active.kind {
	case greetingKind, apologyKind:
		if event.err == nil && event.result.GeneratedText != "" {
			runtime.finalizeAgentTurn(event.result.GeneratedText, active.startedAt)
		}
		runtime.resolveToListening()
		return

	case responseKind:
		if event.err != nil {
			logger.ErrorContext(runtime.baseContext, "Response pipeline failed", "error", event.err)
			if event.result.GeneratedText != "" {
				// Keep the partial response as the agent turn; the failure is
				// invisible to the history beyond the truncation.
				runtime.finalizeAgentTurn(event.result.GeneratedText, active.startedAt)
				runtime.resolveToListening()
				return
			}

			runtime.speakApology(active.startedAt)
			return
		}

		if event.result.Empty {
			runtime.finalizeAgentTurn(runtime.session.Personality().ConversationStyle.FallbackApology, active.startedAt)
			runtime.resolveToListening()
			return
		}

		runtime.finalizeAgentTurn(event.result.GeneratedText, active.startedAt)
		runtime.resolveToListening()
	}
}

// speakApology voices the personality's fallback apology after a response
// attempt failed outright.
func (runtime *sessionRuntime) speakApology(startedAt time.Time) {
	apology := runtime.session.Personality().ConversationStyle.FallbackApology
	if apology == "" || runtime.session.State() == StateSpeaking {
		runtime.finalizeAgentTurn(apology, startedAt)
		runtime.resolveToListening()
		return
	}

	runtime.startPipeline(apologyKind, apology)
}

func (runtime *sessionRuntime) finalizeAgentTurn(text string, startedAt time.Time) {
	if text == "" {
		return
	}

	turn := conversations.NewTurn(conversations.SpeakerAgent, text, startedAt, conversations.TurnStatusComplete)
	runtime.session.appendTurn(turn)
	if runtime.options.onTurnCompleted != nil {
		runtime.options.onTurnCompleted(turn)
	}
}

func (runtime *sessionRuntime) commitUserTurn(text string, startedAt time.Time) {
	turn := conversations.NewTurn(conversations.SpeakerUser, text, startedAt, conversations.TurnStatusComplete)
	runtime.session.appendTurn(turn)
	if runtime.options.onTurnCompleted != nil {
		runtime.options.onTurnCompleted(turn)
	}
}

// resolveToListening returns the session to listening from whichever
// non-terminal state the finished pipeline left it in.
func (runtime *sessionRuntime) resolveToListening() {
	switch runtime.session.State() {
	case StateIdle, StateThinking, StateSpeaking, StateInterrupted:
		runtime.setState(StateListening)
	}
}

func (runtime *sessionRuntime) startPipeline(kind pipelineKind, fixedText string) {
	personality := runtime.session.Personality()

	voiceSettings := texttospeech.VoiceSettings{}
	if err := copier.Copy(&voiceSettings, &personality.VoiceSettings); err != nil {
		logger.Warn("Failed to map personality voice settings", "error", err)
	}

	config := responsePipelineConfig{
		llm:          runtime.llm,
		textToSpeech: newTextToSpeech(runtime.textToSpeechClient, voiceSettings),
		audioOutput:  runtime.audioOutput,

		fixedText:    fixedText,
		instructions: personality.SystemMessage,
		style:        personality.ConversationStyle,
		history:      historyMessages(runtime.session.History()),

		onChunk: runtime.options.onResponse,
		onAudio: runtime.options.onAudio,
		onCancel: func() {
			if runtime.options.onCancellation != nil {
				runtime.options.onCancellation()
			}
		},
	}

	id := uuid.NewString()
	config.onSpeakingStarted = func() {
		runtime.enqueue(pipelineSpeaking{id: id})
	}

	pipeline := newResponsePipeline(id, config)
	runtime.active = &activePipeline{
		id:        id,
		kind:      kind,
		pipeline:  pipeline,
		startedAt: time.Now(),
	}

	go func() {
		result, err := pipeline.Run(runtime.baseContext)
		runtime.enqueue(pipelineFinished{id: id, result: result, err: err})
	}()
}

func (runtime *sessionRuntime) cancelActivePipeline() {
	if runtime.active == nil {
		return
	}

	active := runtime.active
	runtime.active = nil
	active.pipeline.Cancel()
}

func (runtime *sessionRuntime) terminateSession(reason error) {
	if runtime.session.State() == StateTerminated {
		return
	}

	runtime.cancelActivePipeline()
	runtime.session.terminate(reason)
	// Close the queues before notifying so the public API observes the closed
	// session by the time the termination callback fires.
	runtime.end()
	if runtime.options.onStateChanged != nil {
		runtime.options.onStateChanged(StateTerminated)
	}
	if runtime.options.onSessionTerminated != nil {
		runtime.options.onSessionTerminated(reason)
	}
}

func (runtime *sessionRuntime) emitEvent(event events.Event) {
	if runtime.options.onEvent != nil {
		runtime.options.onEvent(event)
	}
}

func (runtime *sessionRuntime) setState(to SessionState) {
	if err := runtime.session.transitionTo(to); err != nil {
		logger.Warn("Refusing state transition", "error", err)
		return
	}

	if runtime.options.onStateChanged != nil {
		runtime.options.onStateChanged(to)
	}
}

func historyMessages(turns []conversations.Turn) []llms.Message {
	messages := make([]llms.Message, 0, len(turns))
	for _, turn := range turns {
		role := llms.RoleUser
		if turn.Speaker == conversations.SpeakerAgent {
			role = llms.RoleAssistant
		}
		messages = append(messages, llms.Message{Role: role, Content: turn.Text})
	}
	return messages
}

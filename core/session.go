package orchestration

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hotline-labs/hotline-core/core/conversations"
	"github.com/hotline-labs/hotline-core/core/personality"
)

// SessionState is the turn-taking state of a live session. Transitions are
// driven exclusively by the session runtime loop.
type SessionState string

const (
	// StateIdle is the state before the session has started listening. The
	// greeting, if any, is spoken out of this state.
	StateIdle SessionState = "idle"
	// StateListening means the session is capturing user speech.
	StateListening SessionState = "listening"
	// StateThinking means a user utterance has been committed and a response
	// is being generated, but no agent audio has played yet.
	StateThinking SessionState = "thinking"
	// StateSpeaking means agent audio is playing.
	StateSpeaking SessionState = "speaking"
	// StateInterrupted is the transient state entered when the user barges in
	// over agent speech; it resolves to listening immediately.
	StateInterrupted SessionState = "interrupted"
	// StateTerminated is the final state. No further transitions happen.
	StateTerminated SessionState = "terminated"
)

var legalTransitions = map[SessionState][]SessionState{
	StateIdle:        {StateListening, StateSpeaking, StateTerminated},
	StateListening:   {StateThinking, StateTerminated},
	StateThinking:    {StateSpeaking, StateListening, StateTerminated},
	StateSpeaking:    {StateInterrupted, StateListening, StateTerminated},
	StateInterrupted: {StateListening, StateTerminated},
	StateTerminated:  {},
}

// Session holds the conversation state of one voice call: its turn history,
// turn-taking state and termination reason. All mutation happens on the
// runtime loop; accessors are safe to call from any goroutine.
type Session struct {
	mu sync.RWMutex

	id          string
	personality personality.Personality
	startedAt   time.Time

	state             SessionState
	history           []conversations.Turn
	terminationReason error
}

func newSession(p personality.Personality) *Session {
	return &Session{
		id:          uuid.NewString(),
		personality: p,
		startedAt:   time.Now(),
		state:       StateIdle,
	}
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Personality() personality.Personality {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.personality
}

// History returns a copy of the append-only turn history, ordered by the time
// each turn was committed.
func (s *Session) History() []conversations.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]conversations.Turn, len(s.history))
	copy(history, s.history)
	return history
}

// TerminationReason returns why the session terminated, or nil while it is
// still live or if it ended normally.
func (s *Session) TerminationReason() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminationReason
}

func (s *Session) transitionTo(to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range legalTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}

	return fmt.Errorf("illegal state transition %s -> %s", s.state, to)
}

func (s *Session) appendTurn(turn conversations.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
}

func (s *Session) terminate(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	s.state = StateTerminated
	s.terminationReason = reason
}

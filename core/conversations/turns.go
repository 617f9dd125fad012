package conversations

import (
	"time"

	"github.com/google/uuid"
)

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

type TurnStatus string

const (
	TurnStatusComplete    TurnStatus = "complete"
	TurnStatusInterrupted TurnStatus = "interrupted"
)

// Turn is a single finalized contribution to the conversation. Turns are
// immutable once appended to the session history; an interrupted agent turn
// carries only the text that was actually played back.
type Turn struct {
	ID      string
	Speaker Speaker
	Text    string

	StartedAt time.Time
	EndedAt   time.Time

	Status TurnStatus
}

func NewTurn(speaker Speaker, text string, startedAt time.Time, status TurnStatus) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		Status:    status,
	}
}

func (t Turn) Duration() time.Duration {
	return t.EndedAt.Sub(t.StartedAt)
}

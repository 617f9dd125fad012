package personality

import (
	"encoding/json"
	"fmt"
	"os"
)

// Personality describes who the agent is and how it speaks: the system
// message fed to the model, the greeting spoken when a session starts, the
// synthesis voice, and response shaping knobs.
type Personality struct {
	Name          string `json:"name"`
	SystemMessage string `json:"system_message"`
	Greeting      string `json:"greeting"`

	VoiceSettings     VoiceSettings     `json:"voice_settings"`
	ConversationStyle ConversationStyle `json:"conversation_style"`
}

type VoiceSettings struct {
	VoiceID         string  `json:"voice_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type ConversationStyle struct {
	MaxResponseTokens int     `json:"max_response_tokens"`
	Temperature       float64 `json:"temperature"`
	FallbackApology   string  `json:"fallback_apology"`
}

func Default() Personality {
	return Personality{
		Name:          "Assistant",
		SystemMessage: "You are a helpful voice assistant. Keep responses short and conversational.",
		Greeting:      "Hello! How can I help you today?",
		VoiceSettings: VoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Style:           0.0,
			UseSpeakerBoost: true,
		},
		ConversationStyle: ConversationStyle{
			MaxResponseTokens: 150,
			Temperature:       0.7,
			FallbackApology:   "I'm sorry, I encountered an error. Could you please repeat that?",
		},
	}
}

// Load reads a personality file and merges it over the defaults, so partial
// files only need to override the fields they care about.
func Load(path string) (Personality, error) {
	personality := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return personality, fmt.Errorf("failed to read personality file: %w", err)
	}

	if err := json.Unmarshal(data, &personality); err != nil {
		return personality, fmt.Errorf("failed to parse personality file: %w", err)
	}

	if err := personality.Validate(); err != nil {
		return personality, err
	}

	return personality, nil
}

func (p Personality) Validate() error {
	if p.SystemMessage == "" {
		return fmt.Errorf("personality is missing a system message")
	}
	if p.ConversationStyle.Temperature < 0 || p.ConversationStyle.Temperature > 2 {
		return fmt.Errorf("temperature %.2f is out of range [0, 2]", p.ConversationStyle.Temperature)
	}
	return nil
}

package personality

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personality.json")
	contents := `{
		"name": "Operator",
		"greeting": "Hotline, how can I help?",
		"voice_settings": {"voice_id": "voice-123", "stability": 0.8}
	}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write personality file: %v", err)
	}

	personality, err := Load(path)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}

	if personality.Name != "Operator" {
		t.Fatalf("expected overridden name, got %q", personality.Name)
	}
	if personality.Greeting != "Hotline, how can I help?" {
		t.Fatalf("expected overridden greeting, got %q", personality.Greeting)
	}
	if personality.VoiceSettings.VoiceID != "voice-123" {
		t.Fatalf("expected overridden voice id, got %q", personality.VoiceSettings.VoiceID)
	}
	if personality.SystemMessage != Default().SystemMessage {
		t.Fatalf("expected default system message to survive the merge")
	}
	if personality.ConversationStyle.FallbackApology != Default().ConversationStyle.FallbackApology {
		t.Fatalf("expected default fallback apology to survive the merge")
	}
}

func TestLoadMissingFileReturnsDefaultsAndError(t *testing.T) {
	personality, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
	if personality.SystemMessage == "" {
		t.Fatalf("expected usable defaults even on error")
	}
}

func TestValidateRejectsOutOfRangeTemperature(t *testing.T) {
	personality := Default()
	personality.ConversationStyle.Temperature = 3.5

	if err := personality.Validate(); err == nil {
		t.Fatalf("expected out-of-range temperature to be rejected")
	}
}

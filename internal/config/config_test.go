package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	os.Setenv("GEMINI_API_KEY", "test-gemini-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.GeminiAPIKey != "test-gemini-key" {
		t.Errorf("Expected GeminiAPIKey 'test-gemini-key', got '%s'", cfg.GeminiAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// Clear environment variables
	os.Unsetenv("GEMINI_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when GEMINI_API_KEY is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "test-gemini-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.VoiceMode != "turn" {
		t.Errorf("Expected default VoiceMode 'turn', got '%s'", cfg.VoiceMode)
	}
	if cfg.InputSampleRate != 16000 {
		t.Errorf("Expected default InputSampleRate 16000, got %d", cfg.InputSampleRate)
	}
	if cfg.OutputSampleRate != 24000 {
		t.Errorf("Expected default OutputSampleRate 24000, got %d", cfg.OutputSampleRate)
	}
	if cfg.FrameBufferCap != 25 {
		t.Errorf("Expected default FrameBufferCap 25, got %d", cfg.FrameBufferCap)
	}
	if cfg.PermissionRetryMs != 450 {
		t.Errorf("Expected default PermissionRetryMs 450, got %d", cfg.PermissionRetryMs)
	}
	if cfg.WarmupDelayMs != 300 {
		t.Errorf("Expected default WarmupDelayMs 300, got %d", cfg.WarmupDelayMs)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
}

func TestLoad_InvalidVoiceMode(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "test-gemini-key")
	os.Setenv("VOICE_MODE", "duplex")
	defer os.Unsetenv("GEMINI_API_KEY")
	defer os.Unsetenv("VOICE_MODE")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error for unknown voice mode")
	}
}

func TestLoad_CaptionsRequireDeepgramKey(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "test-gemini-key")
	os.Setenv("CAPTIONS_ENABLED", "true")
	os.Unsetenv("DEEPGRAM_API_KEY")
	defer os.Unsetenv("GEMINI_API_KEY")
	defer os.Unsetenv("CAPTIONS_ENABLED")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when captions are enabled without a Deepgram key")
	}
}

func TestPreferredVoiceNames(t *testing.T) {
	cfg := &Config{PreferredVoices: "Google US English, Samantha ,Daniel,"}

	names := cfg.PreferredVoiceNames()
	expected := []string{"Google US English", "Samantha", "Daniel"}
	if len(names) != len(expected) {
		t.Fatalf("Expected %d names, got %d: %v", len(expected), len(names), names)
	}
	for i, want := range expected {
		if names[i] != want {
			t.Errorf("Expected name %d to be '%s', got '%s'", i, want, names[i])
		}
	}
}

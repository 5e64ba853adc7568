package gateway

// ClientMessage is one message from the browser over the /voice socket
type ClientMessage struct {
	Type string `json:"type"`

	// Audio carries one base64 PCM frame for "frame" messages
	Audio string `json:"audio,omitempty"`

	// Granted reports the browser's microphone permission outcome for
	// "permission" messages
	Granted *bool `json:"granted,omitempty"`

	// Visible reports tab visibility for "visibility" messages
	Visible *bool `json:"visible,omitempty"`

	// Choice carries the selected recovery path for "recovery_choice"
	Choice string `json:"choice,omitempty"`

	// Voices lists the browser's synthesis voices for "voices" messages
	Voices []ClientVoice `json:"voices,omitempty"`

	// Utterance echoes the utterance number from the "speak" message a
	// "speech_done" message answers
	Utterance int `json:"utterance,omitempty"`
}

// ClientVoice mirrors one browser synthesis voice
type ClientVoice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// Client message types
const (
	ClientPress          = "press"
	ClientFrame          = "frame"
	ClientPermission     = "permission"
	ClientVisibility     = "visibility"
	ClientRecoveryChoice = "recovery_choice"
	ClientVoices         = "voices"
	ClientSpeechDone     = "speech_done"
)

// ServerMessage is one message to the browser
type ServerMessage struct {
	Type string `json:"type"`

	// State carries the session state for "state" messages
	State string `json:"state,omitempty"`

	// Text carries transcripts, replies, captions and error messages
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// Audio carries one base64 PCM chunk, StartAt its position on the
	// output timeline in seconds
	Audio   string  `json:"audio,omitempty"`
	StartAt float64 `json:"startAt,omitempty"`

	// Voice names the selected synthesis voice for "speak" messages,
	// Utterance numbers the utterance so its completion can be matched
	Voice     string `json:"voice,omitempty"`
	Utterance int    `json:"utterance,omitempty"`

	// Reason and Choices describe a recovery prompt
	Reason  string   `json:"reason,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// Server message types
const (
	ServerState          = "state"
	ServerUserTranscript = "user_transcript"
	ServerAssistantReply = "assistant_reply"
	ServerCaption        = "caption"
	ServerPlayAudio      = "play_audio"
	ServerAudioReset     = "audio_reset"
	ServerSpeak          = "speak"
	ServerStopSpeaking   = "stop_speaking"
	ServerTurnComplete   = "turn_complete"
	ServerError          = "error"
	ServerRecoveryPrompt = "recovery_prompt"
	ServerRequestMic     = "request_mic"
)

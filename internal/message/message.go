// Package message defines the wire types exchanged with agrospeak clients
// over every transport.
package message

import (
	"encoding/base64"
	"time"
)

// ResponseMode controls what output the caller wants back.
// The caller declares desired output in the request body, and the server
// populates or omits response fields accordingly. Speech is always queued
// on the session's player regardless of the mode.
type ResponseMode string

const (
	// ResponseModeText returns the reply text only.
	ResponseModeText ResponseMode = "text"

	// ResponseModeAudio returns the synthesized reply only (no text).
	ResponseModeAudio ResponseMode = "audio"

	// ResponseModeTextAudio returns both text and synthesized audio.
	ResponseModeTextAudio ResponseMode = "text+audio"
)

// Location is a point on the map, typically the farm.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// TurnRequest is one utterance from a client device.
type TurnRequest struct {
	// SessionID identifies the device conversation. HTTP and MQTT take it
	// from the path or topic.
	SessionID string `json:"session_id,omitempty"`

	// Text is typed input. It bypasses capture and transcription.
	Text string `json:"text,omitempty"`

	// Audio is a complete recording. Nil for text turns.
	Audio []byte `json:"audio,omitempty"`

	// ContentType is the MIME type of Audio (e.g., "audio/wav").
	ContentType string `json:"content_type,omitempty"`

	// Language, when set, becomes the session's language preference before
	// the turn runs (e.g., "Bemba", "Nyanja", "English").
	Language string `json:"language,omitempty"`

	// Location is where the farmer is. The configured default is used
	// when absent.
	Location *Location `json:"location,omitempty"`

	// AuthToken is the farmer's bearer token for profile lookups.
	AuthToken string `json:"auth_token,omitempty"`

	// ResponseMode defaults to "text+audio" when speech is enabled and
	// "text" otherwise.
	ResponseMode ResponseMode `json:"response_mode,omitempty"`
}

// HasAudio returns true if the request carries a recording.
func (r *TurnRequest) HasAudio() bool {
	return len(r.Audio) > 0
}

// Turn is one history entry.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // user, assistant, error
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Degradation names an adapter that fell back to its safe value.
type Degradation struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`

	// User is the recorded user turn (the transcript for voice turns).
	User Turn `json:"user"`

	// Response is the assistant turn, or an error turn when the turn failed.
	Response Turn `json:"response"`

	Intent string `json:"intent"`
	Route  string `json:"route"` // none, local, remote

	// Degradations lists adapters that fell back during the turn.
	Degradations []Degradation `json:"degradations,omitempty"`

	// SpeechPath is how the reply was voiced: none, local, remote,
	// local_fallback.
	SpeechPath string `json:"speech_path,omitempty"`

	// ResponseText mirrors Response.Text when the mode includes text.
	ResponseText string `json:"response_text,omitempty"`

	// ResponseAudio is the synthesized reply as a base64-encoded string.
	ResponseAudio string `json:"response_audio,omitempty"`

	// ResponseContentType is the MIME type of ResponseAudio.
	ResponseContentType string `json:"response_content_type,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// SetResponseAudioBytes base64-encodes raw audio bytes into ResponseAudio.
func (r *TurnResult) SetResponseAudioBytes(audio []byte) {
	if len(audio) > 0 {
		r.ResponseAudio = base64.StdEncoding.EncodeToString(audio)
	}
}

// History is a session's conversation in order.
type History struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language,omitempty"`
	Turns     []Turn `json:"turns"`
}

// Classification is the intent of a piece of text and where it would be
// answered.
type Classification struct {
	Text   string `json:"text"`
	Intent string `json:"intent"`
	Route  string `json:"route"` // local or remote
}

// Error is the JSON error body returned by transports.
type Error struct {
	Error string `json:"error"`
}

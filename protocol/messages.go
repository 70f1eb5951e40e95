package protocol

import "encoding/json"

// MessageType enumerates all control message types on both WebSocket
// surfaces: the avatar synthesis service and the browser connection.
type MessageType string

const (
	// Client -> avatar service
	MsgSessionStart   MessageType = "session_start"
	MsgTextInput      MessageType = "text_input"
	MsgTextAppend     MessageType = "text_append"
	MsgTextStreamDone MessageType = "text_stream_done"
	MsgTurnStart      MessageType = "turn_start"
	MsgBufferStatus   MessageType = "buffer_status"

	// Avatar service -> client
	MsgSessionReady  MessageType = "session_ready"
	MsgStateChange   MessageType = "state_change"
	MsgReadyToListen MessageType = "ready_to_listen"
	MsgError         MessageType = "error"

	// Avatar service acknowledgements, logged and otherwise ignored.
	MsgTextQueued          MessageType = "text_queued"
	MsgTextAppended        MessageType = "text_appended"
	MsgTextStreamCompleted MessageType = "text_stream_completed"
	MsgTurnQueued          MessageType = "turn_queued"
	MsgPong                MessageType = "pong"

	// Browser -> server
	MsgInit        MessageType = "init"
	MsgAudioConfig MessageType = "audio_config"
	// buffer_status is shared: the browser reports playback state with the
	// same type the server forwards to the avatar service.

	// Server -> browser
	MsgStatus MessageType = "status"
	// session_ready and error are shared with the avatar surface.
)

// Envelope is the outer JSON wrapper for all control messages.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// --- Avatar service payloads ---

// SessionStartPayload opens a synthesis session on the avatar service.
type SessionStartPayload struct {
	ExpressiveMode bool `json:"expressive_mode"`
	TargetBufferMs int  `json:"target_buffer_ms,omitempty"`
	MinBufferMs    int  `json:"min_buffer_ms,omitempty"`
	MaxBufferMs    int  `json:"max_buffer_ms,omitempty"`
}

// TextInputPayload starts a spoken response with its first sentence.
type TextInputPayload struct {
	Text       string `json:"text"`
	Expression string `json:"expression,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// TextAppendPayload continues the current spoken response.
type TextAppendPayload struct {
	Text string `json:"text"`
}

// TurnStartPayload asks the service to pre-generate thinking video in the
// avatar's current expression.
type TurnStartPayload struct {
	Expression string `json:"expression,omitempty"`
}

// BufferStatusPayload reports client playback state to the avatar service.
type BufferStatusPayload struct {
	BufferedMs       float64 `json:"buffered_ms"`
	PlaybackPosition float64 `json:"playback_position"`
}

// SessionReadyPayload confirms the avatar session is established.
type SessionReadyPayload struct {
	SessionID string `json:"session_id"`
}

// StateChangePayload announces an avatar service state transition.
type StateChangePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ErrorPayload carries a human-readable error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// --- Browser payloads ---
//
// status and error messages to the browser carry a plain string as data,
// not an object, so they have no payload struct here.

// InitPayload is the browser's first message, selecting the session setup.
// UsePregen defaults to true when omitted.
type InitPayload struct {
	Avatar     string `json:"avatar,omitempty"`
	Expression string `json:"expression,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Language   string `json:"language,omitempty"`
	UsePregen  *bool  `json:"use_pregen,omitempty"`
}

// AudioConfigPayload describes the microphone audio the browser will send.
type AudioConfigPayload struct {
	Format       string `json:"format,omitempty"` // linear16, mulaw, alaw
	SampleRate   int    `json:"sample_rate"`
	ChannelCount int    `json:"channel_count,omitempty"`
}

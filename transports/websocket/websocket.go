package websocket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"avatarchat/core"
	"avatarchat/protocol"
	"avatarchat/utils/audio"
)

// Conversation is the surface the bridge needs from the per-session
// orchestrator.
type Conversation interface {
	ProcessAudio(frame []byte)
	SetAudioConfig(sampleRate, channels int)
	SendBufferStatus(bufferedMs, playbackPosition float64)
}

// InitParams are the session options carried by the browser's init message,
// with server defaults already applied.
type InitParams struct {
	Avatar     string
	Expression string
	Prompt     string
	Language   string
	UsePregen  bool
}

// Defaults fill in init fields the browser omitted.
type Defaults struct {
	Avatar     string
	Expression string
	Prompt     string
	Language   string
}

// Bridge relays one browser connection: control JSON and binary microphone
// audio in, status JSON and binary video out. It owns the only writer to
// the socket.
type Bridge struct {
	conn      *websocket.Conn
	logger    *core.Logger
	sessionID string

	writeMu sync.Mutex

	audioFormat     audio.Format
	audioChannels   int
	audioConfigured bool
}

// NewBridge wraps an upgraded browser connection and mints a session id.
func NewBridge(conn *websocket.Conn, logger *core.Logger) *Bridge {
	if logger == nil {
		logger = core.GetLogger()
	}
	sessionID := uuid.New().String()
	return &Bridge{
		conn:      conn,
		logger:    logger.With(map[string]interface{}{"session_id": sessionID}),
		sessionID: sessionID,
	}
}

// SessionID returns the id minted for this browser connection.
func (b *Bridge) SessionID() string {
	return b.sessionID
}

// Logger returns the bridge's session-scoped logger.
func (b *Bridge) Logger() *core.Logger {
	return b.logger
}

// AwaitInit blocks until the browser sends its init message, applying
// defaults to omitted fields. A timeout or a non-init first message is
// answered with an error envelope before the error is returned.
func (b *Bridge) AwaitInit(timeout time.Duration, defaults Defaults) (InitParams, error) {
	if timeout > 0 {
		_ = b.conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = b.conn.SetReadDeadline(time.Time{}) }()
	}

	messageType, message, err := b.conn.ReadMessage()
	if err != nil {
		b.SendError("Initialization timeout")
		return InitParams{}, fmt.Errorf("bridge: await init: %w", err)
	}
	if messageType != websocket.TextMessage {
		b.SendError("Expected init message")
		return InitParams{}, errors.New("bridge: first message was not text")
	}

	msgType, raw, err := protocol.Unmarshal(message)
	if err != nil || msgType != protocol.MsgInit {
		b.SendError("Expected init message")
		return InitParams{}, fmt.Errorf("bridge: expected init, got %q", msgType)
	}

	data, err := protocol.UnmarshalData[protocol.InitPayload](raw)
	if err != nil {
		b.SendError("Malformed init message")
		return InitParams{}, fmt.Errorf("bridge: parse init: %w", err)
	}

	params := InitParams{
		Avatar:     data.Avatar,
		Expression: data.Expression,
		Prompt:     data.Prompt,
		Language:   data.Language,
		UsePregen:  true,
	}
	if params.Avatar == "" {
		params.Avatar = defaults.Avatar
	}
	if params.Expression == "" {
		params.Expression = defaults.Expression
	}
	if params.Prompt == "" {
		params.Prompt = defaults.Prompt
	}
	if params.Language == "" {
		params.Language = defaults.Language
	}
	if data.UsePregen != nil {
		params.UsePregen = *data.UsePregen
	}

	b.logger.Info("session init",
		"avatar", params.Avatar, "language", params.Language,
		"expression", params.Expression, "pregen", params.UsePregen)
	return params, nil
}

// Run pumps browser messages into the conversation until the connection
// closes. Binary frames are microphone audio, normalized to linear16 mono
// before forwarding; malformed control JSON is dropped, never fatal.
func (b *Bridge) Run(conv Conversation) error {
	for {
		messageType, message, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Info("client disconnected")
				return nil
			}
			return fmt.Errorf("bridge: read: %w", err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			b.handleAudio(conv, message)
		case websocket.TextMessage:
			b.handleControl(conv, message)
		}
	}
}

func (b *Bridge) handleAudio(conv Conversation, frame []byte) {
	if !b.audioConfigured {
		b.logger.Debug("dropping audio frame before audio_config")
		return
	}
	pcm, err := audio.ToLinear16Mono(frame, b.audioFormat, b.audioChannels)
	if err != nil {
		b.logger.Debug("dropping bad audio frame", "error", err)
		return
	}
	conv.ProcessAudio(pcm)
}

func (b *Bridge) handleControl(conv Conversation, message []byte) {
	msgType, raw, err := protocol.Unmarshal(message)
	if err != nil {
		b.logger.Debug("dropping malformed control message", "error", err)
		return
	}

	switch msgType {
	case protocol.MsgAudioConfig:
		data, err := protocol.UnmarshalData[protocol.AudioConfigPayload](raw)
		if err != nil {
			b.logger.Warn("bad audio_config payload", "error", err)
			return
		}
		format, err := audio.ParseFormat(data.Format)
		if err != nil {
			b.logger.Warn("bad audio_config format", "error", err)
			return
		}
		channels := data.ChannelCount
		if channels <= 0 {
			channels = 1
		}
		b.audioFormat = format
		b.audioChannels = channels
		b.audioConfigured = true
		b.logger.Info("audio config received",
			"format", string(format), "sample_rate", data.SampleRate, "channels", channels)
		// Downstream always sees mono linear16.
		conv.SetAudioConfig(data.SampleRate, 1)

	case protocol.MsgBufferStatus:
		data, err := protocol.UnmarshalData[protocol.BufferStatusPayload](raw)
		if err != nil {
			b.logger.Debug("bad buffer_status payload", "error", err)
			return
		}
		conv.SendBufferStatus(data.BufferedMs, data.PlaybackPosition)

	default:
		b.logger.Debug("ignoring control message", "type", string(msgType))
	}
}

// SendStatus reports a conversation state transition to the browser.
func (b *Bridge) SendStatus(status string) {
	b.sendEnvelope(protocol.MsgStatus, status)
}

// SendSessionReady notifies the browser the avatar session is established.
func (b *Bridge) SendSessionReady(sessionID string) {
	b.sendEnvelope(protocol.MsgSessionReady, protocol.SessionReadyPayload{SessionID: sessionID})
}

// SendError delivers a fatal error message, written before the channel
// closes so the user is never left in an unexplained stuck state.
func (b *Bridge) SendError(message string) {
	b.sendEnvelope(protocol.MsgError, message)
}

// SendVideo forwards one opaque video chunk to the browser.
func (b *Bridge) SendVideo(data []byte) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		b.logger.Debug("video frame not delivered", "error", err)
	}
}

func (b *Bridge) sendEnvelope(msgType protocol.MessageType, data interface{}) {
	msg, err := protocol.Marshal(msgType, data)
	if err != nil {
		b.logger.Error("marshal browser message", "type", string(msgType), "error", err)
		return
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		b.logger.Debug("browser message not delivered", "type", string(msgType), "error", err)
	}
}

// Close closes the underlying connection.
func (b *Bridge) Close() {
	_ = b.conn.Close()
}

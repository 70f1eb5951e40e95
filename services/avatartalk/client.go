package avatartalk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"avatarchat/core"
	"avatarchat/protocol"
)

// ErrNotConnected is returned when a send is attempted before Connect or
// after Disconnect.
var ErrNotConnected = errors.New("avatartalk: not connected")

const defaultCloseTimeout = 5 * time.Second

// Config holds connection options for the avatar synthesis service.
type Config struct {
	APIKey         string
	BaseURL        string
	Avatar         string
	Expression     string
	Language       string
	ConnectTimeout time.Duration
	CloseTimeout   time.Duration

	// Session options sent in session_start.
	ExpressiveMode bool
	TargetBufferMs int
	MinBufferMs    int
	MaxBufferMs    int
}

// DefaultConfig returns a config with sensible defaults; override what you need.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "wss://api.avatartalk.ai",
		Avatar:         "mexican_woman",
		Expression:     "neutral",
		Language:       "en",
		ConnectTimeout: 30 * time.Second,
		CloseTimeout:   defaultCloseTimeout,
		ExpressiveMode: true,
	}
}

// Callbacks are invoked from the client's read loop. All fields are optional.
type Callbacks struct {
	OnSessionReady  func(sessionID string)
	OnStateChange   func(from, to State)
	OnReadyToListen func()
	OnError         func(message string)
	OnVideoData     func(data []byte)
	OnDisconnect    func(err error)
}

// Client maintains one duplex WebSocket to the avatar service: JSON control
// messages both ways, binary video frames inbound.
type Client struct {
	config    *Config
	logger    *core.Logger
	callbacks Callbacks

	conn        *websocket.Conn
	connMu      sync.Mutex
	isConnected bool
	readDone    chan struct{}

	closeOnce sync.Once
}

// NewClient creates a client for one avatar session.
func NewClient(config *Config, callbacks Callbacks, logger *core.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.avatartalk.ai"
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = defaultCloseTimeout
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Client{
		config:    config,
		logger:    logger,
		callbacks: callbacks,
	}
}

// Connect dials the continuous-synthesis endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := c.buildURL()
	if err != nil {
		return fmt.Errorf("avatartalk: build url: %w", err)
	}

	headers := http.Header{
		"Authorization": {"Bearer " + c.config.APIKey},
	}

	dialCtx := ctx
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("avatartalk: connect: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.isConnected = true
	c.readDone = make(chan struct{})
	c.connMu.Unlock()

	go c.listen(conn, c.readDone)

	c.logger.Info("connected to avatar service", "avatar", c.config.Avatar, "language", c.config.Language)
	return nil
}

func (c *Client) buildURL() (string, error) {
	base, err := url.Parse(c.config.BaseURL + "/ws/continuous")
	if err != nil {
		return "", err
	}
	q := base.Query()
	q.Set("avatar", c.config.Avatar)
	q.Set("expression", c.config.Expression)
	q.Set("language", c.config.Language)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// StartSession sends session_start with the configured buffering options.
func (c *Client) StartSession() error {
	return c.send(protocol.MsgSessionStart, protocol.SessionStartPayload{
		ExpressiveMode: c.config.ExpressiveMode,
		TargetBufferMs: c.config.TargetBufferMs,
		MinBufferMs:    c.config.MinBufferMs,
		MaxBufferMs:    c.config.MaxBufferMs,
	})
}

// SendText begins a spoken response with its first sentence. expression and
// mode are omitted from the wire message when empty.
func (c *Client) SendText(text, expression, mode string) error {
	return c.send(protocol.MsgTextInput, protocol.TextInputPayload{
		Text:       text,
		Expression: expression,
		Mode:       mode,
	})
}

// AppendText continues the current spoken response.
func (c *Client) AppendText(text string) error {
	return c.send(protocol.MsgTextAppend, protocol.TextAppendPayload{Text: text})
}

// FinishTextStream marks the current response complete so the service can
// transition back toward silence after speaking.
func (c *Client) FinishTextStream() error {
	return c.send(protocol.MsgTextStreamDone, nil)
}

// SendTurnStart asks the service to pre-generate thinking video while the
// response is still being produced, in the avatar's current expression.
func (c *Client) SendTurnStart(expression string) error {
	return c.send(protocol.MsgTurnStart, protocol.TurnStartPayload{Expression: expression})
}

// SendBufferStatus forwards client playback state for pacing.
func (c *Client) SendBufferStatus(bufferedMs, playbackPosition float64) error {
	return c.send(protocol.MsgBufferStatus, protocol.BufferStatusPayload{
		BufferedMs:       bufferedMs,
		PlaybackPosition: playbackPosition,
	})
}

func (c *Client) send(msgType protocol.MessageType, data interface{}) error {
	b, err := protocol.Marshal(msgType, data)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if !c.isConnected || c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("avatartalk: send %s: %w", msgType, err)
	}
	return nil
}

// listen reads control and video frames until the connection drops.
func (c *Client) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	var loopErr error
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				loopErr = err
			}
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			if c.callbacks.OnVideoData != nil {
				c.callbacks.OnVideoData(message)
			}
		case websocket.TextMessage:
			c.handleControl(message)
		}
	}

	c.connMu.Lock()
	c.isConnected = false
	c.connMu.Unlock()

	if c.callbacks.OnDisconnect != nil {
		c.callbacks.OnDisconnect(loopErr)
	}
}

func (c *Client) handleControl(message []byte) {
	msgType, raw, err := protocol.Unmarshal(message)
	if err != nil {
		c.logger.Warn("malformed avatar message", "error", err)
		return
	}

	switch msgType {
	case protocol.MsgSessionReady:
		data, err := protocol.UnmarshalData[protocol.SessionReadyPayload](raw)
		if err != nil {
			c.logger.Warn("bad session_ready payload", "error", err)
			return
		}
		if c.callbacks.OnSessionReady != nil {
			c.callbacks.OnSessionReady(data.SessionID)
		}

	case protocol.MsgStateChange:
		data, err := protocol.UnmarshalData[protocol.StateChangePayload](raw)
		if err != nil {
			c.logger.Warn("bad state_change payload", "error", err)
			return
		}
		if c.callbacks.OnStateChange != nil {
			c.callbacks.OnStateChange(State(data.From), State(data.To))
		}

	case protocol.MsgReadyToListen:
		if c.callbacks.OnReadyToListen != nil {
			c.callbacks.OnReadyToListen()
		}

	case protocol.MsgError:
		data, _ := protocol.UnmarshalData[protocol.ErrorPayload](raw)
		c.logger.Error("avatar service error", "message", data.Message)
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(data.Message)
		}

	case protocol.MsgTextQueued, protocol.MsgTextAppended,
		protocol.MsgTextStreamCompleted, protocol.MsgTurnQueued, protocol.MsgPong:
		c.logger.Debug("avatar ack", "type", string(msgType))

	default:
		c.logger.Debug("unknown avatar message type", "type", string(msgType))
	}
}

// Disconnect sends a close frame and waits up to CloseTimeout for the peer
// to confirm closure before force-terminating. Safe to call more than once.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		conn := c.conn
		done := c.readDone
		c.conn = nil
		c.isConnected = false
		c.connMu.Unlock()

		if conn == nil {
			return
		}

		deadline := time.Now().Add(c.config.CloseTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

		if done != nil {
			select {
			case <-done:
			case <-time.After(c.config.CloseTimeout):
				c.logger.Warn("close not confirmed by peer, forcing disconnect")
			}
		}
		_ = conn.Close()
	})
}

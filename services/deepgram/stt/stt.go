package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"avatarchat/core"
)

// Config holds options for a Deepgram streaming transcription session.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Language       string
	SampleRate     int
	Channels       int
	InterimResults bool
	Punctuate      bool
	VadEvents      bool
	EndpointingMs  int
	UtteranceEndMs int
	ConnectTimeout time.Duration
}

// DefaultConfig returns a default configuration; override only what you need.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "wss://api.deepgram.com",
		Model:          "nova-3",
		Language:       "en",
		SampleRate:     16000,
		Channels:       1,
		InterimResults: true,
		Punctuate:      true,
		VadEvents:      true,
		EndpointingMs:  500,
		UtteranceEndMs: 1000,
		ConnectTimeout: 30 * time.Second,
	}
}

// TranscriptEvent is one recognition result surfaced to the caller.
type TranscriptEvent struct {
	Text         string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

// Callbacks are invoked from the service's read loop. All fields are optional.
type Callbacks struct {
	OnTranscript    func(ev TranscriptEvent)
	OnUtteranceEnd  func()
	OnSpeechStarted func()
	OnClosed        func(err error)
}

// Service maintains one streaming connection to Deepgram's listen.v1 API.
// Audio goes out as binary frames; results come back as JSON text frames.
type Service struct {
	config    *Config
	logger    *core.Logger
	callbacks Callbacks

	conn        *websocket.Conn
	connMu      sync.Mutex
	isConnected bool

	keepaliveStop chan struct{}
}

// NewService creates a transcription service for one session.
func NewService(config *Config, callbacks Callbacks, logger *core.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.deepgram.com"
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Service{
		config:    config,
		logger:    logger,
		callbacks: callbacks,
	}
}

// Connect dials listen.v1 and starts the read and keepalive loops.
func (s *Service) Connect(ctx context.Context) error {
	if s.config.APIKey == "" {
		return fmt.Errorf("deepgram: API key is required")
	}

	wsURL, err := s.buildURL()
	if err != nil {
		return fmt.Errorf("deepgram: build url: %w", err)
	}

	headers := map[string][]string{
		"Authorization": {"Token " + s.config.APIKey},
	}

	dialCtx := ctx
	if s.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("deepgram: connect: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.isConnected = true
	s.keepaliveStop = make(chan struct{})
	s.connMu.Unlock()

	go s.keepAlive(s.keepaliveStop)
	go s.listen(conn)

	s.logger.Info("connected to deepgram", "model", s.config.Model, "language", s.config.Language)
	return nil
}

func (s *Service) buildURL() (string, error) {
	base, err := url.Parse(s.config.BaseURL + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := base.Query()
	q.Set("model", s.config.Model)
	q.Set("language", s.config.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(s.config.SampleRate))
	q.Set("channels", strconv.Itoa(s.config.Channels))
	q.Set("punctuate", strconv.FormatBool(s.config.Punctuate))
	q.Set("interim_results", strconv.FormatBool(s.config.InterimResults))
	q.Set("vad_events", strconv.FormatBool(s.config.VadEvents))
	if s.config.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(s.config.EndpointingMs))
	}
	if s.config.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(s.config.UtteranceEndMs))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// SendAudio forwards one linear16 frame. A write error closes the
// connection; the caller reconnects on the next frame.
func (s *Service) SendAudio(frame []byte) error {
	s.connMu.Lock()
	if !s.isConnected || s.conn == nil {
		s.connMu.Unlock()
		return fmt.Errorf("deepgram: not connected")
	}
	err := s.conn.WriteMessage(websocket.BinaryMessage, frame)
	s.connMu.Unlock()

	if err != nil {
		s.Close()
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

// Finalize flushes buffered audio so any pending transcript is emitted with
// from_finalize set.
func (s *Service) Finalize() error {
	return s.sendControl("Finalize")
}

func (s *Service) sendControl(msgType string) error {
	msg, err := json.Marshal(listenV1Control{Type: msgType})
	if err != nil {
		return fmt.Errorf("deepgram: marshal %s: %w", msgType, err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if !s.isConnected || s.conn == nil {
		return fmt.Errorf("deepgram: not connected")
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("deepgram: send %s: %w", msgType, err)
	}
	return nil
}

// listen reads messages until the connection drops.
func (s *Service) listen(conn *websocket.Conn) {
	var loopErr error
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				loopErr = err
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := s.handleMessage(message); err != nil {
			s.logger.Debug("deepgram message dropped", "error", err)
		}
	}

	s.teardown()

	if s.callbacks.OnClosed != nil {
		s.callbacks.OnClosed(loopErr)
	}
}

func (s *Service) handleMessage(message []byte) error {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		return fmt.Errorf("parse message type: %w", err)
	}

	switch base.Type {
	case "Results":
		var result listenV1Results
		if err := json.Unmarshal(message, &result); err != nil {
			return fmt.Errorf("parse results: %w", err)
		}
		s.processResults(result)

	case "UtteranceEnd":
		if s.callbacks.OnUtteranceEnd != nil {
			s.callbacks.OnUtteranceEnd()
		}

	case "SpeechStarted":
		if s.callbacks.OnSpeechStarted != nil {
			s.callbacks.OnSpeechStarted()
		}

	case "Metadata":
		// Connection metadata, nothing to do.

	default:
		s.logger.Debug("unknown deepgram message type", "type", base.Type)
	}

	return nil
}

func (s *Service) processResults(result listenV1Results) {
	if len(result.Channel.Alternatives) == 0 {
		return
	}
	transcript := result.Channel.Alternatives[0].Transcript
	if transcript == "" && !result.FromFinalize {
		return
	}
	if s.callbacks.OnTranscript != nil {
		s.callbacks.OnTranscript(TranscriptEvent{
			Text:         transcript,
			IsFinal:      result.IsFinal,
			SpeechFinal:  result.SpeechFinal,
			FromFinalize: result.FromFinalize,
		})
	}
}

// keepAlive sends a KeepAlive control message every 5 seconds so Deepgram
// does not drop the connection during silence.
func (s *Service) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			msg, err := json.Marshal(listenV1Control{Type: "KeepAlive"})
			if err != nil {
				continue
			}
			s.connMu.Lock()
			if s.isConnected && s.conn != nil {
				_ = s.conn.WriteMessage(websocket.TextMessage, msg)
			}
			s.connMu.Unlock()
		}
	}
}

// Close sends CloseStream and tears the connection down. Safe to call when
// already closed.
func (s *Service) Close() {
	s.connMu.Lock()
	if s.isConnected && s.conn != nil {
		if msg, err := json.Marshal(listenV1Control{Type: "CloseStream"}); err == nil {
			_ = s.conn.WriteMessage(websocket.TextMessage, msg)
		}
	}
	s.connMu.Unlock()

	s.teardown()
}

func (s *Service) teardown() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
		s.keepaliveStop = nil
	}
	s.isConnected = false
}

// Message structs for the listen.v1 wire protocol.

type listenV1Control struct {
	Type string `json:"type"`
}

type listenV1Results struct {
	Type        string  `json:"type"`
	Duration    float64 `json:"duration"`
	Start       float64 `json:"start"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	FromFinalize bool `json:"from_finalize,omitempty"`
}

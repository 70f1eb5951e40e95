package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"avatarchat/config"
	"avatarchat/core"
	"avatarchat/services/avatartalk"
	"avatarchat/services/deepgram/stt"
	"avatarchat/services/openai/llm"
)

// Conversation status values reported upstream to the browser.
const (
	StatusThinking  = "thinking"
	StatusSpeaking  = "speaking"
	StatusListening = "listening"
)

// ExpressionExpressive selects LLM-controlled expressions per turn.
const ExpressionExpressive = "expressive"

// AvatarClient is the surface the orchestrator needs from the avatar
// synthesis connection.
type AvatarClient interface {
	Connect(ctx context.Context) error
	StartSession() error
	SendText(text, expression, mode string) error
	AppendText(text string) error
	FinishTextStream() error
	SendTurnStart(expression string) error
	SendBufferStatus(bufferedMs, playbackPosition float64) error
	Disconnect()
}

// ASRClient is the surface the orchestrator needs from the transcription
// connection.
type ASRClient interface {
	Connect(ctx context.Context) error
	SendAudio(frame []byte) error
	Finalize() error
	Close()
}

// LLMStreamer produces streamed completions.
type LLMStreamer interface {
	Stream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan error)
}

// Deps are the service factories one orchestrator builds its session from.
// Factories receive the callbacks the orchestrator wires to its event loop.
type Deps struct {
	NewAvatarClient func(avatar, expression, language string, cb avatartalk.Callbacks) AvatarClient
	NewASRClient    func(sampleRate, channels int, cb stt.Callbacks) ASRClient
	LLM             LLMStreamer
}

// Callbacks deliver orchestrator output upstream. All fields are optional.
type Callbacks struct {
	OnStatus       func(status string)
	OnSessionReady func(sessionID string)
	OnVideoData    func(data []byte)
	OnSessionError func(message string)
}

// Config holds per-session settings.
type Config struct {
	Avatar          string
	Expression      string // ExpressionExpressive enables expressive mode
	Language        string
	SystemPrompt    string
	UsePregen       bool
	LLMTimeout      time.Duration
	MaxPromptLength int
	MaxHistory      int
}

// Orchestrator coordinates one conversation: ASR in, LLM generation,
// avatar synthesis out. All turn-taking state is owned by a single event
// loop goroutine; external inputs arrive as posted events, so no state
// needs locking and gating flags flip in the same handler that detects a
// turn boundary.
type Orchestrator struct {
	config    Config
	deps      Deps
	callbacks Callbacks
	logger    *core.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	stopOnce  sync.Once
	startOnce sync.Once

	avatar         AvatarClient
	expressiveMode bool
	systemPrompt   string

	// Loop-owned state. Touched only by run().
	asr               ASRClient
	asrGen            int
	isListening       bool
	avatarTurnActive  bool
	ignoreTranscripts bool
	pauseAudioSending bool
	transcript        []string
	history           []llm.Message
	currentExpression string
	audioConfigured   bool
	audioSampleRate   int
	audioChannels     int
}

// Internal event types multiplexed onto the loop.
type event interface{}

type evAudioFrame struct{ frame []byte }
type evAudioConfig struct{ sampleRate, channels int }

// ASR events carry the generation of the connection that produced them so
// the loop can discard stragglers from a connection it already replaced.
type evTranscript struct {
	gen    int
	result stt.TranscriptEvent
}
type evUtteranceEnd struct{ gen int }
type evASRClosed struct {
	gen int
	err error
}
type evSessionReady struct{ sessionID string }
type evStateChange struct{ from, to avatartalk.State }
type evReadyToListen struct{}
type evAvatarError struct{ message string }
type evAvatarClosed struct{ err error }
type evBufferStatus struct{ bufferedMs, position float64 }
type evTurnDone struct {
	userText      string
	assistantText string
	expression    string
	ok            bool
	dispatchFail  bool
}
type evStop struct{}

// New creates an orchestrator for one session.
func New(cfg Config, deps Deps, callbacks Callbacks, logger *core.Logger) *Orchestrator {
	if logger == nil {
		logger = core.GetLogger()
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	if cfg.MaxPromptLength <= 0 {
		cfg.MaxPromptLength = 4000
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 30
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Orchestrator{
		config:    cfg,
		deps:      deps,
		callbacks: callbacks,
		logger:    logger,
		events:    make(chan event, 256),
		done:      make(chan struct{}),
	}
}

// StartSession connects the avatar service, wires its events into the loop,
// and starts the loop. The session becomes usable once session_ready fires.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	var startErr error
	started := false

	o.startOnce.Do(func() {
		started = true
		o.ctx, o.cancel = context.WithCancel(context.Background())

		o.expressiveMode = o.config.Expression == ExpressionExpressive
		effectiveExpression := o.config.Expression
		if o.expressiveMode {
			effectiveExpression = string(config.DefaultExpression)
		}
		o.currentExpression = effectiveExpression

		o.systemPrompt = o.config.SystemPrompt
		if len(o.systemPrompt) > o.config.MaxPromptLength {
			o.logger.Warn("system prompt truncated",
				"length", len(o.systemPrompt), "max", o.config.MaxPromptLength)
			o.systemPrompt = o.systemPrompt[:o.config.MaxPromptLength]
		}

		o.avatar = o.deps.NewAvatarClient(o.config.Avatar, effectiveExpression, o.config.Language,
			avatartalk.Callbacks{
				OnSessionReady:  func(id string) { o.post(evSessionReady{sessionID: id}) },
				OnStateChange:   func(from, to avatartalk.State) { o.post(evStateChange{from: from, to: to}) },
				OnReadyToListen: func() { o.post(evReadyToListen{}) },
				OnError:         func(msg string) { o.post(evAvatarError{message: msg}) },
				OnDisconnect:    func(err error) { o.post(evAvatarClosed{err: err}) },
				OnVideoData:     o.callbacks.OnVideoData,
			})

		if err := o.avatar.Connect(ctx); err != nil {
			o.cancel()
			close(o.done)
			startErr = fmt.Errorf("orchestrator: avatar connect: %w", err)
			return
		}
		if err := o.avatar.StartSession(); err != nil {
			o.avatar.Disconnect()
			o.cancel()
			close(o.done)
			startErr = fmt.Errorf("orchestrator: avatar session start: %w", err)
			return
		}

		go o.run()
		o.logger.Info("session starting",
			"avatar", o.config.Avatar, "language", o.config.Language,
			"expressive", o.expressiveMode, "pregen", o.config.UsePregen)
	})

	if !started {
		return errors.New("orchestrator: session already started")
	}
	return startErr
}

// ProcessAudio forwards one microphone frame. Non-blocking: frames are
// dropped rather than queued when the session is gated or backlogged, so
// stale audio never leaks into the next turn.
func (o *Orchestrator) ProcessAudio(frame []byte) {
	select {
	case o.events <- evAudioFrame{frame: frame}:
	default:
	}
}

// SetAudioConfig records the browser's microphone format. Audio frames are
// dropped until this has been called.
func (o *Orchestrator) SetAudioConfig(sampleRate, channels int) {
	o.post(evAudioConfig{sampleRate: sampleRate, channels: channels})
}

// SendBufferStatus forwards browser playback telemetry to the avatar service.
func (o *Orchestrator) SendBufferStatus(bufferedMs, playbackPosition float64) {
	o.post(evBufferStatus{bufferedMs: bufferedMs, position: playbackPosition})
}

// StopSession shuts the session down. Safe to call at any point, more than
// once, and with connections already closed.
func (o *Orchestrator) StopSession() {
	o.stopOnce.Do(func() {
		select {
		case o.events <- evStop{}:
		case <-o.done:
		}
	})
}

// post delivers an event to the loop, giving up once the session is over.
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// run is the session's event loop and the only goroutine that touches
// turn-taking state.
func (o *Orchestrator) run() {
	defer close(o.done)

	for ev := range o.events {
		switch ev := ev.(type) {
		case evAudioFrame:
			o.handleAudioFrame(ev.frame)
		case evAudioConfig:
			o.audioSampleRate = ev.sampleRate
			o.audioChannels = ev.channels
			o.audioConfigured = true
			o.logger.Info("audio config applied", "sample_rate", ev.sampleRate, "channels", ev.channels)
		case evTranscript:
			o.handleTranscript(ev)
		case evUtteranceEnd:
			o.handleUtteranceEnd(ev.gen)
		case evASRClosed:
			if ev.gen != o.asrGen {
				o.logger.Debug("ignoring close from replaced asr connection")
				break
			}
			if ev.err != nil {
				o.logger.Warn("asr connection closed", "error", ev.err)
			}
			o.asr = nil
		case evSessionReady:
			o.logger.Info("avatar session ready", "session_id", ev.sessionID)
			if o.callbacks.OnSessionReady != nil {
				o.callbacks.OnSessionReady(ev.sessionID)
			}
		case evStateChange:
			o.handleStateChange(ev.from, ev.to)
		case evReadyToListen:
			o.handleReadyToListen()
		case evAvatarError:
			o.logger.Error("avatar session error", "message", ev.message)
			o.failSession(ev.message)
			return
		case evAvatarClosed:
			if ev.err != nil {
				o.logger.Error("avatar connection lost", "error", ev.err)
				o.failSession("avatar connection lost")
			} else {
				o.logger.Info("avatar connection closed")
				o.failSession("avatar connection closed")
			}
			return
		case evBufferStatus:
			if err := o.avatar.SendBufferStatus(ev.bufferedMs, ev.position); err != nil {
				o.logger.Debug("buffer status not forwarded", "error", err)
			}
		case evTurnDone:
			o.handleTurnDone(ev)
		case evStop:
			o.shutdown()
			return
		}
	}
}

func (o *Orchestrator) handleAudioFrame(frame []byte) {
	if !o.isListening || o.pauseAudioSending {
		return
	}
	if !o.audioConfigured {
		o.logger.Debug("dropping audio frame before audio_config")
		return
	}

	// Lazy connect: the first forwarded frame establishes the ASR stream,
	// and a dropped connection is retried on the next frame.
	if o.asr == nil {
		o.asrGen++
		gen := o.asrGen
		asr := o.deps.NewASRClient(o.audioSampleRate, o.audioChannels, stt.Callbacks{
			OnTranscript:   func(result stt.TranscriptEvent) { o.post(evTranscript{gen: gen, result: result}) },
			OnUtteranceEnd: func() { o.post(evUtteranceEnd{gen: gen}) },
			OnClosed:       func(err error) { o.post(evASRClosed{gen: gen, err: err}) },
		})
		if err := asr.Connect(o.ctx); err != nil {
			o.logger.Error("asr connect failed", "error", err)
			return
		}
		o.asr = asr
	}

	if err := o.asr.SendAudio(frame); err != nil {
		o.logger.Warn("asr send failed", "error", err)
		o.asr.Close()
		o.asr = nil
	}
}

func (o *Orchestrator) handleTranscript(ev evTranscript) {
	if ev.gen != o.asrGen {
		o.logger.Debug("ignoring transcript from replaced asr connection")
		return
	}
	result := ev.result

	// Echoes of a Finalize flush repeat text already consumed.
	if result.FromFinalize {
		o.logger.Debug("ignoring finalize echo")
		return
	}
	if o.ignoreTranscripts {
		o.logger.Debug("ignoring transcript during avatar turn")
		return
	}
	if result.Text == "" || !result.IsFinal {
		return
	}

	o.transcript = append(o.transcript, result.Text)
	if result.SpeechFinal {
		o.endOfUtterance()
	}
}

func (o *Orchestrator) handleUtteranceEnd(gen int) {
	if gen != o.asrGen {
		o.logger.Debug("ignoring utterance end from replaced asr connection")
		return
	}
	if o.ignoreTranscripts {
		o.logger.Debug("ignoring utterance end during avatar turn")
		return
	}
	if len(o.transcript) == 0 {
		return
	}
	o.endOfUtterance()
}

// endOfUtterance is the turn boundary. The gating flags must flip here,
// before the turn goroutine is spawned, so an ASR event arriving in the
// same tick cannot double-trigger or feed stale text into the generator.
func (o *Orchestrator) endOfUtterance() {
	utterance := strings.TrimSpace(strings.Join(o.transcript, " "))
	if utterance == "" {
		return
	}

	o.ignoreTranscripts = true
	o.pauseAudioSending = true
	o.transcript = nil
	o.isListening = false
	o.avatarTurnActive = true

	o.logger.Info("end of utterance", "text", utterance)

	// Flush server-side buffered audio so leftovers surface now, as
	// filterable finalize echoes, instead of after the turn switch.
	if o.asr != nil {
		if err := o.asr.Finalize(); err != nil {
			o.logger.Debug("asr finalize failed", "error", err)
		}
	}

	o.status(StatusThinking)

	req := turnRequest{
		userText:   utterance,
		messages:   o.buildMessages(utterance),
		expression: o.currentExpression,
	}
	go o.runTurn(req)
}

func (o *Orchestrator) handleStateChange(from, to avatartalk.State) {
	o.logger.Info("avatar state", "from", string(from), "to", string(to))
	switch {
	case to.IsThinking():
		o.isListening = false
		o.status(StatusThinking)
	case to.IsSpeaking():
		o.isListening = false
		o.status(StatusSpeaking)
	}
	// The silence state is handled by the ready_to_listen signal.
}

func (o *Orchestrator) handleReadyToListen() {
	// The service emits ready_to_listen when its pregen segment drains,
	// which can happen while generation is still running. The microphone
	// stays off until the turn completes.
	if o.avatarTurnActive {
		o.logger.Info("ignoring ready_to_listen, avatar turn still active")
		return
	}

	o.transcript = nil
	o.ignoreTranscripts = false
	o.pauseAudioSending = false
	if !o.isListening {
		o.isListening = true
		o.status(StatusListening)
	}
}

func (o *Orchestrator) handleTurnDone(ev evTurnDone) {
	o.avatarTurnActive = false
	if ev.ok {
		o.addHistory(llm.RoleUser, ev.userText)
		o.addHistory(llm.RoleAssistant, ev.assistantText)
	}
	if o.expressiveMode && ev.expression != "" {
		o.currentExpression = ev.expression
	}
	if ev.dispatchFail {
		// Nothing reached the avatar, so no ready_to_listen will come.
		// Reopen the microphone directly.
		o.transcript = nil
		o.ignoreTranscripts = false
		o.pauseAudioSending = false
		o.isListening = true
		o.status(StatusListening)
	}
}

func (o *Orchestrator) failSession(message string) {
	if o.callbacks.OnSessionError != nil {
		o.callbacks.OnSessionError(message)
	}
	o.shutdown()
}

func (o *Orchestrator) shutdown() {
	o.cancel()
	if o.asr != nil {
		o.asr.Close()
		o.asr = nil
	}
	o.avatar.Disconnect()
	o.isListening = false
	o.logger.Info("session stopped")
}

func (o *Orchestrator) status(s string) {
	if o.callbacks.OnStatus != nil {
		o.callbacks.OnStatus(s)
	}
}

func (o *Orchestrator) addHistory(role, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	o.history = append(o.history, llm.Message{Role: role, Content: content})
	if len(o.history) > o.config.MaxHistory {
		o.history = o.history[len(o.history)-o.config.MaxHistory:]
	}
}

func (o *Orchestrator) buildMessages(userText string) []llm.Message {
	var b strings.Builder
	b.WriteString(o.systemPrompt)

	if o.config.Language != "en" {
		name := config.LanguageDisplayName(o.config.Language)
		fmt.Fprintf(&b, "\n\nIMPORTANT: You MUST respond in %s. All your responses should be in %s.", name, name)
	}

	if o.expressiveMode {
		b.WriteString("\n\nIMPORTANT: Start your response with a JSON prefix containing the expression, " +
			"then a newline, then your natural response text.\n" +
			"Format: {\"expression\": \"<emotion>\"}\n<your response>\n\n" +
			"Expressions: happy, neutral, serious\n" +
			"Example:\n{\"expression\": \"happy\"}\nHello! It's great to meet you.")
	}

	messages := make([]llm.Message, 0, len(o.history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: b.String()})
	messages = append(messages, o.history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
	return messages
}

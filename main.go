package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"avatarchat/config"
	"avatarchat/core"
	"avatarchat/orchestrator"
	"avatarchat/services/avatartalk"
	"avatarchat/services/deepgram/stt"
	"avatarchat/services/openai/llm"
	ws "avatarchat/transports/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The browser client is served from anywhere during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	logger := core.GetLogger()

	if err := godotenv.Load(".env.local"); err != nil {
		logger.With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}

	cfg := config.Load()
	llmService := llm.NewService(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIAPIBase,
		Model:   cfg.LLMModel,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/api/languages", handleLanguages)
	mux.HandleFunc("/ws/conversation", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "error", err)
			return
		}
		handleConversation(conn, cfg, llmService)
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func handleLanguages(w http.ResponseWriter, _ *http.Request) {
	type languageEntry struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	languages := make([]languageEntry, 0, len(config.Languages))
	for _, l := range config.Languages {
		languages = append(languages, languageEntry{Code: l.Code, Name: l.DisplayName})
	}
	body, err := sonic.Marshal(map[string]interface{}{"languages": languages})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// handleConversation runs one conversation session over one browser socket.
func handleConversation(conn *websocket.Conn, cfg config.Config, llmService *llm.Service) {
	bridge := ws.NewBridge(conn, core.GetLogger())
	defer bridge.Close()
	logger := bridge.Logger()

	params, err := bridge.AwaitInit(cfg.InitMessageTimeout, ws.Defaults{
		Avatar:     cfg.DefaultAvatar,
		Expression: cfg.DefaultExpression,
		Prompt:     cfg.SystemPrompt,
		Language:   cfg.DefaultLanguage,
	})
	if err != nil {
		logger.Warn("session not initialized", "error", err)
		return
	}

	orch := orchestrator.New(
		orchestrator.Config{
			Avatar:          params.Avatar,
			Expression:      params.Expression,
			Language:        params.Language,
			SystemPrompt:    params.Prompt,
			UsePregen:       params.UsePregen,
			LLMTimeout:      cfg.LLMTimeout,
			MaxPromptLength: cfg.MaxPromptLength,
			MaxHistory:      cfg.MaxHistoryMessages,
		},
		orchestrator.Deps{
			NewAvatarClient: func(avatar, expression, language string, cb avatartalk.Callbacks) orchestrator.AvatarClient {
				avatarCfg := avatartalk.DefaultConfig()
				avatarCfg.APIKey = cfg.AvatarTalkAPIKey
				avatarCfg.BaseURL = cfg.AvatarTalkAPIBase
				avatarCfg.Avatar = avatar
				avatarCfg.Expression = expression
				avatarCfg.Language = language
				avatarCfg.ConnectTimeout = cfg.ConnectTimeout
				avatarCfg.ExpressiveMode = params.Expression == orchestrator.ExpressionExpressive
				return avatartalk.NewClient(avatarCfg, cb, logger)
			},
			NewASRClient: func(sampleRate, channels int, cb stt.Callbacks) orchestrator.ASRClient {
				sttCfg := stt.DefaultConfig()
				sttCfg.APIKey = cfg.DeepgramAPIKey
				sttCfg.BaseURL = cfg.DeepgramAPIBase
				sttCfg.Language = config.DeepgramLanguageCode(params.Language)
				sttCfg.Model = asrModelName(params.Language)
				sttCfg.SampleRate = sampleRate
				sttCfg.Channels = channels
				sttCfg.ConnectTimeout = cfg.ConnectTimeout
				return stt.NewService(sttCfg, cb, logger)
			},
			LLM: llmService,
		},
		orchestrator.Callbacks{
			OnStatus:       bridge.SendStatus,
			OnSessionReady: bridge.SendSessionReady,
			OnVideoData:    bridge.SendVideo,
			OnSessionError: bridge.SendError,
		},
		logger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	err = orch.StartSession(startCtx)
	cancel()
	if err != nil {
		logger.Error("session start failed", "error", err)
		bridge.SendError("Failed to start session")
		return
	}
	defer orch.StopSession()

	if err := bridge.Run(orch); err != nil {
		logger.Warn("session ended", "error", err)
	}
}

// asrModelName maps a conversation language to the Deepgram model that
// serves it.
func asrModelName(language string) string {
	switch config.ASRModelForLanguage(language) {
	case config.ASRModelFlux:
		return "flux-general-en"
	case config.ASRModelNova2:
		return "nova-2"
	default:
		return "nova-3"
	}
}

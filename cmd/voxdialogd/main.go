// Command voxdialogd is the voice-dialog server: it accepts websocket
// connections carrying inbound mic audio and control frames, drives the
// STT -> LLM -> TTS pipeline per session, and serves synthesized audio
// artifacts over HTTP.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/voxdialog/pkg/agent"
	"github.com/lokutor-ai/voxdialog/pkg/artifact"
	"github.com/lokutor-ai/voxdialog/pkg/dialog"
	"github.com/lokutor-ai/voxdialog/pkg/obslog"
	llmProvider "github.com/lokutor-ai/voxdialog/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/voxdialog/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/voxdialog/pkg/providers/tts"
	"github.com/lokutor-ai/voxdialog/pkg/telemetry"
	"github.com/lokutor-ai/voxdialog/pkg/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	logger := obslog.NewSlogLogger("github.com/lokutor-ai/voxdialog/cmd/voxdialogd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{ServiceName: "voxdialogd"})
	if err != nil {
		log.Fatalf("telemetry init failed: %v", err)
	}
	defer shutdownTelemetry(context.Background())

	agentsPath := os.Getenv("AGENTS_CONFIG_PATH")
	if agentsPath == "" {
		agentsPath = "agents.yaml"
	}
	agents, err := agent.LoadFile(agentsPath)
	if err != nil {
		log.Fatalf("failed to load agent configuration %q: %v", agentsPath, err)
	}

	providers := buildProviders()

	cfg := dialog.DefaultConfig()

	cache := artifact.NewCache(cfg.ArtifactTTL, cfg.ArtifactMaxSize)
	go cache.Run(time.Minute)
	defer cache.Close()

	publisher := artifact.NewPublisher(cache, "/audio")

	server := transport.NewServer(agents, providers, publisher, cfg, logger)

	router := mux.NewRouter()
	server.RegisterRoutes(router, "/ws")
	artifact.RegisterRoutes(router, cache, "/audio")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("voxdialogd listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}

// buildProviders selects STT/LLM/TTS implementations from environment
// variables, mirroring the teacher's cmd/agent provider-selection switch.
func buildProviders() transport.Providers {
	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	sttProviderName := envOrDefault("STT_PROVIDER", "deepgram")
	llmProviderName := envOrDefault("LLM_PROVIDER", "groq")
	ttsProviderName := envOrDefault("TTS_PROVIDER", "lokutor")

	var stt dialog.STTProvider
	switch sttProviderName {
	case "openai":
		requireEnv("OPENAI_API_KEY", openaiKey)
		stt = sttProvider.NewOpenAISTT(openaiKey, "", 8000)
	case "assemblyai":
		requireEnv("ASSEMBLYAI_API_KEY", assemblyKey)
		stt = sttProvider.NewAssemblyAISTT(assemblyKey, 8000)
	case "groq":
		requireEnv("GROQ_API_KEY", groqKey)
		stt = sttProvider.NewGroqSTT(groqKey, "", 8000)
	case "deepgram":
		fallthrough
	default:
		requireEnv("DEEPGRAM_API_KEY", deepgramKey)
		stt = sttProvider.NewDeepgramSTT(deepgramKey, 8000)
	}

	var llm dialog.LLMProvider
	switch llmProviderName {
	case "openai":
		requireEnv("OPENAI_API_KEY", openaiKey)
		llm = llmProvider.NewOpenAILLM(openaiKey, "")
	case "anthropic":
		requireEnv("ANTHROPIC_API_KEY", anthropicKey)
		llm = llmProvider.NewAnthropicLLM(anthropicKey, "")
	case "google":
		requireEnv("GOOGLE_API_KEY", googleKey)
		llm = llmProvider.NewGoogleLLM(googleKey, "")
	case "groq":
		fallthrough
	default:
		requireEnv("GROQ_API_KEY", groqKey)
		llm = llmProvider.NewGroqLLM(groqKey, "")
	}

	var tts dialog.TTSProvider
	switch ttsProviderName {
	case "openai":
		requireEnv("OPENAI_API_KEY", openaiKey)
		tts = ttsProvider.NewOpenAITTS(openaiKey)
	case "lokutor":
		fallthrough
	default:
		requireEnv("LOKUTOR_API_KEY", lokutorKey)
		tts = ttsProvider.NewLokutorTTS(lokutorKey)
	}

	log.Printf("Configured: STT=%s | LLM=%s | TTS=%s\n", sttProviderName, llmProviderName, ttsProviderName)

	return transport.Providers{STT: stt, LLM: llm, TTS: tts}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(name, value string) {
	if value == "" {
		log.Fatalf("Error: %s must be set for the selected provider", name)
	}
}

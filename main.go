package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoChat/chat"
	"videoChat/config"
	"videoChat/core"
	"videoChat/processors"
	"videoChat/server"
	"videoChat/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	videos, err := storage.NewFileVideoStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to init video store: %v", err)
	}
	sessions, err := storage.NewFileSessionStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}

	dims := storage.Dimensions{
		core.ModalityText:  cfg.EmbeddingDim,
		core.ModalityImage: cfg.EmbeddingDim,
	}
	index := initVectorIndex(cfg, dims)

	timeout := time.Duration(cfg.ProviderTimeoutSec) * time.Second
	var (
		asr      processors.SpeechToText
		textEmb  processors.TextEmbedder
		imageEmb processors.ImageEmbedder
		primary  chat.LanguageModel
		fallback chat.LanguageModel
	)
	if cfg.HasValidAPI() {
		cli := openaiClient(cfg.APIKey, cfg.BaseURL)
		asr = processors.NewWhisperASR(cli, cfg.WhisperModel, timeout)
		textEmb = processors.NewOpenAITextEmbedder(cli, cfg.EmbeddingModel, cfg.EmbeddingDim, timeout)
		imageEmb = processors.NewCaptionImageEmbedder(cli, cfg.ChatModel, textEmb, timeout)
		primary = chat.NewOpenAIChat(cli, cfg.ChatModel, cfg.VisionEnabled, timeout)
		if cfg.HasFallback() {
			fbKey, fbURL := cfg.FallbackAPIKey, cfg.FallbackBaseURL
			if fbKey == "" {
				fbKey = cfg.APIKey
			}
			if fbURL == "" {
				fbURL = cfg.BaseURL
			}
			fallback = chat.NewOpenAIChat(openaiClient(fbKey, fbURL), cfg.FallbackChatModel, false, timeout)
			log.Printf("Fallback chat model configured: %s", cfg.FallbackChatModel)
		}
	} else {
		log.Printf("Warning: no API configuration found, using mock providers")
		asr = processors.MockASR{Duration: 60}
		textEmb = &processors.MockTextEmbedder{Dim: cfg.EmbeddingDim}
		imageEmb = &processors.MockImageEmbedder{Dim: cfg.EmbeddingDim}
		primary = &chat.MockLanguageModel{Reply: "No language model is configured. Set API_KEY to enable answers."}
	}

	pipeline := processors.NewPipeline(cfg, videos, index, processors.FFmpegExtractor{}, asr, textEmb, imageEmb)
	retriever := chat.NewRetriever(videos, index, textEmb, chat.ModalityWeights{
		core.ModalityText:  cfg.TextWeight,
		core.ModalityImage: cfg.ImageWeight,
	})
	orchestrator := chat.NewOrchestrator(sessions, retriever, primary, fallback, cfg.TopK, cfg.HistoryTokenBudget)

	srv := server.New(cfg, videos, sessions, index, pipeline, orchestrator)

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	pipeline.Wait()
	log.Println("All services shut down gracefully")
}

// initVectorIndex picks the backend from STORE (memory, pgvector, milvus) and
// falls back to the in-process index when an external one is unreachable.
func initVectorIndex(cfg *config.Config, dims storage.Dimensions) storage.VectorIndex {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("STORE"))) {
	case "pgvector":
		s, err := storage.NewPgVectorIndex(ctx, cfg.PostgresURL, dims)
		if err != nil {
			log.Printf("Warning: failed to init pgvector store (%v), falling back to memory store", err)
			break
		}
		log.Printf("Vector store initialized: pgvector")
		return s
	case "milvus":
		addr := cfg.MilvusAddr
		if addr == "" {
			addr = "localhost:19530"
		}
		s, err := storage.NewMilvusVectorIndex(ctx, addr,
			os.Getenv("MILVUS_USERNAME"), os.Getenv("MILVUS_PASSWORD"),
			os.Getenv("MILVUS_API_KEY"), os.Getenv("MILVUS_COLLECTION"), dims)
		if err != nil {
			log.Printf("Warning: failed to init milvus store (%v), falling back to memory store", err)
			break
		}
		log.Printf("Vector store initialized: milvus")
		return s
	}
	log.Printf("Vector store initialized: memory")
	return storage.NewMemoryVectorIndex(dims)
}

func openaiClient(apiKey, baseURL string) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

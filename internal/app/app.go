package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/davidobi/askmydocs/internal/config"
	db "github.com/davidobi/askmydocs/internal/core/database"
	"github.com/davidobi/askmydocs/internal/core/llm"
	"github.com/davidobi/askmydocs/internal/core/objectclient"
	"github.com/davidobi/askmydocs/internal/core/queue"
	"github.com/davidobi/askmydocs/internal/core/vectorstore"
	"github.com/davidobi/askmydocs/internal/registry"
	"github.com/davidobi/askmydocs/internal/services"
)

// App is the request-handling process: the two coordinators, the session
// registry, and the HTTP surface. Ingestion work itself happens in the
// separate worker process.
type App struct {
	Pool     *sql.DB
	Registry *registry.SessionRegistry
	Server   *Server

	embedder *llm.GeminiEmbedder
	provider *llm.GeminiLLM
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	pool, err := db.Open(appCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	jobQueue, err := queue.New(appCtx, pool)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("init job queue: %w", err)
	}

	store := vectorstore.New(pool)

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}

	provider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("couldn't initialize the llm: %w", err)
	}

	reg := registry.New()

	ingestService := services.NewIngestService(reg, jobQueue)
	if cfg.BucketName != "" {
		archive, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			log.Printf("WARN: object archive disabled: %v", err)
		} else {
			ingestService = ingestService.WithArchive(archive, cfg.BucketName)
		}
	}

	chatService := services.NewChatService(reg, store, embedder, provider)

	server := NewServer(cfg, ingestService, chatService)

	return &App{
		Pool:     pool,
		Registry: reg,
		Server:   server,
		embedder: embedder,
		provider: provider,
	}, nil
}

func (a *App) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.provider != nil {
		_ = a.provider.Close()
	}
	if a.Pool != nil {
		_ = a.Pool.Close()
	}
}

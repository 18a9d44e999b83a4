package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/davidobi/askmydocs/internal/config"
	db "github.com/davidobi/askmydocs/internal/core/database"
	"github.com/davidobi/askmydocs/internal/core/ingest"
	"github.com/davidobi/askmydocs/internal/core/llm"
	"github.com/davidobi/askmydocs/internal/core/objectclient"
	"github.com/davidobi/askmydocs/internal/core/queue"
	"github.com/davidobi/askmydocs/internal/core/vectorstore"
	"github.com/davidobi/askmydocs/internal/models"
	"github.com/davidobi/askmydocs/internal/notify"
)

// WorkerApp is the ingestion process: one consumer per named queue, each
// pulling one job at a time. It shares nothing in-process with the API; the
// durable queue and the completion callback are the only links.
type WorkerApp struct {
	pool    *sql.DB
	workers []*ingest.Worker

	closers []func() error
}

func NewWorkerApp(ctx context.Context, cfg *config.Config) (*WorkerApp, error) {
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

	transcriber, err := llm.NewGeminiTranscriber(appCtx, cfg.AIAPIKey, cfg.TranscribeModel)
	if err != nil {
		_ = embedder.Close()
		_ = pool.Close()
		return nil, fmt.Errorf("couldn't initialize the transcriber: %w", err)
	}

	notifier := notify.NewClient(cfg.CallbackURL)

	ingestCfg := ingest.DefaultConfig()
	ingestCfg.EmbedDim = cfg.EmbedDim
	ingestCfg.MaxAttempts = cfg.MaxJobAttempts

	poll := time.Duration(cfg.QueuePollMs) * time.Millisecond

	docWorker := ingest.NewWorker(
		models.MediaDocument, jobQueue, ingest.NewDocumentAdapter(),
		embedder, store, notifier, ingestCfg, poll,
	)
	audioWorker := ingest.NewWorker(
		models.MediaAudio, jobQueue, ingest.NewAudioAdapter(transcriber),
		embedder, store, notifier, ingestCfg, poll,
	)

	if cfg.BucketName != "" {
		archive, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			log.Printf("WARN: archive cleanup disabled: %v", err)
		} else {
			docWorker = docWorker.WithArchive(archive, cfg.BucketName)
			audioWorker = audioWorker.WithArchive(archive, cfg.BucketName)
		}
	}

	return &WorkerApp{
		pool:    pool,
		workers: []*ingest.Worker{docWorker, audioWorker},
		closers: []func() error{embedder.Close, transcriber.Close, pool.Close},
	}, nil
}

// Run blocks until ctx is cancelled and every consumer has drained.
func (a *WorkerApp) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range a.workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}

func (a *WorkerApp) Close() {
	for _, c := range a.closers {
		_ = c()
	}
}

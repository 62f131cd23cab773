package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"patient-assistant/internal/ai"
	"patient-assistant/internal/app"
	"patient-assistant/internal/cache"
	"patient-assistant/internal/config"
	"patient-assistant/internal/docstore"
	"patient-assistant/internal/generation"
	"patient-assistant/internal/history"
	"patient-assistant/internal/model"
	"patient-assistant/internal/platform/database"
	rabbitmqClient "patient-assistant/internal/platform/rabbitmq"
	redisClient "patient-assistant/internal/platform/redis"
	"patient-assistant/internal/repository"
	"patient-assistant/internal/retrieval"
	"patient-assistant/internal/retrieval/qdrant"
	"patient-assistant/internal/session"
	"patient-assistant/internal/worker"
)

const (
	localSectionHeader  = "=== Medical Knowledge Base ==="
	remoteSectionHeader = "=== External Medical Database ==="
)

type Options struct {
	// StartWorker starts the chat record consumer in queue persist mode.
	StartWorker bool
}

type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB        *gorm.DB
	Bolt      *docstore.BoltStore
	Docs      docstore.Store
	Redis     *redis.Client
	MQConn    *amqp.Connection
	Publisher *rabbitmqClient.ChatRecordPublisher
	Worker    *worker.ChatRecordWorker
	Qdrant    *qdrant.Client

	Sessions  *session.Store
	History   *history.Store
	Chat      *app.ChatService
	Profiles  *app.ProfileService
	Knowledge *app.KnowledgeService

	StartedAt time.Time
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.init(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config

	docs, err := a.openDocStore(ctx)
	if err != nil {
		return err
	}
	a.Docs = docs

	var historyCache history.Cache
	a.Redis, err = redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if a.Redis != nil {
		historyCache = cache.NewHistoryCache(
			a.Redis,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)
	}
	a.History = history.NewStore(docs, historyCache, a.Logger.Named("history"))

	var recorder generation.Recorder = a.History
	if cfg.History.PersistMode == "queue" {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.App.Name)
		if err != nil {
			return err
		}
		a.Publisher = rabbitmqClient.NewChatRecordPublisher(a.MQConn, cfg.RabbitMQ.ChatRecordQueue)
		recorder = history.NewQueueRecorder(a.History, a.Publisher)
		if opts.StartWorker {
			a.Worker = worker.NewChatRecordWorker(a.MQConn, a.History, cfg.RabbitMQ.ChatRecordQueue, a.Logger.Named("worker"))
			if err := a.Worker.Start(ctx); err != nil {
				return fmt.Errorf("start chat record worker failed: %w", err)
			}
		}
	}

	llmClient := ai.NewOpenAICompatibleClient()
	embedder := ai.NewEmbedder(llmClient, ai.Endpoint{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
	})
	generator := ai.NewChatGenerator(llmClient, ai.Endpoint{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})

	retrievalLogger := a.Logger.Named("retrieval")
	questions := retrieval.NewIndex(docs, cfg.Retrieval.QuestionsCollection, "prompt_embedding", retrievalLogger)
	myths := retrieval.NewIndex(docs, cfg.Retrieval.MythsCollection, "embedding", retrievalLogger)

	sections := []retrieval.Section{{
		Header:    localSectionHeader,
		Separator: "\n\n",
		Sources: []retrieval.Source{
			retrieval.NewLocalSource(questions, retrieval.QuestionAnswerFormatter, retrieval.LocalSourceConfig{
				Name:          cfg.Retrieval.QuestionsCollection,
				TopK:          cfg.Retrieval.LocalTopK,
				CategoryField: "category",
				DefaultLabel:  "Medical Q&A Dataset",
			}),
			retrieval.NewLocalSource(myths, retrieval.MythFactFormatter, retrieval.LocalSourceConfig{
				Name:          cfg.Retrieval.MythsCollection,
				TopK:          cfg.Retrieval.LocalTopK,
				CategoryField: "section",
				DefaultLabel:  "Health Facts Database",
			}),
		},
	}}
	if cfg.Qdrant.URL != "" {
		a.Qdrant = qdrant.NewClient(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
		})
		sections = append(sections, retrieval.Section{
			Header:    remoteSectionHeader,
			Separator: "\n",
			Sources: []retrieval.Source{
				retrieval.NewRemoteSource("qdrant", a.Qdrant, cfg.Retrieval.RemoteTopK, cfg.Qdrant.TextField, "External Medical Database"),
			},
		})
	} else {
		a.Logger.Info("remote semantic search disabled")
	}
	fusion := retrieval.NewFusion(embedder, sections, time.Duration(cfg.Retrieval.SourceTimeoutSecond)*time.Second, retrievalLogger)

	a.Sessions = session.NewStore(session.Config{
		WindowSize: cfg.Session.WindowSize,
		IdleTTL:    time.Duration(cfg.Session.IdleTTLSeconds) * time.Second,
	}, a.History, a.Logger.Named("session"))

	coordinator := generation.NewCoordinator(generator, recorder, generation.Config{
		TokenTimeout:     time.Duration(cfg.Generation.TokenTimeoutSeconds) * time.Second,
		StreamBufferSize: cfg.Generation.StreamBufferSize,
	}, a.Logger.Named("generation"))

	a.Profiles = app.NewProfileService(docs, a.Logger.Named("profile"))
	a.Chat = app.NewChatService(a.Sessions, fusion, a.Profiles, coordinator, a.History, a.Logger.Named("chat"))
	a.Knowledge = app.NewKnowledgeService(docs, embedder, []app.KnowledgeCollection{
		{Name: cfg.Retrieval.QuestionsCollection, TextField: "prompt", EmbeddingField: "prompt_embedding", Index: questions},
		{Name: cfg.Retrieval.MythsCollection, TextField: "myth", EmbeddingField: "embedding", Index: myths},
	}, a.Logger.Named("knowledge"))

	a.Logger.Info("application initialised",
		zap.String("docstore", cfg.DocStore.Driver),
		zap.String("persist_mode", cfg.History.PersistMode),
		zap.Bool("history_cache", a.Redis != nil),
		zap.Bool("remote_search", a.Qdrant != nil),
	)
	return nil
}

func (a *App) openDocStore(ctx context.Context) (docstore.Store, error) {
	cfg := a.Config
	switch cfg.DocStore.Driver {
	case "mysql", "postgres":
		dsn := cfg.Postgres.DSN
		if cfg.DocStore.Driver == "mysql" {
			dsn = cfg.MySQLDSN()
		}
		db, err := database.New(ctx, cfg.DocStore.Driver, dsn)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if err := db.AutoMigrate(&model.Document{}); err != nil {
			return nil, fmt.Errorf("auto migrate tables failed: %w", err)
		}
		return repository.NewDocumentRepository(db), nil
	case "bolt":
		store, err := docstore.NewBoltStore(cfg.Bolt.Path, a.Logger.Named("docstore"))
		if err != nil {
			return nil, err
		}
		a.Bolt = store
		return store, nil
	case "memory":
		return docstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown docstore driver %q", cfg.DocStore.Driver)
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.Worker != nil {
		a.Worker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Bolt != nil {
		if err := a.Bolt.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}

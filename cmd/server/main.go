package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"logsight-backend/config"
	"logsight-backend/internal/controller"
	"logsight-backend/internal/embedding"
	"logsight-backend/internal/filestate"
	"logsight-backend/internal/kafka"
	"logsight-backend/internal/keyword"
	"logsight-backend/internal/oracle"
	"logsight-backend/internal/router"
	"logsight-backend/internal/scheduler"
	"logsight-backend/internal/service"
	"logsight-backend/internal/session"
	"logsight-backend/internal/store"
	"logsight-backend/internal/vector"
)

func main() {
	var wg sync.WaitGroup

	app := fx.New(
		// Core Dependencies
		fx.Provide(
			config.NewConfig,
		),
		// Infrastructure Dependencies
		fx.Provide(
			NewGinEngine,
			NewKeywordStore,
			NewEmbeddingProvider,
			NewVectorStore,
			NewOracle,
			NewRouter,
			NewFileStateManager,
			session.NewManager,
			store.NewInMemoryConversationStore,
			kafka.NewKafkaLogProducer,
			kafka.NewKafkaLogConsumer,
			service.NewIngestService,
			service.NewAnalysisService,
			service.NewLogProducerService,
			service.NewLogConsumerService,
			controller.NewLogController,
			controller.NewAnalysisController,
		),
		fx.Invoke(
			RegisterAPIRoutes,
			RegisterScheduler,
			func(lc fx.Lifecycle, consumerService service.LogConsumerService) {
				startLogConsumer(lc, &wg, consumerService)
			},
		),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}
	<-app.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	log.Info().Msg("Shutting down application...")
	if err := app.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown due to error or timeout")
	}

	log.Info().Msg("Waiting for background goroutines to finish...")
	wg.Wait()
	log.Info().Msg("All background processes finished. Exiting.")
}

func NewGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// Configure CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	return r
}

func RegisterAPIRoutes(
	lifecycle fx.Lifecycle,
	engine *gin.Engine,
	cfg *config.Config,
	logController *controller.LogController,
	analysisController *controller.AnalysisController,
) {
	controller.RegisterLogRoutes(engine, logController)
	controller.RegisterAnalysisRoutes(engine, analysisController)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: engine,
	}
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info().Msgf("Starting HTTP server on port %s", cfg.Server.Port)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("HTTP server ListenAndServe error")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Shutting down HTTP server...")
			return server.Shutdown(ctx)
		},
	})
}

// --- Factory Functions ---

func NewKeywordStore(lc fx.Lifecycle, cfg *config.Config) (keyword.Store, error) {
	s, err := keyword.NewStore(cfg.Keyword.DBPath)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Closing keyword store")
			return s.Close()
		},
	})
	return s, nil
}

func NewEmbeddingProvider(cfg *config.Config) embedding.Provider {
	return embedding.NewOllamaProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model)
}

func NewVectorStore(lc fx.Lifecycle, cfg *config.Config, provider embedding.Provider) (vector.Store, error) {
	s, err := vector.NewStore(cfg.Vector.DBPath, provider)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Closing vector store")
			return s.Close()
		},
	})
	return s, nil
}

func NewOracle(cfg *config.Config) oracle.Oracle {
	return oracle.NewGeminiOracle(cfg.Oracle.APIKey, cfg.Oracle.ModelID)
}

func NewRouter(cfg *config.Config, o oracle.Oracle, kw keyword.Store, vs vector.Store, conversations store.ConversationStore) router.Router {
	return router.New(o, kw, vs, conversations, cfg.Router.MaxSteps)
}

func NewFileStateManager(cfg *config.Config) filestate.Manager {
	return filestate.NewManager(cfg.FileState.FilePath)
}

// --- Invoker Functions ---

func RegisterScheduler(lc fx.Lifecycle, cfg *config.Config, logProducerSvc service.LogProducerService) {
	scheduler.NewScheduler(lc, cfg, logProducerSvc)
}

// startLogConsumer starts the LogConsumerService in a goroutine managed by fx lifecycle
func startLogConsumer(lc fx.Lifecycle, wg *sync.WaitGroup, consumerService service.LogConsumerService) {
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info().Msg("Starting Log Consumer goroutine")
			go consumerService.Run(ctx, wg)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			log.Info().Msg("Signaling Log Consumer goroutine to stop...")
			cancel()
			return nil
		},
	})
}

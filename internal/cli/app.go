package cli

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-co-op/gocron"
	"github.com/jmoiron/sqlx"

	"github.com/example/kotoba/internal/ai"
	"github.com/example/kotoba/internal/awsutil"
	"github.com/example/kotoba/internal/batch"
	"github.com/example/kotoba/internal/config"
	"github.com/example/kotoba/internal/database"
	"github.com/example/kotoba/internal/metrics"
	"github.com/example/kotoba/internal/ratelimit"
	"github.com/example/kotoba/internal/review"
	"github.com/example/kotoba/internal/storage"
	"github.com/example/kotoba/internal/worker"
)

// app holds the components shared by the commands. Fields a command does
// not need stay nil.
type app struct {
	cfg     config.Config
	db      *sqlx.DB
	files   storage.Store
	metrics *metrics.Collector

	dispatcher *ai.Dispatcher
	pool       *worker.Pool
	jobs       batch.JobStore
	manager    *batch.Manager
	sweeper    *gocron.Scheduler

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error
}

type appOptions struct {
	memory  bool // keep batch jobs in memory instead of the database
	workers bool // start the worker pool and LLM clients
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewCollector()}

	if !opts.memory {
		db, err := database.Connect(database.Config{Type: cfg.Database.Type, DSN: cfg.Database.DSN})
		if err != nil {
			return nil, err
		}
		a.db = db
	}

	files, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.files = files

	if opts.memory {
		a.jobs = batch.NewMemoryStore()
	} else {
		a.jobs = database.NewBatchJobRepository(a.db)
	}

	if !opts.workers {
		a.manager = batch.NewManager(a.jobs, a.files, nil, nil, nil, a.metrics)
		return a, nil
	}

	dispatcher, err := a.buildDispatcher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = dispatcher

	models := make(map[string]string)
	for _, p := range dispatcher.Providers() {
		models[string(p)] = dispatcher.Model(p)
	}
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Limits(models))
	retrier := ai.NewRetrier(dispatcher, limiter, ai.RetryConfig{
		MaxAttempts: cfg.LLM.MaxRetries,
		BaseDelay:   cfg.LLM.RetryBaseDelay,
		CallTimeout: cfg.LLM.CallTimeout,
	}, a.metrics)

	a.pool = worker.NewPool(cfg.Batch.QueueSize)
	if err := a.pool.Start(cfg.Batch.Workers); err != nil {
		a.Close()
		return nil, err
	}

	processor := batch.NewProcessor(a.jobs, a.files, retrier, a.metrics)
	a.manager = batch.NewManager(a.jobs, a.files, a.pool, processor, dispatcher.Providers(), a.metrics)

	if err := a.startSweeper(cfg.Batch.SweepInterval); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// startSweeper periodically queues pending jobs that were submitted while
// the worker queue was full
func (a *app) startSweeper(interval time.Duration) error {
	a.sweeper = gocron.NewScheduler(time.UTC)
	_, err := a.sweeper.Every(interval).WaitForSchedule().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		n, err := a.manager.Requeue(ctx)
		if err != nil {
			log.Printf("Error requeueing pending batch jobs: %v", err)
			return
		}
		if n > 0 {
			log.Printf("Requeued %d pending batch jobs", n)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule batch sweep: %w", err)
	}
	a.sweeper.StartAsync()
	return nil
}

func (a *app) aws(ctx context.Context) (aws.Config, error) {
	a.awsOnce.Do(func() {
		a.awsCfg, a.awsErr = awsutil.Load(ctx, a.cfg.AWS.Region, a.cfg.AWS.Endpoint)
	})
	return a.awsCfg, a.awsErr
}

func (a *app) openStorage(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Storage.Backend {
	case "s3":
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return storage.NewS3Store(awsCfg, a.cfg.Storage.Bucket, a.cfg.Storage.PresignTTL, a.cfg.AWS.Endpoint != ""), nil
	default:
		return storage.NewLocalStore(a.cfg.Storage.Dir, a.cfg.Storage.BaseURL)
	}
}

// buildDispatcher registers a client for every provider with credentials
func (a *app) buildDispatcher(ctx context.Context) (*ai.Dispatcher, error) {
	d := ai.NewDispatcher()
	llm := a.cfg.LLM

	if llm.OpenAIKey != "" {
		c, err := ai.NewChatGPT(llm.OpenAIKey, llm.OpenAIModel)
		if err != nil {
			return nil, err
		}
		d.Register(ai.ProviderOpenAI, c)
	}
	if llm.GeminiKey != "" {
		c, err := ai.NewGemini(llm.GeminiKey, llm.GeminiModel)
		if err != nil {
			return nil, err
		}
		d.Register(ai.ProviderGemini, c)
	}
	if llm.BedrockEnabled {
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		d.Register(ai.ProviderBedrock, ai.NewBedrock(awsCfg, llm.BedrockModel))
	}

	if len(d.Providers()) == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set OPENAI_API_KEY, GEMINI_API_KEY or BEDROCK_ENABLED")
	}
	log.Printf("LLM providers: %v", d.Providers())
	return d, nil
}

func (a *app) reviewService() *review.Service {
	return review.NewService(
		database.NewReviewStateRepository(a.db),
		database.NewCardRepository(a.db),
		database.NewStatisticsRepository(a.db),
		a.metrics,
	)
}

// Close stops the workers and releases the database
func (a *app) Close() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"studypilot/internal/api"
	"studypilot/internal/config"
	"studypilot/internal/coordinator"
	"studypilot/internal/job"
	"studypilot/internal/knowledge"
	"studypilot/internal/llm"
	"studypilot/internal/llm/openai"
	"studypilot/internal/llm/pythonbridge"
	"studypilot/internal/observability/alerting"
	"studypilot/internal/observability/metrics"
	"studypilot/internal/plan"
	"studypilot/internal/planner"
	"studypilot/internal/scheduler"
	"studypilot/internal/session"
	"studypilot/internal/storage/mysql"
	"studypilot/pkg/logger"
)

// main 是 StudyPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("studypilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("STUDYPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "studypilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}
	defer logger.Sync()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var (
		planStore    plan.Store
		sessionStore session.Store
		jobStore     job.Store
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		planStore = plan.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
		jobStore = job.NewMemoryStore()
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.MySQL.ConnMaxLifetime) * time.Second,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := mysql.Migrate(ctx, db); err != nil {
			return err
		}
		if planStore, err = plan.NewMySQLStore(db); err != nil {
			return err
		}
		if sessionStore, err = session.NewMySQLStore(db); err != nil {
			return err
		}
		if jobStore, err = job.NewMySQLStore(db); err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() {
		_ = sessionStore.Close()
		_ = planStore.Close()
	}()

	var jobQueue job.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		jobQueue = job.NewMemoryQueue(1024)
	case "redis":
		queue, err := job.NewRedisQueue(job.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.QueueKey,
		})
		if err != nil {
			return err
		}
		jobQueue = queue
	case "rabbitmq":
		queue, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.QueueName,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return err
		}
		jobQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			logger.L().Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	var retriever knowledge.Retriever
	if cfg.Knowledge.Source != "" {
		static, err := knowledge.LoadStaticRetriever(cfg.Knowledge.Source, cfg.Knowledge.MinScore)
		if err != nil {
			return err
		}
		retriever = static
	}
	answerer := knowledge.NewAgent(llmClient, retriever,
		knowledge.WithTopK(cfg.Knowledge.TopK),
	)

	engine := scheduler.New(planStore, sessionStore,
		scheduler.WithDayStart(cfg.Planner.DayStartMinute),
	)

	generator := planner.New(llmClient, planStore, sessionStore,
		planner.WithDayStart(cfg.Planner.DayStartMinute),
		planner.WithSessionMinutes(cfg.Planner.SessionMinutes),
	)

	jobService := job.NewService(jobStore, jobQueue, cfg.Planner.MaxRetries)
	defer jobService.Close()

	// 降级生成器不接大模型，补偿路径始终走确定性排期。
	fallback := planner.New(nil, planStore, sessionStore,
		planner.WithDayStart(cfg.Planner.DayStartMinute),
		planner.WithSessionMinutes(cfg.Planner.SessionMinutes),
	)

	processorOpts := []job.ProcessorOption{
		job.WithWorkerCount(cfg.Planner.WorkerCount),
		job.WithProcessorLogger(logger.Named("processor")),
		job.WithRecoveryHandler(job.NewPlanRecovery(fallback)),
	}
	if dispatcher := buildAlertDispatcher(cfg); dispatcher != nil {
		processorOpts = append(processorOpts, job.WithAlertDispatcher(dispatcher))
	}
	processor := job.NewProcessor(generator, jobStore, jobQueue, jobQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	go func() {
		if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("指标服务异常退出", slog.Any("error", err))
		}
	}()

	co := coordinator.New(llmClient, engine, answerer, jobService,
		coordinator.WithJobWait(time.Duration(cfg.Planner.WaitTimeoutSeconds)*time.Second),
	)

	server := api.NewServer(cfg.Server.Address, co, engine, jobService)
	return server.Start(ctx)
}

// buildAlertDispatcher 按配置组装告警通道，未配置任何通道时返回 nil。
func buildAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	notifiers := make([]alerting.Notifier, 0, 3)
	if email := cfg.Alerting.Email; email != nil {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender:        &alerting.SMTPEmailSender{Addr: email.SMTPAddr, From: email.From},
			To:            email.To,
			SubjectPrefix: "[StudyPilot]",
		})
	}
	if ding := cfg.Alerting.DingTalk; ding != nil {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhookSender{URL: ding.WebhookURL},
		})
	}
	if slack := cfg.Alerting.Slack; slack != nil {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhookSender{URL: slack.WebhookURL},
			ChannelID: slack.Channel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

// createLLMClient 根据配置选择大模型接入方式。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := os.Getenv(cfg.LLM.OpenAI.APIKeyEnv)
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的大模型提供方: %s", cfg.LLM.Provider)
	}
}

// agentd watches configured GitHub/GitLab repositories for issues and pull
// requests carrying a bot label, runs an LLM dialogue loop against them
// through an MCP tool server, and converts labelled issues into pull/merge
// requests. This is the composition root: it loads configuration, builds
// every component, and starts the producer, worker pool, and HTTP surfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentforge/agentd/pkg/checkpoint"
	"github.com/agentforge/agentd/pkg/config"
	"github.com/agentforge/agentd/pkg/convert"
	"github.com/agentforge/agentd/pkg/database"
	"github.com/agentforge/agentd/pkg/dialogue"
	"github.com/agentforge/agentd/pkg/forge"
	"github.com/agentforge/agentd/pkg/forge/github"
	"github.com/agentforge/agentd/pkg/forge/gitlab"
	"github.com/agentforge/agentd/pkg/lifecycle"
	"github.com/agentforge/agentd/pkg/llm"
	"github.com/agentforge/agentd/pkg/mcptool"
	"github.com/agentforge/agentd/pkg/producer"
	"github.com/agentforge/agentd/pkg/task"
	"github.com/agentforge/agentd/pkg/taskqueue"
	"github.com/agentforge/agentd/pkg/tokenusage"
	"github.com/agentforge/agentd/pkg/userconfig"
	"github.com/agentforge/agentd/pkg/version"
	"github.com/agentforge/agentd/pkg/webhook"
	"github.com/agentforge/agentd/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	log.Printf("Starting %s", version.Full())
	log.Printf("Config directory: %s", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL database")

	forges, err := buildForges(cfg)
	if err != nil {
		log.Fatalf("Failed to build forge clients: %v", err)
	}

	queue, err := buildQueue(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to build task queue: %v", err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("Error closing task queue: %v", err)
		}
	}()

	checkpoints := checkpoint.NewStore(dbClient.DB())
	usage := tokenusage.NewStore(dbClient.DB())
	userconfigStore := userconfig.NewStore(dbClient.DB())
	resolver := userconfig.NewResolver(userconfigStore, userconfig.ResolveEncryptionKey(), userconfig.DefaultsFromEnv())

	llmClient := llm.NewHTTPClient(os.Getenv("LLM_API_BASE"), os.Getenv("LLM_API_KEY"))

	signals := lifecycle.NewSignals()

	var workerHeartbeat, producerHeartbeat *lifecycle.Heartbeat
	if cfg.Heartbeat.Dir != "" {
		workerHeartbeat, err = lifecycle.NewHeartbeat(cfg.Heartbeat.Dir, "worker")
		if err != nil {
			log.Fatalf("Failed to create worker heartbeat: %v", err)
		}
		producerHeartbeat, err = lifecycle.NewHeartbeat(cfg.Heartbeat.Dir, "producer")
		if err != nil {
			log.Fatalf("Failed to create producer heartbeat: %v", err)
		}
	}

	var converter *convert.Converter
	if cfg.Worker.ConvertIssues {
		converter, err = buildConverter(cfg, forges, llmClient)
		if err != nil {
			log.Fatalf("Failed to build converter: %v", err)
		}
	}

	toolFactory := buildToolSessionFactory()

	pool := worker.New(
		queue,
		forges,
		checkpoints,
		llmClient,
		toolFactory,
		converter,
		signals,
		workerHeartbeat,
		usage,
		worker.Options{
			WorkerCount:   cfg.Worker.WorkerCount,
			MinInterval:   cfg.Worker.MinInterval,
			ConvertIssues: cfg.Worker.ConvertIssues,
			BotUsername:   cfg.Worker.BotUsername,
			Dialogue: dialogue.Options{
				Model:                   cfg.Dialogue.Model,
				Temperature:             cfg.Dialogue.Temperature,
				MaxTokens:               cfg.Dialogue.MaxTokens,
				MaxRetries:              cfg.Dialogue.MaxRetries,
				MaxParseRetries:         cfg.Dialogue.MaxParseRetries,
				MaxTurns:                cfg.Dialogue.MaxTurns,
				SystemPrompt:            cfg.Dialogue.SystemPrompt,
				FirstUserPromptTemplate: cfg.Dialogue.FirstUserPromptTemplate,
			},
		},
	)
	pool.Start(ctx)

	sweeper := worker.NewOrphanSweeper(checkpoints, forges, task.DefaultLabelPolicy, cfg.Worker.OrphanThreshold, cfg.Worker.OrphanSweepInterval)
	go sweeper.Run(ctx, signals.StopCh())

	var prodLoop *producer.Loop
	if cfg.Producer.Enabled {
		targets := producerTargets(cfg)
		prodLoop = producer.New(targets, forges, queue, signals, producerHeartbeat)
		if cfg.Producer.CronSchedule != "" {
			go func() {
				if err := prodLoop.RunCron(ctx, cfg.Producer.CronSchedule); err != nil {
					slog.Error("producer cron schedule failed", "error", err)
				}
			}()
			log.Printf("Producer polling %d target(s) on schedule %q", len(targets), cfg.Producer.CronSchedule)
		} else {
			go prodLoop.RunFixedInterval(ctx, cfg.Producer.PollInterval)
			log.Printf("Producer polling %d target(s) every %s", len(targets), cfg.Producer.PollInterval)
		}
	}

	webhookServer := webhook.NewServer(webhook.Config{
		GitHubSecret:          os.Getenv(cfg.Webhook.GitHubSecretEnv),
		GitHubBotLabel:        cfg.Webhook.GitHubBotLabel,
		GitLabToken:           os.Getenv(cfg.Webhook.GitLabTokenEnv),
		GitLabSystemHookToken: os.Getenv(cfg.Webhook.GitLabSystemHookTokenEnv),
		GitLabBotLabel:        cfg.Webhook.GitLabBotLabel,
	}, queue)

	apiMux := http.NewServeMux()
	apiMux.Handle("/config/", userconfig.NewServer(resolver, os.Getenv(cfg.API.APIKeyEnv)).Handler())
	apiMux.Handle("/token-usage/", tokenusage.NewServer(usage, os.Getenv(cfg.API.APIKeyEnv)).Handler())

	webhookHTTP := &http.Server{Addr: cfg.Webhook.ListenAddr, Handler: webhookServer.Handler()}
	apiHTTP := &http.Server{Addr: cfg.API.ListenAddr, Handler: apiMux}

	go func() {
		slog.Info("webhook server listening", "addr", cfg.Webhook.ListenAddr)
		if err := webhookHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("webhook server failed: %v", err)
		}
	}()
	go func() {
		slog.Info("api server listening", "addr", cfg.API.ListenAddr)
		if err := apiHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server failed: %v", err)
		}
	}()

	<-signals.StopCh()
	slog.Info("shutdown requested, waiting for workers to drain")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = webhookHTTP.Shutdown(shutdownCtx)
	_ = apiHTTP.Shutdown(shutdownCtx)

	pool.Wait()
	slog.Info("shutdown complete")
}

// buildForges constructs one forge.Client per distinct source named by
// cfg.Targets. GitHub auth comes from GITHUB_PERSONAL_ACCESS_TOKEN; GitLab
// from GITLAB_PERSONAL_ACCESS_TOKEN and (optionally) GITLAB_API_URL,
// defaulting to https://gitlab.com.
func buildForges(cfg *config.Config) (map[task.Source]forge.Client, error) {
	forges := make(map[task.Source]forge.Client)
	var wantGitHub, wantGitLab bool
	for _, target := range cfg.Targets {
		switch target.Source {
		case task.SourceGitHub:
			wantGitHub = true
		case task.SourceGitLab:
			wantGitLab = true
		}
	}

	if wantGitHub {
		forges[task.SourceGitHub] = github.New(os.Getenv("GITHUB_PERSONAL_ACCESS_TOKEN"))
	}
	if wantGitLab {
		baseURL := getEnv("GITLAB_API_URL", "https://gitlab.com")
		client, err := gitlab.New(os.Getenv("GITLAB_PERSONAL_ACCESS_TOKEN"), baseURL)
		if err != nil {
			return nil, fmt.Errorf("build gitlab client: %w", err)
		}
		forges[task.SourceGitLab] = client
	}
	return forges, nil
}

func buildQueue(qc config.QueueConfig) (taskqueue.Queue, error) {
	switch qc.Backend {
	case config.QueueBackendRabbitMQ:
		return taskqueue.NewRabbitMQQueue(taskqueue.RabbitMQConfig{
			URL:       qc.RabbitMQURL,
			QueueName: qc.RabbitMQQueueName,
		})
	default:
		return taskqueue.NewMemoryQueue(qc.Capacity), nil
	}
}

// buildConverter wires the issue->change-request converter to the forge
// client for the first configured target's source. The converter type
// (pkg/convert) is bound to a single forge.Client; a deployment whose
// targets span both GitHub and GitLab with conversion enabled needs a
// converter per source, which is future work — see DESIGN.md.
func buildConverter(cfg *config.Config, forges map[task.Source]forge.Client, llmClient llm.Client) (*convert.Converter, error) {
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}
	primary := cfg.Targets[0].Source
	for _, target := range cfg.Targets[1:] {
		if target.Source != primary {
			slog.Warn("convert_issues enabled with targets spanning multiple forges; only the primary forge's issues will be converted", "primary_source", primary)
			break
		}
	}
	fc, ok := forges[primary]
	if !ok {
		return nil, fmt.Errorf("no forge client for source %s", primary)
	}
	return convert.New(fc, llmClient, convert.Options{
		Enabled:   true,
		AutoDraft: false,
	}), nil
}

// buildToolSessionFactory returns a factory that launches a fresh MCP tool
// server subprocess per dialogue run, configured by MCP_SERVER_COMMAND
// (and optional MCP_SERVER_ARGS, space-separated).
func buildToolSessionFactory() worker.ToolSessionFactory {
	command := os.Getenv("MCP_SERVER_COMMAND")
	var args []string
	if raw := os.Getenv("MCP_SERVER_ARGS"); raw != "" {
		args = strings.Fields(raw)
	}
	return func(ctx context.Context) (worker.ToolSession, error) {
		return mcptool.Connect(ctx, mcptool.Config{
			Command:    command,
			Args:       args,
			ClientName: version.AppName,
		})
	}
}

func producerTargets(cfg *config.Config) []producer.Target {
	targets := make([]producer.Target, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets = append(targets, producer.Target{
			Source:   t.Source,
			Repo:     t.RepoRef(),
			BotLabel: t.BotLabel,
		})
	}
	return targets
}

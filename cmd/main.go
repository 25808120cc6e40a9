package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"docchat/handler"
	"docchat/internal/config"
	"docchat/internal/integrations/openai"
	"docchat/internal/integrations/paramstore"
	"docchat/internal/integrations/process"
	"docchat/internal/repository"
	"docchat/internal/uploads"
	"docchat/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		logger.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	store, err := uploads.New(cfg.UploadRoot)
	if err != nil {
		logger.Error("failed to create upload store", "err", err)
		os.Exit(1)
	}

	// ---- Engines ----
	var engine usecase.ReasoningEngine
	switch cfg.EngineBackend {
	case config.BackendOpenAI:
		model, err := ssmClient.GetParameterOrDefault(ctx, cfg.ParamPrefix+"/config/openai_model", openai.DefaultModel)
		if err != nil {
			logger.Error("failed to read model parameter", "err", err)
			os.Exit(1)
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.EngineTimeout}),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		engine, err = openai.NewClient(ssmClient, cfg.ParamPrefix, opts...)
		if err != nil {
			logger.Error("failed to create OpenAI client", "err", err)
			os.Exit(1)
		}
	default:
		runner, err := process.NewRunner(cfg.EngineTimeout, logger)
		if err != nil {
			logger.Error("failed to create engine runner", "err", err)
			os.Exit(1)
		}
		engine, err = process.NewReasoningEngine(runner, cfg.AnswerArgv(), cfg.MemoryArgv())
		if err != nil {
			logger.Error("failed to create reasoning engine", "err", err)
			os.Exit(1)
		}
	}
	ingestRunner, err := process.NewRunner(cfg.IngestTimeout, logger)
	if err != nil {
		logger.Error("failed to create ingest runner", "err", err)
		os.Exit(1)
	}
	ingestEngine, err := process.NewIngestionEngine(ingestRunner, cfg.IngestArgv())
	if err != nil {
		logger.Error("failed to create ingestion engine", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	quota, err := usecase.NewQuotaEnforcer(stateClient)
	if err != nil {
		logger.Error("failed to create quota enforcer", "err", err)
		os.Exit(1)
	}
	accounts, err := usecase.NewAccountService(stateClient, quota)
	if err != nil {
		logger.Error("failed to create account service", "err", err)
		os.Exit(1)
	}
	resolver, err := usecase.NewSessionResolver(stateClient, cfg.ContinuityWindow)
	if err != nil {
		logger.Error("failed to create session resolver", "err", err)
		os.Exit(1)
	}
	orchestrator, err := usecase.NewOrchestrator(engine, stateClient, stateClient, logger,
		usecase.WithMemoryFailureFatal(cfg.MemoryFailureFatal),
		usecase.WithMaxContextItems(cfg.MaxContextItems),
		usecase.WithMaxSessionBytes(cfg.MaxSessionBytes))
	if err != nil {
		logger.Error("failed to create orchestrator", "err", err)
		os.Exit(1)
	}
	messages, err := usecase.NewMessageService(accounts, quota, resolver, orchestrator, stateClient, cfg.MaxMessageLength)
	if err != nil {
		logger.Error("failed to create message service", "err", err)
		os.Exit(1)
	}
	pipeline, err := usecase.NewIngestionPipeline(ingestEngine, store, logger)
	if err != nil {
		logger.Error("failed to create ingestion pipeline", "err", err)
		os.Exit(1)
	}
	uploadService, err := usecase.NewUploadService(store, uploads.NewPDFValidator(), pipeline)
	if err != nil {
		logger.Error("failed to create upload service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(messages, accounts, uploadService, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

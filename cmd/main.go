package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"persona-chat/handler"
	"persona-chat/internal/chat"
	"persona-chat/internal/comments"
	"persona-chat/internal/config"
	"persona-chat/internal/integrations/identity"
	"persona-chat/internal/integrations/openai"
	"persona-chat/internal/integrations/paramstore"
	"persona-chat/internal/logging"
	"persona-chat/internal/persona"
	"persona-chat/internal/repository"
	"persona-chat/internal/repository/memstore"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)

	// ---- AWS SDK config ----
	var (
		params   *paramstore.Client
		messages chat.MessageStore
		cmts     comments.Store
	)
	needAWS := cfg.StoreBackend == config.BackendDynamoDB || cfg.ParamPrefix != ""
	if needAWS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load AWS config")
		}
		if cfg.ParamPrefix != "" {
			params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create SSM client")
			}
		}
		if cfg.StoreBackend == config.BackendDynamoDB {
			stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable,
				repository.WithPollInterval(cfg.PollInterval),
				repository.WithLogger(log),
			)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create state client")
			}
			messages, cmts = stateClient, stateClient
		}
	}
	if cfg.StoreBackend == config.BackendMemory {
		store := memstore.New()
		messages, cmts = store, store
		log.Warn().Msg("using in-memory store; data does not survive a restart")
	}

	// ---- Clients ----
	var getter openai.Getter
	if params != nil {
		getter = params
	}
	openaiClient, err := openai.NewClient(getter, cfg.ParamPrefix,
		openai.WithAPIKey(cfg.OpenAIAPIKey),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.OpenAIModel),
		openai.WithMaxTokens(cfg.OpenAIMaxTokens),
		openai.WithTemperature(cfg.OpenAITemperature),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create OpenAI client")
	}

	authClient, err := identity.NewClient(cfg.FirebaseAPIKey, identity.WithBaseURL(cfg.IdentityBaseURL))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create identity client")
	}
	verifier, err := identity.NewVerifier(ctx, cfg.JWKSURL, cfg.FirebaseProjectID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token verifier")
	}

	var personaSource handler.PersonaSource = persona.Static(persona.Default())
	if params != nil {
		loader, err := persona.NewLoader(params, cfg.ParamPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create persona loader")
		}
		personaSource = loader
	}

	// ---- Handler ----
	h, err := handler.NewHandler(handler.Deps{
		Auth:           authClient,
		Verifier:       verifier,
		Messages:       messages,
		Comments:       cmts,
		Completer:      openaiClient,
		Persona:        personaSource,
		Logger:         log,
		WindowSize:     cfg.HistoryWindow,
		AtomicLikes:    cfg.AtomicLikes,
		ProtectedPages: cfg.ProtectedPages,
		SignInPage:     cfg.SignInPage,
		HomePage:       cfg.HomePage,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	log.Info().
		Str("store", cfg.StoreBackend).
		Str("model", openaiClient.Model()).
		Bool("atomic_likes", cfg.AtomicLikes).
		Msg("persona chat starting")
	lambda.Start(h.Handle)
}

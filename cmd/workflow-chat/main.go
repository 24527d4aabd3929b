package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"workflow-chat/handler"
	"workflow-chat/internal/auth"
	"workflow-chat/internal/integrations/objectstore"
	"workflow-chat/internal/integrations/paramstore"
	"workflow-chat/internal/integrations/workergate"
	"workflow-chat/internal/render"
	"workflow-chat/internal/repository"
	"workflow-chat/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	chatTable := mustEnv("CHAT_TABLE")
	imagesBucket := mustEnv("IMAGES_BUCKET")
	documentsBucket := mustEnv("DOCUMENTS_BUCKET")
	authURL := mustEnv("AUTH_URL")
	authAPIKey := os.Getenv("AUTH_API_KEY")
	authRefreshToken := mustEnv("AUTH_REFRESH_TOKEN")
	publicBaseURL := os.Getenv("PUBLIC_BASE_URL")
	region := os.Getenv("AWS_REGION")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), chatTable)
	if err != nil {
		slog.Error("failed to create repository", "err", err)
		os.Exit(1)
	}
	uploads, err := objectstore.New(
		awss3.NewFromConfig(cfg),
		region,
		imagesBucket,
		documentsBucket,
		objectstore.WithPublicBaseURL(publicBaseURL),
	)
	if err != nil {
		slog.Error("failed to create object store", "err", err)
		os.Exit(1)
	}
	creds, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create credential resolver", "err", err)
		os.Exit(1)
	}
	sessions, err := auth.NewClient(authURL, authAPIKey, authRefreshToken)
	if err != nil {
		slog.Error("failed to create auth client", "err", err)
		os.Exit(1)
	}
	workers := workergate.NewClient()

	// ---- Handler ----
	svc, err := usecase.NewSubmitService(
		sessions, store, uploads, workers, creds,
		render.Render, usecase.NopNotifier{}, slog.Default(),
	)
	if err != nil {
		slog.Error("failed to create submit service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(svc, store, sessions)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

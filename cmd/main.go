package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"therapy-service/internal/app"
	appconfig "therapy-service/internal/config"
	"therapy-service/internal/integrations/paramstore"
	"therapy-service/internal/metrics"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := appconfig.FromEnv(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	if param := strings.TrimSpace(os.Getenv("CONFIG_PARAM")); param != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		cfg, err = cfg.ApplyOverlay(ctx, ssmClient, param)
		if err != nil {
			slog.Error("failed to apply config overlay", "param", param, "err", err)
			os.Exit(1)
		}
	}

	// ---- Handler ----
	recorder, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}
	h, err := app.NewHandler(cfg, awsdynamodb.NewFromConfig(awsCfg), recorder, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

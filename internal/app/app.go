// Package app wires the store, repositories, workflow service and handler
// from a Config. Both entrypoints build the handler through NewHandler.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"therapy-service/handler"
	"therapy-service/internal/config"
	"therapy-service/internal/metrics"
	"therapy-service/internal/repository"
	"therapy-service/internal/store"
	"therapy-service/internal/usecase"
)

// NewHandler builds the request handler on top of db. recorder may be nil.
func NewHandler(cfg config.Config, db *awsdynamodb.Client, recorder *metrics.Recorder, logger *slog.Logger) (*handler.Handler, error) {
	if db == nil {
		return nil, errors.New("app: dynamodb client must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	storeClient, err := store.New(db,
		store.WithBatchSize(cfg.BatchSize),
		store.WithMaxBatchRetries(cfg.MaxBatchRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("app: store: %w", err)
	}

	requests, err := repository.NewRequestRepository(storeClient, cfg.Tables, cfg.Indexes)
	if err != nil {
		return nil, fmt.Errorf("app: request repository: %w", err)
	}
	relations, err := repository.NewRelationRepository(storeClient, cfg.Tables, cfg.Indexes)
	if err != nil {
		return nil, fmt.Errorf("app: relation repository: %w", err)
	}
	slots, err := repository.NewSlotRepository(storeClient, cfg.Tables)
	if err != nil {
		return nil, fmt.Errorf("app: slot repository: %w", err)
	}
	sessions, err := repository.NewSessionRepository(storeClient, cfg.Tables, cfg.Indexes)
	if err != nil {
		return nil, fmt.Errorf("app: session repository: %w", err)
	}

	var (
		svcOpts     []usecase.Option
		handlerOpts = []handler.Option{handler.WithLogger(logger), handler.WithTimeout(cfg.OperationTimeout)}
	)
	if recorder != nil {
		svcOpts = append(svcOpts, usecase.WithMetrics(recorder))
		handlerOpts = append(handlerOpts, handler.WithObserver(recorder))
	}
	svc, err := usecase.NewWorkflowService(requests, relations, slots, sessions, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: workflow service: %w", err)
	}
	return handler.NewHandler(svc, handlerOpts...)
}

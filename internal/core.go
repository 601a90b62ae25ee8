package internal

import (
	"context"

	"conv-core/contract"
	"conv-core/domain"
	"conv-core/observability"
	"conv-core/repositories"
	"conv-core/runtime"
	"conv-core/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

// Core is the fully wired conversation core, built from configuration.
// Embedders supply the transport and the notification sink; the store,
// registry, queue and service are assembled here.
type Core struct {
	Config   Config
	DB       *badger.DB
	Registry *runtime.Registry
	Queue    *runtime.JobQueue
	Stats    *observability.Stats
	Service  *services.ConversationService
}

func BuildCore(transport contract.Transport, notifications contract.NotificationSink) (*Core, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	self, err := domain.NormalizeNumber(cfg.SelfNumber, cfg.RegionCode)
	if err != nil {
		return nil, err
	}

	db, err := badger.Open(badger.DefaultOptions(cfg.BadgerFilepath).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, err
	}

	conversations := repositories.NewConversationRepository(db, log)
	messages := repositories.NewMessageRepository(db, log)
	registry := runtime.NewRegistry(log, conversations, cfg.RegionCode, self)
	stats := observability.NewStats()
	queue := runtime.NewJobQueue(log, stats)
	service := services.NewConversationService(log, registry, queue, messages, conversations, transport, notifications, stats)

	return &Core{
		Config:   cfg,
		DB:       db,
		Registry: registry,
		Queue:    queue,
		Stats:    stats,
		Service:  service,
	}, nil
}

// MarkRead marks a conversation read up to a boundary, applying the
// configured read-receipts policy.
func (c *Core) MarkRead(ctx context.Context, conv *domain.Conversation, upto int64) (<-chan error, error) {
	return c.Service.MarkRead(ctx, conv, upto, c.Config.SendReadReceipts)
}

// Close drains the job queue, then closes the store.
func (c *Core) Close() error {
	c.Queue.Close()
	return c.DB.Close()
}

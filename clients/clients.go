package clients

import (
	"tvhook/clients/pagefeed"
	"tvhook/clients/webhook"
	"tvhook/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Webhook  *webhook.Client
	PageFeed *pagefeed.Server
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	return &Clients{
		Logger:   logger,
		Webhook:  webhook.NewClient(logger),
		PageFeed: pagefeed.NewServer(logger, cfg.Feed.ListenAddr, cfg.Feed.Path),
	}
}

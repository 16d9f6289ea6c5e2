package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tvhook/clients"
	"tvhook/clients/pagefeed"
	"tvhook/config"
)

const testWebhookMessage = "🧪 **Test Message from TradingView**\n\n✅ If you see this message, your webhook is set up correctly!"

// Runner owns the main event loop: it consumes bridge events and routes them
// to the dispatcher, the live config, or the ledger.
type Runner struct {
	logger     *zap.Logger
	live       *config.LiveConfig
	clients    *clients.Clients
	ledger     *Ledger
	dispatcher *Dispatcher
	persister  *Persister
}

func NewRunner(
	logger *zap.Logger,
	live *config.LiveConfig,
	cl *clients.Clients,
	ledger *Ledger,
	dispatcher *Dispatcher,
	persister *Persister,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:     logger,
		live:       live,
		clients:    cl,
		ledger:     ledger,
		dispatcher: dispatcher,
		persister:  persister,
	}
}

// Run starts the bridge server and persister and processes events until ctx
// is cancelled. In-flight webhook deliveries are drained before returning.
func (r *Runner) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- r.clients.PageFeed.Run(ctx)
	}()

	go r.persister.Run(ctx)

	r.logger.Info("runner started")

	events := r.clients.PageFeed.Events()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			r.handleEvent(ctx, ev)
		}
	}

	r.dispatcher.Wait()

	err := <-serverErr
	r.logger.Info("runner stopped")
	if err != nil {
		return fmt.Errorf("page feed: %w", err)
	}
	return nil
}

func (r *Runner) handleEvent(ctx context.Context, ev pagefeed.Event) {
	switch ev.Type {
	case pagefeed.EventDOMText:
		r.dispatcher.HandleText(ctx, ev.Text)
	case pagefeed.EventSettings:
		r.applySettings(ev.Settings)
	case pagefeed.EventCommand:
		r.handleCommand(ctx, ev.Command)
	}
}

// applySettings merges an incremental settings change into the live config.
// Observers (the persister included) run as part of the update.
func (r *Runner) applySettings(s *pagefeed.Settings) {
	if s == nil {
		return
	}

	err := r.live.UpdatePartial(func(cfg *config.Config) {
		if s.WebhookURL != nil {
			cfg.Notify.WebhookURL = *s.WebhookURL
		}
		if s.EnableNotifications != nil {
			cfg.Notify.EnableNotifications = *s.EnableNotifications
		}
		if s.EnableScreenshots != nil {
			cfg.Notify.EnableScreenshots = *s.EnableScreenshots
		}
		if s.IncludeSymbol != nil {
			cfg.Notify.IncludeSymbol = *s.IncludeSymbol
		}
		if s.IncludeTime != nil {
			cfg.Notify.IncludeTime = *s.IncludeTime
		}
	})
	if err != nil {
		r.logger.Warn("rejected settings update", zap.Error(err))
	}
}

func (r *Runner) handleCommand(ctx context.Context, cmd *pagefeed.Command) {
	if cmd == nil {
		return
	}

	r.logger.Info("bridge command",
		zap.String("action", cmd.Action),
		zap.String("symbol", cmd.Symbol),
	)

	switch cmd.Action {
	case pagefeed.ActionResetPositions:
		r.ledger.Reset()
		r.persister.MarkDirty()
		r.ack(cmd.Action, true, "positions cleared")

	case pagefeed.ActionSetPosition:
		if cmd.Symbol == "" {
			r.ack(cmd.Action, false, "symbol required")
			return
		}
		r.ledger.ManualOverride(cmd.Symbol, cmd.Position)
		r.persister.MarkDirty()
		r.ack(cmd.Action, true, "")

	case pagefeed.ActionDeleteSymbol:
		if cmd.Symbol == "" {
			r.ack(cmd.Action, false, "symbol required")
			return
		}
		r.ledger.DeleteSymbol(cmd.Symbol)
		r.persister.MarkDirty()
		r.ack(cmd.Action, true, "")

	case pagefeed.ActionListSymbols:
		if err := r.clients.PageFeed.SendSymbols(r.ledger.Symbols()); err != nil {
			r.logger.Warn("failed to send symbol list", zap.Error(err))
		}

	case pagefeed.ActionTestWebhook:
		r.sendTestMessage(ctx, cmd.Action)

	default:
		r.ack(cmd.Action, false, "unknown action")
	}
}

func (r *Runner) sendTestMessage(ctx context.Context, action string) {
	url := r.live.Get().Notify.WebhookURL
	if url == "" {
		r.ack(action, false, "no webhook URL configured")
		return
	}

	if err := r.clients.Webhook.SendText(ctx, url, testWebhookMessage); err != nil {
		r.logger.Warn("test webhook failed", zap.Error(err))
		r.ack(action, false, err.Error())
		return
	}
	r.ack(action, true, "")
}

func (r *Runner) ack(action string, ok bool, detail string) {
	if err := r.clients.PageFeed.SendAck(action, ok, detail); err != nil {
		r.logger.Debug("failed to ack command", zap.Error(err))
	}
}

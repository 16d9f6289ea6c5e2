package app

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tvhook/config"
	"tvhook/internal/store"
)

// Persister handles persisting the ledger and settings to the local store.
// Writes are best-effort: a failure is logged and the in-memory state stays
// authoritative for the rest of the session.
type Persister struct {
	logger       *zap.Logger
	store        *store.Store
	ledger       *Ledger
	saveInterval time.Duration

	dirty atomic.Bool
}

// ensure Persister implements ConfigObserver
var _ config.ConfigObserver = (*Persister)(nil)

func NewPersister(logger *zap.Logger, st *store.Store, ledger *Ledger, saveInterval time.Duration) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		logger:       logger,
		store:        st,
		ledger:       ledger,
		saveInterval: saveInterval,
	}
}

// MarkDirty flags the ledger for persistence on the next tick.
func (p *Persister) MarkDirty() {
	p.dirty.Store(true)
}

// LoadInto restores persisted settings into cfg and the ledger snapshot into
// the ledger. Missing keys keep their current values.
func (p *Persister) LoadInto(cfg *config.Config) error {
	if _, err := p.store.Get(store.KeyWebhookURL, &cfg.Notify.WebhookURL); err != nil {
		return err
	}
	if _, err := p.store.Get(store.KeyEnableNotifications, &cfg.Notify.EnableNotifications); err != nil {
		return err
	}
	if _, err := p.store.Get(store.KeyEnableScreenshots, &cfg.Notify.EnableScreenshots); err != nil {
		return err
	}
	if _, err := p.store.Get(store.KeyIncludeSymbol, &cfg.Notify.IncludeSymbol); err != nil {
		return err
	}
	if _, err := p.store.Get(store.KeyIncludeTime, &cfg.Notify.IncludeTime); err != nil {
		return err
	}

	var snapshot LedgerSnapshot
	foundPositions, err := p.store.Get(store.KeySymbolPositions, &snapshot.Positions)
	if err != nil {
		return err
	}
	foundSymbols, err := p.store.Get(store.KeyTradedSymbols, &snapshot.TradedSymbols)
	if err != nil {
		return err
	}
	if foundPositions || foundSymbols {
		p.ledger.Import(snapshot)
		p.logger.Info("loaded ledger state",
			zap.Int("positions", len(snapshot.Positions)),
			zap.Int("tradedSymbols", len(snapshot.TradedSymbols)),
		)
	}

	return nil
}

// SaveLedger persists the current ledger snapshot.
func (p *Persister) SaveLedger() error {
	snapshot := p.ledger.Export()

	if err := p.store.Set(store.KeySymbolPositions, snapshot.Positions); err != nil {
		return err
	}
	if err := p.store.Set(store.KeyTradedSymbols, snapshot.TradedSymbols); err != nil {
		return err
	}

	p.logger.Debug("saved ledger state",
		zap.Int("positions", len(snapshot.Positions)),
		zap.Int("tradedSymbols", len(snapshot.TradedSymbols)),
	)
	return nil
}

// SaveSettings persists the notification settings.
func (p *Persister) SaveSettings(n config.NotifyConfig) error {
	if err := p.store.Set(store.KeyWebhookURL, n.WebhookURL); err != nil {
		return err
	}
	if err := p.store.Set(store.KeyEnableNotifications, n.EnableNotifications); err != nil {
		return err
	}
	if err := p.store.Set(store.KeyEnableScreenshots, n.EnableScreenshots); err != nil {
		return err
	}
	if err := p.store.Set(store.KeyIncludeSymbol, n.IncludeSymbol); err != nil {
		return err
	}
	return p.store.Set(store.KeyIncludeTime, n.IncludeTime)
}

// OnConfigUpdate persists settings whenever the live config changes.
// Implements config.ConfigObserver.
func (p *Persister) OnConfigUpdate(cfg *config.Config) {
	if err := p.SaveSettings(cfg.Notify); err != nil {
		p.logger.Warn("failed to persist settings", zap.Error(err))
	}
}

// Run starts the periodic save loop. A final save happens on shutdown.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.saveInterval)
	defer ticker.Stop()

	p.logger.Info("persister started", zap.Duration("saveInterval", p.saveInterval))

	for {
		select {
		case <-ctx.Done():
			if err := p.SaveLedger(); err != nil {
				p.logger.Error("failed to save ledger on shutdown", zap.Error(err))
			}
			p.logger.Info("persister stopped")
			return

		case <-ticker.C:
			if !p.dirty.Swap(false) {
				continue
			}
			if err := p.SaveLedger(); err != nil {
				p.logger.Warn("failed to save ledger", zap.Error(err))
			}
		}
	}
}

package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tvhook/clients/pagefeed"
	"tvhook/config"
)

// slTpDedupEpsilon is the price tolerance under which a repeated "modified"
// SL/TP notification counts as a quantity-only re-notification. The platform
// re-fires modified notifications on cosmetic updates; those must not reach
// the webhook.
const slTpDedupEpsilon = 0.01

const (
	noteTabRequired      = "\n\n📸 *Screenshot was enabled but requires an active open TradingView tab to work.*"
	noteSettingsRequired = "\n\n📸 *Screenshot was enabled but requires opening the extension settings once to activate.*"
)

// WebhookSender delivers formatted messages to the configured webhook.
type WebhookSender interface {
	SendText(ctx context.Context, webhookURL, content string) error
	SendImage(ctx context.Context, webhookURL, content string, image []byte) error
}

// ScreenshotCapturer requests a capture of the current visible view.
type ScreenshotCapturer interface {
	CaptureScreenshot(ctx context.Context) ([]byte, error)
}

// Dispatcher runs one observed text through the pipeline:
// extract → ledger update → dedup → format → (screenshot) → deliver.
type Dispatcher struct {
	logger    *zap.Logger
	live      *config.LiveConfig
	extractor *Extractor
	ledger    *Ledger
	sender    WebhookSender
	capturer  ScreenshotCapturer

	settleDelay    time.Duration
	captureTimeout time.Duration

	// onLedgerChange is a fire-and-forget persistence hook.
	onLedgerChange func()

	wg sync.WaitGroup
}

func NewDispatcher(
	logger *zap.Logger,
	live *config.LiveConfig,
	ledger *Ledger,
	sender WebhookSender,
	capturer ScreenshotCapturer,
	screenshotCfg config.ScreenshotConfig,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:         logger,
		live:           live,
		extractor:      NewExtractor(logger),
		ledger:         ledger,
		sender:         sender,
		capturer:       capturer,
		settleDelay:    screenshotCfg.SettleDelay,
		captureTimeout: screenshotCfg.CaptureTimeout,
	}
}

// SetLedgerChangeHook registers a callback fired after any ledger mutation.
func (d *Dispatcher) SetLedgerChangeHook(fn func()) {
	d.onLedgerChange = fn
}

func (d *Dispatcher) ledgerChanged() {
	if d.onLedgerChange != nil {
		d.onLedgerChange()
	}
}

// HandleText processes one observed DOM text. The ledger update happens
// synchronously before any suspension point; only the screenshot-and-deliver
// tail runs asynchronously, on copied data.
func (d *Dispatcher) HandleText(ctx context.Context, text string) {
	ev, ok := d.extractor.Extract(text)
	if !ok {
		// Admission failed. Terminal.
		return
	}

	var cls Classification
	switch {
	case ev.Lifecycle == LifecycleExecuted && ev.Side != "" && ev.Quantity != nil && ev.Symbol != "":
		cls = d.ledger.ApplyExecutedTrade(ev.Symbol, ev.Side, *ev.Quantity)
		d.ledgerChanged()
	case ev.Lifecycle == LifecyclePlaced && ev.Symbol != "":
		d.ledger.MarkTraded(ev.Symbol)
		d.ledgerChanged()
	}

	settings := d.live.Get().Notify

	if !settings.EnableNotifications || settings.WebhookURL == "" {
		return
	}

	if !ev.Actionable() {
		d.logger.Debug("discarding non-actionable event", zap.String("text", text))
		return
	}

	lower := ev.lowerText()

	if ev.StopLoss != nil && strings.Contains(lower, "stop loss order modified") {
		if d.ledger.CheckStopLossDuplicate(*ev.StopLoss, slTpDedupEpsilon) {
			d.logger.Debug("suppressing duplicate stop loss modification",
				zap.Float64("stopLoss", *ev.StopLoss))
			return
		}
	}

	if ev.TakeProfit != nil && strings.Contains(lower, "take profit order modified") {
		if d.ledger.CheckTakeProfitDuplicate(*ev.TakeProfit, slTpDedupEpsilon) {
			d.logger.Debug("suppressing duplicate take profit modification",
				zap.Float64("takeProfit", *ev.TakeProfit))
			return
		}
	}

	// Non-modified SL/TP mentions prime the dedup cache without suppression.
	if ev.StopLoss != nil && strings.Contains(lower, "stop loss order") && !strings.Contains(lower, "modified") {
		d.ledger.PrimeStopLoss(*ev.StopLoss)
	}
	if ev.TakeProfit != nil && strings.Contains(lower, "take profit order") && !strings.Contains(lower, "modified") {
		d.ledger.PrimeTakeProfit(*ev.TakeProfit)
	}

	message := FormatMessage(ev, cls, settings)

	withScreenshot := settings.EnableScreenshots && strings.Contains(lower, "executed")
	webhookURL := settings.WebhookURL

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(ctx, webhookURL, message, withScreenshot)
	}()
}

// deliver runs the asynchronous tail of one dispatch. Screenshot failures
// never drop the notification; they downgrade it to text with a note.
func (d *Dispatcher) deliver(ctx context.Context, webhookURL, message string, withScreenshot bool) {
	if withScreenshot {
		// Fixed pause to let the page settle before capture.
		select {
		case <-time.After(d.settleDelay):
		case <-ctx.Done():
			return
		}

		captureCtx, cancel := context.WithTimeout(ctx, d.captureTimeout)
		image, err := d.capturer.CaptureScreenshot(captureCtx)
		cancel()

		if err == nil {
			if sendErr := d.sender.SendImage(ctx, webhookURL, message, image); sendErr == nil {
				return
			} else {
				d.logger.Error("screenshot delivery failed, falling back to text", zap.Error(sendErr))
			}
		} else {
			d.logger.Warn("screenshot capture failed, falling back to text", zap.Error(err))
		}
		message += screenshotFallbackNote(err)
	}

	if err := d.sender.SendText(ctx, webhookURL, message); err != nil {
		// No retry; the event is lost.
		d.logger.Error("webhook delivery failed", zap.Error(err))
	}
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// screenshotFallbackNote picks the explanatory note appended when delivery
// degrades to text-only.
func screenshotFallbackNote(err error) string {
	var ce *pagefeed.CaptureError
	if errors.As(err, &ce) && ce.Reason == pagefeed.ReasonNotActiveTab {
		return noteTabRequired
	}
	return noteSettingsRequired
}

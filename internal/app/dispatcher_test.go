package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tvhook/clients/pagefeed"
	"tvhook/config"
)

type fakeSender struct {
	mu     sync.Mutex
	texts  []string
	images []string

	failImage error
}

func (f *fakeSender) SendText(_ context.Context, _ string, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, content)
	return nil
}

func (f *fakeSender) SendImage(_ context.Context, _ string, content string, _ []byte) error {
	if f.failImage != nil {
		return f.failImage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, content)
	return nil
}

func (f *fakeSender) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeSender) sentImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.images...)
}

type fakeCapturer struct {
	image []byte
	err   error
}

func (f *fakeCapturer) CaptureScreenshot(context.Context) ([]byte, error) {
	return f.image, f.err
}

func testLiveConfig(mutate func(*config.NotifyConfig)) *config.LiveConfig {
	cfg := config.Defaults()
	cfg.Notify.WebhookURL = "https://example.com/hook"
	cfg.Notify.EnableNotifications = true
	if mutate != nil {
		mutate(&cfg.Notify)
	}
	return config.NewLiveConfig(cfg)
}

func newTestDispatcher(live *config.LiveConfig, sender *fakeSender, capturer *fakeCapturer) (*Dispatcher, *Ledger) {
	ledger := NewLedger(nil)
	d := NewDispatcher(nil, live, ledger, sender, capturer, config.ScreenshotConfig{
		SettleDelay:    time.Millisecond,
		CaptureTimeout: time.Second,
	})
	return d, ledger
}

func TestHandleText_ExecutionUpdatesLedgerAndDelivers(t *testing.T) {
	sender := &fakeSender{}
	d, ledger := newTestDispatcher(testLiveConfig(nil), sender, &fakeCapturer{})

	changes := 0
	d.SetLedgerChangeHook(func() { changes++ })

	d.HandleText(context.Background(), "Market order executed Buy 100 at 1,234.5 on NASDAQ:AAPL")
	d.Wait()

	if got := ledger.Position("NASDAQ:AAPL"); got != 100 {
		t.Errorf("position = %v, want 100", got)
	}
	if changes != 1 {
		t.Errorf("ledger change hook fired %d times, want 1", changes)
	}

	texts := sender.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "✅ Trade Executed") {
		t.Errorf("unexpected message:\n%s", texts[0])
	}
}

func TestHandleText_LedgerUpdatesEvenWhenSuppressed(t *testing.T) {
	sender := &fakeSender{}
	d, ledger := newTestDispatcher(testLiveConfig(func(n *config.NotifyConfig) {
		n.EnableNotifications = false
	}), sender, &fakeCapturer{})

	d.HandleText(context.Background(), "Market order executed Sell 50 at 99.5 on FX:EURUSD")
	d.Wait()

	if got := ledger.Position("FX:EURUSD"); got != -50 {
		t.Errorf("position = %v, want -50", got)
	}
	if len(sender.sentTexts()) != 0 {
		t.Error("suppressed notification was delivered")
	}
}

func TestHandleText_NoWebhookURLSuppresses(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(testLiveConfig(func(n *config.NotifyConfig) {
		n.WebhookURL = ""
	}), sender, &fakeCapturer{})

	d.HandleText(context.Background(), "Market order executed Buy 10 at 100 on NASDAQ:AAPL")
	d.Wait()

	if len(sender.sentTexts()) != 0 {
		t.Error("notification delivered without a webhook URL")
	}
}

func TestHandleText_PlacedOrderMarksTraded(t *testing.T) {
	sender := &fakeSender{}
	d, ledger := newTestDispatcher(testLiveConfig(nil), sender, &fakeCapturer{})

	d.HandleText(context.Background(), "Limit order placed on FX:EURUSD Buy 1000 at 1.0850")
	d.Wait()

	symbols := ledger.Symbols()
	if len(symbols) != 1 || symbols[0].Symbol != "FX:EURUSD" {
		t.Errorf("unexpected symbols: %+v", symbols)
	}
	if got := ledger.Position("FX:EURUSD"); got != 0 {
		t.Errorf("placed order moved the position: %v", got)
	}
	if len(sender.sentTexts()) != 1 {
		t.Errorf("expected 1 delivery, got %d", len(sender.sentTexts()))
	}
}

func TestHandleText_StopLossModifiedDedup(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(testLiveConfig(nil), sender, &fakeCapturer{})

	ctx := context.Background()
	d.HandleText(ctx, "Stop Loss order modified on BYBIT:SOLUSDT.P at 105.5")
	d.HandleText(ctx, "Stop Loss order modified on BYBIT:SOLUSDT.P at 105.505")
	d.HandleText(ctx, "Stop Loss order modified on BYBIT:SOLUSDT.P at 106.5")
	d.Wait()

	texts := sender.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %v", len(texts), texts)
	}
	// Delivery goroutines may finish out of order.
	joined := strings.Join(texts, "\n")
	if !strings.Contains(joined, "105.5") || !strings.Contains(joined, "106.5") {
		t.Errorf("unexpected deliveries: %v", texts)
	}
}

func TestHandleText_PlacedStopLossPrimesDedup(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(testLiveConfig(nil), sender, &fakeCapturer{})

	ctx := context.Background()
	d.HandleText(ctx, "Stop Loss order placed on BYBIT:SOLUSDT.P at 105.5")
	d.HandleText(ctx, "Stop Loss order modified on BYBIT:SOLUSDT.P at 105.5")
	d.Wait()

	// The placed notification primed the cache, so the modification at the
	// same price is a quantity-only re-notification.
	texts := sender.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("expected 1 delivery, got %d: %v", len(texts), texts)
	}
	if !strings.Contains(texts[0], "🛑 Stop Loss Order") {
		t.Errorf("unexpected delivery: %s", texts[0])
	}
}

func TestHandleText_ZeroQuantityExecutionLeavesLedger(t *testing.T) {
	sender := &fakeSender{}
	d, ledger := newTestDispatcher(testLiveConfig(nil), sender, &fakeCapturer{})

	ctx := context.Background()
	d.HandleText(ctx, "Market order executed Buy 100 at 100 on NASDAQ:AAPL")
	d.HandleText(ctx, "Market order executed Buy 0 at 100 on NASDAQ:AAPL")
	d.Wait()

	if got := ledger.Position("NASDAQ:AAPL"); got != 100 {
		t.Errorf("position = %v, want 100", got)
	}

	texts := sender.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(texts))
	}
	for _, m := range texts {
		if strings.Contains(m, "Added to Position") {
			t.Errorf("zero-quantity fill classified as addition:\n%s", m)
		}
	}
}

func TestHandleText_NonActionableDiscarded(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(testLiveConfig(nil), sender, &fakeCapturer{})

	d.HandleText(context.Background(), "Market order executed at 1,234 something happened")
	d.Wait()

	if len(sender.sentTexts()) != 0 {
		t.Error("non-actionable event was delivered")
	}
}

func TestHandleText_ScreenshotAttached(t *testing.T) {
	sender := &fakeSender{}
	capturer := &fakeCapturer{image: []byte("png-bytes")}
	d, _ := newTestDispatcher(testLiveConfig(func(n *config.NotifyConfig) {
		n.EnableScreenshots = true
	}), sender, capturer)

	d.HandleText(context.Background(), "Market order executed Buy 10 at 100 on NASDAQ:AAPL")
	d.Wait()

	if len(sender.sentImages()) != 1 {
		t.Fatalf("expected 1 image delivery, got %d", len(sender.sentImages()))
	}
	if len(sender.sentTexts()) != 0 {
		t.Error("unexpected text fallback")
	}
}

func TestHandleText_ScreenshotOnlyForExecutions(t *testing.T) {
	sender := &fakeSender{}
	capturer := &fakeCapturer{image: []byte("png-bytes")}
	d, _ := newTestDispatcher(testLiveConfig(func(n *config.NotifyConfig) {
		n.EnableScreenshots = true
	}), sender, capturer)

	d.HandleText(context.Background(), "Limit order placed on FX:EURUSD Buy 1000 at 1.0850")
	d.Wait()

	if len(sender.sentImages()) != 0 {
		t.Error("non-execution notification captured a screenshot")
	}
	if len(sender.sentTexts()) != 1 {
		t.Errorf("expected 1 text delivery, got %d", len(sender.sentTexts()))
	}
}

func TestHandleText_CaptureFailureFallsBackWithNote(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantNote string
	}{
		{
			name:     "inactive tab",
			err:      &pagefeed.CaptureError{Reason: pagefeed.ReasonNotActiveTab},
			wantNote: "active open TradingView tab",
		},
		{
			name:     "permission needed",
			err:      &pagefeed.CaptureError{Reason: pagefeed.ReasonPermissionNeeded},
			wantNote: "opening the extension settings",
		},
		{
			name:     "untyped failure",
			err:      errors.New("boom"),
			wantNote: "opening the extension settings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			d, _ := newTestDispatcher(testLiveConfig(func(n *config.NotifyConfig) {
				n.EnableScreenshots = true
			}), sender, &fakeCapturer{err: tt.err})

			d.HandleText(context.Background(), "Market order executed Buy 10 at 100 on NASDAQ:AAPL")
			d.Wait()

			texts := sender.sentTexts()
			if len(texts) != 1 {
				t.Fatalf("expected 1 text fallback, got %d", len(texts))
			}
			if !strings.Contains(texts[0], tt.wantNote) {
				t.Errorf("missing note %q:\n%s", tt.wantNote, texts[0])
			}
		})
	}
}

func TestHandleText_SendImageFailureFallsBackToText(t *testing.T) {
	sender := &fakeSender{failImage: errors.New("413 payload too large")}
	capturer := &fakeCapturer{image: []byte("png-bytes")}
	d, _ := newTestDispatcher(testLiveConfig(func(n *config.NotifyConfig) {
		n.EnableScreenshots = true
	}), sender, capturer)

	d.HandleText(context.Background(), "Market order executed Buy 10 at 100 on NASDAQ:AAPL")
	d.Wait()

	texts := sender.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("expected 1 text fallback, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "✅ Trade Executed") {
		t.Errorf("unexpected fallback message:\n%s", texts[0])
	}
}

package app

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tvhook/config"
)

// Action labels, in priority order. Cancelled beats modified beats placed;
// executed labels depend on the ledger classification.
const (
	labelLimitCancelled     = "❌ Limit Order Cancelled"
	labelLimitModified      = "🛠️ Limit Order Modified"
	labelLimitPlaced        = "📋 Limit Order Placed"
	labelStopCancelled      = "❌ Stop Order Cancelled"
	labelStopModified       = "🛠️ Stop Order Modified"
	labelStopPlaced         = "🛑 Stop Order Placed"
	labelTPCancelled        = "❌ Take Profit Cancelled"
	labelSLCancelled        = "❌ Stop Loss Cancelled"
	labelTPModified         = "🛠️ Take Profit Modified"
	labelSLModified         = "🛠️ Stop Loss Modified"
	labelPartialClose       = "📉 Partial Close"
	labelPositionClosed     = "🚪 Position Closed"
	labelPositionReversed   = "🔄 Position Reversed"
	labelAddedToPosition    = "🟩 Added to Position"
	labelTradeExecuted      = "✅ Trade Executed"
	labelTakeProfitOrder    = "🎯 Take Profit Order"
	labelStopLossOrder      = "🛑 Stop Loss Order"
	labelGenericTradeNotice = "Trade Notification from TradingView"
)

// skipDirectionLabels are inherently directionless; the direction line is
// omitted for them.
var skipDirectionLabels = map[string]bool{
	labelTakeProfitOrder: true,
	labelStopLossOrder:   true,
	labelSLCancelled:     true,
	labelTPCancelled:     true,
	labelLimitCancelled:  true,
	labelStopCancelled:   true,
}

// timestampLocation is the fixed geographic timezone for message timestamps.
var timestampLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// FormatMessage renders one trade event as the outbound webhook message.
// Pure: everything it needs comes in as arguments.
func FormatMessage(ev *TradeEvent, cls Classification, settings config.NotifyConfig) string {
	lower := ev.lowerText()
	base := actionLabel(lower, cls)
	label := base

	// Percentage suffixes for add/partial-close, added in the second
	// content-script revision.
	switch base {
	case labelPartialClose:
		if cls.PartialPercentage > 0 {
			label = fmt.Sprintf("%s (%d%%)", base, cls.PartialPercentage)
		}
	case labelAddedToPosition:
		if cls.AdditionPercentage > 0 {
			label = fmt.Sprintf("%s (+%d%%)", base, cls.AdditionPercentage)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n", label)

	if settings.IncludeTime && !ev.Timestamp.IsZero() {
		fmt.Fprintf(&b, "**Time:** %s\n", ev.Timestamp.In(timestampLocation).Format("15:04:05"))
	}

	if settings.IncludeSymbol && ev.Symbol != "" {
		fmt.Fprintf(&b, "**Symbol:** %s\n", ev.Symbol)
	}

	if ev.Side != "" && !skipDirectionLabels[base] {
		fmt.Fprintf(&b, "**Direction:** %s\n", ev.Side)
	}

	if ev.Price != nil {
		// SL/TP order texts already carry their price in the dedicated
		// lines below; the generic price line would duplicate it.
		showGeneric := !strings.Contains(lower, "stop loss order") &&
			!strings.Contains(lower, "take profit order")
		if showGeneric {
			fmt.Fprintf(&b, "**%s:** %s\n", priceLabel(lower, cls), formatExactPrice(*ev.Price))
		}
	}

	if ev.TakeProfit != nil {
		fmt.Fprintf(&b, "**Take Profit:** %s\n", formatExactPrice(*ev.TakeProfit))
	}

	if ev.StopLoss != nil {
		fmt.Fprintf(&b, "**Stop Loss:** %s\n", formatExactPrice(*ev.StopLoss))
	}

	// Zero-width space keeps a blank line at the end of the Discord message.
	b.WriteString("​")

	return b.String()
}

// actionLabel picks the action label from the lower-cased raw text and the
// ledger classification.
func actionLabel(lower string, cls Classification) string {
	switch {
	case strings.Contains(lower, "limit order cancelled"):
		return labelLimitCancelled
	case strings.Contains(lower, "limit order modified"):
		return labelLimitModified
	case strings.Contains(lower, "limit order placed"):
		return labelLimitPlaced
	case strings.Contains(lower, "stop order cancelled"):
		return labelStopCancelled
	case strings.Contains(lower, "stop order modified"):
		return labelStopModified
	case strings.Contains(lower, "stop order placed"):
		return labelStopPlaced
	case strings.Contains(lower, "take profit order cancelled"):
		return labelTPCancelled
	case strings.Contains(lower, "stop loss order cancelled"):
		return labelSLCancelled
	case strings.Contains(lower, "take profit order modified"):
		return labelTPModified
	case strings.Contains(lower, "stop loss order modified"):
		return labelSLModified
	case strings.Contains(lower, "executed"):
		switch cls.Kind {
		case CloseKindPartial:
			return labelPartialClose
		case CloseKindFull:
			return labelPositionClosed
		case CloseKindReversal:
			return labelPositionReversed
		case CloseKindAdd:
			return labelAddedToPosition
		default:
			return labelTradeExecuted
		}
	case strings.Contains(lower, "take profit order"):
		return labelTakeProfitOrder
	case strings.Contains(lower, "stop loss order"):
		return labelStopLossOrder
	}
	return labelGenericTradeNotice
}

// priceLabel picks the label for the generic price line.
func priceLabel(lower string, cls Classification) string {
	switch {
	case strings.Contains(lower, "limit order cancelled"),
		strings.Contains(lower, "stop order cancelled"):
		return "Cancelled Price"
	case strings.Contains(lower, "limit order"):
		return "Limit Price"
	case strings.Contains(lower, "stop order"):
		return "Stop Price"
	case strings.Contains(lower, "executed"):
		switch cls.Kind {
		case CloseKindPartial:
			return "Partial Exit Price"
		case CloseKindFull:
			return "Exit Price"
		case CloseKindReversal:
			return "Reversal Price"
		default:
			return "Execution Price"
		}
	}
	return "Price"
}

// formatExactPrice renders a price preserving its exact decimal
// representation: no rounding, scientific notation expanded, thousands
// separators only in the integer part and only for values >= 1000.
func formatExactPrice(price float64) string {
	s := strconv.FormatFloat(price, 'f', -1, 64)

	if math.Abs(price) >= 1000 {
		intPart, fracPart, hasFrac := strings.Cut(s, ".")
		intPart = groupThousands(intPart)
		if hasFrac {
			return intPart + "." + fracPart
		}
		return intPart
	}

	return s
}

// groupThousands inserts comma separators into a plain digit string.
func groupThousands(digits string) string {
	neg := strings.HasPrefix(digits, "-")
	if neg {
		digits = digits[1:]
	}

	n := len(digits)
	if n <= 3 {
		if neg {
			return "-" + digits
		}
		return digits
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	head := n % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < n; i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

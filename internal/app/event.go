package app

import (
	"strings"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind is the kind of order a notification describes.
type OrderKind string

const (
	OrderKindMarket     OrderKind = "market"
	OrderKindLimit      OrderKind = "limit"
	OrderKindStop       OrderKind = "stop"
	OrderKindStopLoss   OrderKind = "stop_loss"
	OrderKindTakeProfit OrderKind = "take_profit"
)

// Lifecycle is the order lifecycle state emitted by the platform's UI.
type Lifecycle string

const (
	LifecyclePlaced    Lifecycle = "placed"
	LifecycleModified  Lifecycle = "modified"
	LifecycleCancelled Lifecycle = "cancelled"
	LifecycleExecuted  Lifecycle = "executed"
)

// TradeEvent is a single parsed trade notification. Fields are pointers when
// absence is meaningful: a notification rarely carries every field.
type TradeEvent struct {
	// RawText is the source text; classification rules in the formatter and
	// dispatcher keep matching against it.
	RawText string

	Symbol     string
	Side       Side
	Quantity   *float64 // always >= 0 when present
	Price      *float64 // execution/limit/stop price
	StopLoss   *float64
	TakeProfit *float64

	OrderKind OrderKind
	Lifecycle Lifecycle

	// Timestamp is the capture time, not an exchange timestamp.
	Timestamp time.Time
}

// Actionable reports whether the event carries enough data to be worth
// delivering. Events with none of symbol/price/SL/TP are discarded.
func (e *TradeEvent) Actionable() bool {
	return e.Symbol != "" || e.Price != nil || e.StopLoss != nil || e.TakeProfit != nil
}

// lowerText returns the lower-cased raw text, the form the substring
// classification rules operate on.
func (e *TradeEvent) lowerText() string {
	return strings.ToLower(e.RawText)
}

// deriveLifecycle tags the event from substring tests on the lower-cased
// text. Executed is tested first since it alone gates ledger updates.
func deriveLifecycle(lower string) Lifecycle {
	switch {
	case strings.Contains(lower, "executed"):
		return LifecycleExecuted
	case strings.Contains(lower, "cancelled"):
		return LifecycleCancelled
	case strings.Contains(lower, "modified"):
		return LifecycleModified
	case strings.Contains(lower, "placed"):
		return LifecyclePlaced
	}
	return ""
}

// deriveOrderKind tags the event's order kind. Stop-loss and take-profit are
// checked before the bare limit/stop kinds because their phrases contain the
// shorter markers.
func deriveOrderKind(lower string) OrderKind {
	switch {
	case strings.Contains(lower, "stop loss"):
		return OrderKindStopLoss
	case strings.Contains(lower, "take profit"):
		return OrderKindTakeProfit
	case strings.Contains(lower, "limit"):
		return OrderKindLimit
	case strings.Contains(lower, "stop"):
		return OrderKindStop
	case strings.Contains(lower, "market"):
		return OrderKindMarket
	}
	return ""
}

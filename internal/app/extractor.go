package app

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Admission filter patterns. Short UI chrome (bare side buttons, counters,
// ticker chips) never makes it to the parser.
var uiChromePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(Buy|Sell)$`),
	regexp.MustCompile(`^(Long|Short)$`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^[A-Z]{2,6}:\w+$`),
}

// lifecycleMarkers are the phrases a trade notification must carry. Matched
// case-sensitively against the raw text, the way the platform renders them.
var lifecycleMarkers = []string{
	"order placed",
	"order executed",
	"order modified",
	"order cancelled",
	"Market order",
	"Stop Loss order",
	"Take Profit order",
	"Limit order",
	"Stop order",
}

var atAmountRe = regexp.MustCompile(`(?i)at\s+[\d,]+\.?\d*`)

// templateRule is one entry of the extraction cascade: a pattern plus the
// mapping from capture groups to event fields. Rules are tried in order,
// most specific first, because the patterns overlap.
type templateRule struct {
	name string
	re   *regexp.Regexp

	symbolGroup   int
	sideGroup     int
	quantityGroup int
	priceGroup    int

	// sideFromToken: sideGroup captures a CloseBuy/CloseSell token and the
	// side is inferred from which one appeared.
	sideFromToken bool

	// inferSideFromClose: when no explicit side was captured, fall back to a
	// CloseBuy/CloseSell substring test on the whole text.
	inferSideFromClose bool
}

// The symbol token grammar is one or more of [A-Z_:0-9!.], non-greedy,
// terminated by an order token, whitespace, or end of string.
var orderTemplates = []templateRule{
	{
		name:               "stop order",
		re:                 regexp.MustCompile(`(?i)Stop\s+order\s+(?:placed|modified|cancelled)\s+on\s+([A-Z_:0-9!.]+?)(?:CloseBuy|CloseSell|\s|$).*?(?:(Buy|Sell)\s+)?([\d,]+(?:\.\d+)?)\s+at\s+([\d,]+\.?\d*)`),
		symbolGroup:        1,
		sideGroup:          2,
		quantityGroup:      3,
		priceGroup:         4,
		inferSideFromClose: true,
	},
	{
		name:               "limit order",
		re:                 regexp.MustCompile(`(?i)Limit\s+order\s+(?:placed|modified|cancelled)\s+on\s+([A-Z_:0-9!.]+?)(?:CloseBuy|CloseSell|\s|$).*?(?:(Buy|Sell)\s+)?([\d,]+(?:\.\d+)?)\s+at\s+([\d,]+\.?\d*)`),
		symbolGroup:        1,
		sideGroup:          2,
		quantityGroup:      3,
		priceGroup:         4,
		inferSideFromClose: true,
	},
	{
		name:          "legacy close",
		re:            regexp.MustCompile(`(?i)(CloseBuy|CloseSell)\s+([\d,]+(?:\.\d+)?)\s+at\s+([\d,]+\.?\d*)`),
		sideGroup:     1,
		quantityGroup: 2,
		priceGroup:    3,
		sideFromToken: true,
	},
	{
		name:          "bare side",
		re:            regexp.MustCompile(`(?i)(Buy|Sell)\s+([\d,]+(?:\.\d+)?)\s+at\s+([\d,]+\.?\d*)`),
		sideGroup:     1,
		quantityGroup: 2,
		priceGroup:    3,
	},
	{
		name:          "limit order side",
		re:            regexp.MustCompile(`(?i)Limit\s+order\s+(Buy|Sell)\s+([\d,]+(?:\.\d+)?)\s+at\s+([\d,]+\.?\d*)`),
		sideGroup:     1,
		quantityGroup: 2,
		priceGroup:    3,
	},
	{
		name:          "market order side",
		re:            regexp.MustCompile(`(?i)Market\s+order\s+(Buy|Sell)\s+([\d,]+(?:\.\d+)?)\s+at\s+([\d,]+\.?\d*)`),
		sideGroup:     1,
		quantityGroup: 2,
		priceGroup:    3,
	},
	{
		name:          "order placed side",
		re:            regexp.MustCompile(`(?i)order\s+placed\s+.*?(Buy|Sell)\s+([\d,]+(?:\.\d+)?)\s+at\s+([\d,]+\.?\d*)`),
		sideGroup:     1,
		quantityGroup: 2,
		priceGroup:    3,
	},
}

var (
	atPriceRe        = regexp.MustCompile(`(?i)at\s+([\d,]+\.?\d*)`)
	symbolFallbackRe = regexp.MustCompile(`(?i)on\s+([A-Z_:0-9!.]+?)(?:CloseBuy|CloseSell|Buy|Sell|\s|$)`)
)

// Extractor turns raw notification text into TradeEvents.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Admit reports whether the text looks like a trade notification at all.
// Rejected texts are terminal: no parsing, no ledger work, no delivery.
func (ex *Extractor) Admit(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 10 {
		return false
	}

	for _, p := range uiChromePatterns {
		if p.MatchString(trimmed) {
			return false
		}
	}

	hasMarker := false
	for _, m := range lifecycleMarkers {
		if strings.Contains(text, m) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return false
	}

	if !strings.Contains(text, " at ") || !atAmountRe.MatchString(text) {
		return false
	}

	// Indicator alerts are not trades.
	if strings.Contains(text, "Alert on") {
		return false
	}

	return true
}

// Extract parses a trade notification into a TradeEvent. Returns false when
// the text fails admission; a mostly-empty event can still be returned when
// admission passes but no template matched any field.
func (ex *Extractor) Extract(text string) (*TradeEvent, bool) {
	if !ex.Admit(text) {
		return nil, false
	}

	ev := &TradeEvent{RawText: text}
	lower := strings.ToLower(text)

	// The order templates only fire for texts that carry order-state info;
	// SL/TP modifications without them still get the price extraction below.
	if strings.Contains(lower, "executed") ||
		strings.Contains(text, "order placed") ||
		strings.Contains(text, "order cancelled") ||
		strings.Contains(text, "Limit order") ||
		strings.Contains(text, "Stop order") ||
		strings.Contains(text, "Market order") {
		ex.runCascade(ev, text)
	}

	// Stop Loss price: first "at <number>" occurrence.
	if strings.Contains(text, "Stop Loss order") {
		if m := atPriceRe.FindStringSubmatch(text); m != nil {
			ev.StopLoss = parseAmount(m[1])
		}
	}

	// Take Profit price: analogous.
	if strings.Contains(text, "Take Profit order") {
		if m := atPriceRe.FindStringSubmatch(text); m != nil {
			ev.TakeProfit = parseAmount(m[1])
		}
	}

	// Generic "on <SYMBOL>" fallback when no template captured a symbol.
	if ev.Symbol == "" {
		if m := symbolFallbackRe.FindStringSubmatch(text); m != nil {
			ev.Symbol = m[1]
		}
	}

	ev.Lifecycle = deriveLifecycle(lower)
	ev.OrderKind = deriveOrderKind(lower)
	ev.Timestamp = time.Now()

	ex.logger.Debug("extracted trade event",
		zap.String("symbol", ev.Symbol),
		zap.String("side", string(ev.Side)),
		zap.String("lifecycle", string(ev.Lifecycle)),
	)

	return ev, true
}

// runCascade tries each order template in order and populates the event from
// the first one that matches.
func (ex *Extractor) runCascade(ev *TradeEvent, text string) {
	for _, rule := range orderTemplates {
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		if rule.symbolGroup > 0 && m[rule.symbolGroup] != "" {
			ev.Symbol = m[rule.symbolGroup]
		}
		if rule.quantityGroup > 0 {
			ev.Quantity = parseAmount(m[rule.quantityGroup])
		}
		if rule.priceGroup > 0 {
			ev.Price = parseAmount(m[rule.priceGroup])
		}

		switch {
		case rule.sideFromToken:
			if strings.Contains(strings.ToLower(m[rule.sideGroup]), "buy") {
				ev.Side = SideBuy
			} else {
				ev.Side = SideSell
			}
		case rule.sideGroup > 0 && m[rule.sideGroup] != "":
			// Explicit side token takes priority over CloseBuy/CloseSell.
			ev.Side = Side(strings.ToUpper(m[rule.sideGroup]))
		case rule.inferSideFromClose && strings.Contains(text, "CloseBuy"):
			ev.Side = SideBuy
		case rule.inferSideFromClose && strings.Contains(text, "CloseSell"):
			ev.Side = SideSell
		}

		return
	}
}

// parseAmount strips comma thousands-separators and parses a float. A
// malformed or non-positive token yields an absent field, not an error:
// a zero quantity or price carries no trade information.
func parseAmount(s string) *float64 {
	cleaned := strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || f <= 0 {
		return nil
	}
	return &f
}

package app

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// positionEpsilon is the magnitude below which a position counts as flat.
const positionEpsilon = 1e-8

// CloseKind classifies how an executed trade changed an existing position.
type CloseKind string

const (
	CloseKindNone     CloseKind = ""         // fresh open on a flat book
	CloseKindAdd      CloseKind = "add"      // increased exposure in the same direction
	CloseKindPartial  CloseKind = "partial"  // reduced but did not flip
	CloseKindFull     CloseKind = "full"     // flattened the position
	CloseKindReversal CloseKind = "reversal" // flipped the position's sign
)

// Classification is the ledger's verdict on one executed trade.
type Classification struct {
	Kind CloseKind

	// PartialPercentage is round(closed/original*100) for partial closes,
	// AdditionPercentage is round(|delta|/|before|*100) for adds.
	PartialPercentage  int
	AdditionPercentage int
}

// IsClose reports whether the trade reduced or flipped exposure.
func (c Classification) IsClose() bool {
	return c.Kind == CloseKindPartial || c.Kind == CloseKindFull || c.Kind == CloseKindReversal
}

// Ledger tracks the signed running position per symbol, the set of symbols
// ever traded, and the last-seen SL/TP prices used for modified-notification
// de-duplication. Positive = net long, negative = net short, absent = flat.
type Ledger struct {
	logger *zap.Logger

	mu            sync.Mutex
	positions     map[string]float64
	tradedSymbols map[string]struct{}

	lastStopLoss   *float64
	lastTakeProfit *float64
}

func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		logger:        logger,
		positions:     make(map[string]float64),
		tradedSymbols: make(map[string]struct{}),
	}
}

// ApplyExecutedTrade updates the symbol's running position with one executed
// trade and classifies the update. Only call for executed events carrying
// both side and quantity.
func (l *Ledger) ApplyExecutedTrade(symbol string, side Side, quantity float64) Classification {
	l.mu.Lock()
	defer l.mu.Unlock()

	delta := quantity
	if side == SideSell {
		delta = -quantity
	}

	before := l.positions[symbol]
	after := round8(before + delta)

	var cls Classification

	switch {
	case before == 0:
		// Fresh open; no close/add classification.
	case math.Signbit(before) != math.Signbit(delta):
		closed := math.Abs(delta)
		original := math.Abs(before)
		cls.PartialPercentage = int(math.Round(closed / original * 100))

		switch {
		case math.Abs(after) < positionEpsilon:
			cls.Kind = CloseKindFull
			after = 0
		case math.Signbit(after) == math.Signbit(before):
			cls.Kind = CloseKindPartial
		default:
			cls.Kind = CloseKindReversal
		}
	default:
		cls.Kind = CloseKindAdd
		cls.AdditionPercentage = int(math.Round(math.Abs(delta) / math.Abs(before) * 100))
	}

	if math.Abs(after) < positionEpsilon {
		delete(l.positions, symbol)
	} else {
		l.positions[symbol] = after
	}

	l.tradedSymbols[symbol] = struct{}{}

	l.logger.Info("position updated",
		zap.String("symbol", symbol),
		zap.Float64("before", before),
		zap.Float64("after", after),
		zap.String("classification", string(cls.Kind)),
	)

	return cls
}

// MarkTraded records a symbol in the traded-symbol set without touching its
// position. Used for placed orders.
func (l *Ledger) MarkTraded(symbol string) {
	if symbol == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tradedSymbols[symbol] = struct{}{}
}

// ManualOverride sets a symbol's position directly, bypassing classification.
// A zero quantity deletes the entry.
func (l *Ledger) ManualOverride(symbol string, quantity float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if quantity == 0 || math.Abs(quantity) < positionEpsilon {
		delete(l.positions, symbol)
	} else {
		l.positions[symbol] = round8(quantity)
	}
	l.tradedSymbols[symbol] = struct{}{}

	l.logger.Info("position overridden",
		zap.String("symbol", symbol),
		zap.Float64("quantity", quantity),
	)
}

// Reset clears all positions and the SL/TP last-seen cache. The traded-symbol
// set survives resets.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]float64)
	l.lastStopLoss = nil
	l.lastTakeProfit = nil

	l.logger.Info("ledger reset")
}

// DeleteSymbol removes a symbol from both the ledger and the traded-symbol set.
func (l *Ledger) DeleteSymbol(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.positions, symbol)
	delete(l.tradedSymbols, symbol)
}

// Position returns the current signed position for a symbol (0 when flat).
func (l *Ledger) Position(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions[symbol]
}

// SymbolEntry pairs a traded symbol with its current position, for the
// symbol-selection affordance.
type SymbolEntry struct {
	Symbol   string  `json:"symbol"`
	Position float64 `json:"position"`
}

// Symbols returns every traded symbol, sorted, with current positions.
func (l *Ledger) Symbols() []SymbolEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.tradedSymbols))
	for s := range l.tradedSymbols {
		names = append(names, s)
	}
	for s := range l.positions {
		if _, ok := l.tradedSymbols[s]; !ok {
			names = append(names, s)
		}
	}
	sort.Strings(names)

	entries := make([]SymbolEntry, 0, len(names))
	for _, s := range names {
		entries = append(entries, SymbolEntry{Symbol: s, Position: round8(l.positions[s])})
	}
	return entries
}

// CheckStopLossDuplicate reports whether a modified stop-loss price is within
// epsilon of the last seen one (a quantity-only re-notification). When it is
// not a duplicate, the cache is refreshed.
func (l *Ledger) CheckStopLossDuplicate(price, epsilon float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastStopLoss != nil && math.Abs(price-*l.lastStopLoss) < epsilon {
		return true
	}
	p := price
	l.lastStopLoss = &p
	return false
}

// CheckTakeProfitDuplicate is the take-profit counterpart of
// CheckStopLossDuplicate.
func (l *Ledger) CheckTakeProfitDuplicate(price, epsilon float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastTakeProfit != nil && math.Abs(price-*l.lastTakeProfit) < epsilon {
		return true
	}
	p := price
	l.lastTakeProfit = &p
	return false
}

// PrimeStopLoss refreshes the last-seen stop-loss price without any
// duplicate check. Non-modified SL mentions prime the cache unconditionally.
func (l *Ledger) PrimeStopLoss(price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := price
	l.lastStopLoss = &p
}

// PrimeTakeProfit is the take-profit counterpart of PrimeStopLoss.
func (l *Ledger) PrimeTakeProfit(price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := price
	l.lastTakeProfit = &p
}

// LedgerSnapshot is the persisted form of the ledger.
type LedgerSnapshot struct {
	Positions     map[string]float64 `json:"symbolPositions"`
	TradedSymbols []string           `json:"tradedSymbols"`
}

// Export returns a copy of the ledger state for persistence.
func (l *Ledger) Export() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[string]float64, len(l.positions))
	for s, q := range l.positions {
		positions[s] = q
	}
	symbols := make([]string, 0, len(l.tradedSymbols))
	for s := range l.tradedSymbols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	return LedgerSnapshot{Positions: positions, TradedSymbols: symbols}
}

// Import replaces the ledger state from a persisted snapshot. Entries below
// epsilon are normalized away.
func (l *Ledger) Import(snapshot LedgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]float64, len(snapshot.Positions))
	for s, q := range snapshot.Positions {
		if math.Abs(q) >= positionEpsilon {
			l.positions[s] = q
		}
	}
	l.tradedSymbols = make(map[string]struct{}, len(snapshot.TradedSymbols))
	for _, s := range snapshot.TradedSymbols {
		l.tradedSymbols[s] = struct{}{}
	}
}

// round8 rounds to 8 decimal places to suppress floating-point noise.
func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

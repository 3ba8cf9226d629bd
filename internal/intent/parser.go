package intent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"perp-trade-engine/internal/exchange"
)

// Limits bounds the notional of parsed intents.
type Limits struct {
	MaxNotionalUSDT float64 // clamp ceiling; 0 disables clamping
	MinNotionalUSDT float64 // rows below this are dropped; 0 disables
}

// Parser validates and normalizes order input into OrderIntents.
type Parser struct {
	symbols *exchange.SymbolTable
	limits  Limits
	logger  zerolog.Logger
}

// NewParser creates a Parser bound to a symbol table.
func NewParser(symbols *exchange.SymbolTable, limits Limits, logger zerolog.Logger) *Parser {
	return &Parser{
		symbols: symbols,
		limits:  limits,
		logger:  logger.With().Str("component", "IntentParser").Logger(),
	}
}

// ParseRows converts tabular rows into intents. Each malformed row is dropped
// with a reason; remaining rows are unaffected.
func (p *Parser) ParseRows(rows []Row) ([]OrderIntent, []Dropped) {
	intents := make([]OrderIntent, 0, len(rows))
	var dropped []Dropped

	for i, row := range rows {
		it, err := p.parseRow(row)
		if err != nil {
			p.logger.Warn().Int("row", i).Str("currency", row.Currency).Err(err).Msg("Dropping invalid row")
			dropped = append(dropped, Dropped{Index: i, Reason: err.Error()})
			continue
		}
		intents = append(intents, it)
	}
	return intents, dropped
}

// ParseSuggestions converts structured suggestions into intents with the same
// per-row drop semantics as ParseRows.
func (p *Parser) ParseSuggestions(suggestions []Suggestion) ([]OrderIntent, []Dropped) {
	intents := make([]OrderIntent, 0, len(suggestions))
	var dropped []Dropped

	for i, s := range suggestions {
		it, err := p.parseSuggestion(s)
		if err != nil {
			p.logger.Warn().Int("row", i).Str("currency", s.Currency).Err(err).Msg("Dropping invalid suggestion")
			dropped = append(dropped, Dropped{Index: i, Reason: err.Error()})
			continue
		}
		intents = append(intents, it)
	}
	return intents, dropped
}

func (p *Parser) parseRow(row Row) (OrderIntent, error) {
	currency := strings.ToUpper(strings.TrimSpace(row.Currency))
	if currency == "" {
		return OrderIntent{}, fmt.Errorf("currency is empty")
	}

	side, err := parseSide(row.Direct)
	if err != nil {
		return OrderIntent{}, err
	}

	var notional float64
	if side != SideClose {
		sizeStr := strings.TrimSpace(row.SizeUSDT)
		if sizeStr == "" {
			return OrderIntent{}, fmt.Errorf("size_usdt is empty")
		}
		notional, err = strconv.ParseFloat(sizeStr, 64)
		if err != nil {
			return OrderIntent{}, fmt.Errorf("invalid size_usdt %q", row.SizeUSDT)
		}
		if notional <= 0 {
			return OrderIntent{}, fmt.Errorf("size_usdt must be positive, got %v", notional)
		}
	}

	symbol, err := p.symbols.Resolve(currency)
	if err != nil {
		return OrderIntent{}, err
	}

	it := OrderIntent{
		Symbol:       symbol,
		NotionalUSDT: notional,
		Side:         side,
		OrderType:    exchange.OrderTypeMarket,
	}
	p.applyLimits(&it)

	// An unparsable lever skips the leverage change but keeps the order,
	// matching the partial-failure stance for optional fields.
	if lever := strings.TrimSpace(row.Lever); lever != "" {
		lev, err := strconv.Atoi(lever)
		if err != nil || lev < 1 {
			p.logger.Warn().Str("symbol", symbol).Str("lever", row.Lever).Msg("Invalid lever, leaving leverage unchanged")
		} else {
			it.Leverage = lev
		}
	}

	if err := p.checkMin(it); err != nil {
		return OrderIntent{}, err
	}
	return it, nil
}

func (p *Parser) parseSuggestion(s Suggestion) (OrderIntent, error) {
	currency := strings.ToUpper(strings.TrimSpace(s.Currency))
	if currency == "" {
		return OrderIntent{}, fmt.Errorf("currency is empty")
	}

	side, err := parseSide(s.PositionSide)
	if err != nil {
		return OrderIntent{}, err
	}
	if side != SideClose && s.AmountUSDT <= 0 {
		return OrderIntent{}, fmt.Errorf("amountUsdt must be positive, got %v", s.AmountUSDT)
	}

	symbol, err := p.symbols.Resolve(currency)
	if err != nil {
		return OrderIntent{}, err
	}

	orderType := exchange.OrderTypeMarket
	switch strings.ToUpper(strings.TrimSpace(s.OrderType)) {
	case "", "MARKET":
	case "LIMIT":
		orderType = exchange.OrderTypeLimit
	default:
		return OrderIntent{}, fmt.Errorf("unknown orderType %q", s.OrderType)
	}

	if s.Leverage < 0 {
		return OrderIntent{}, fmt.Errorf("leverage must be >= 1, got %d", s.Leverage)
	}

	it := OrderIntent{
		Symbol:       symbol,
		NotionalUSDT: s.AmountUSDT,
		Side:         side,
		OrderType:    orderType,
		LimitPrice:   s.LimitPrice,
		Leverage:     s.Leverage,
	}
	p.applyLimits(&it)

	if err := p.checkMin(it); err != nil {
		return OrderIntent{}, err
	}
	return it, nil
}

// applyLimits clamps oversized notionals. Close intents are exempt: reducing
// risk is never clamped.
func (p *Parser) applyLimits(it *OrderIntent) {
	if it.Side == SideClose {
		return
	}
	if p.limits.MaxNotionalUSDT > 0 && it.NotionalUSDT > p.limits.MaxNotionalUSDT {
		p.logger.Warn().
			Str("symbol", it.Symbol).
			Float64("requested", it.NotionalUSDT).
			Float64("max", p.limits.MaxNotionalUSDT).
			Msg("Clamping notional to configured maximum")
		it.NotionalUSDT = p.limits.MaxNotionalUSDT
	}
}

func (p *Parser) checkMin(it OrderIntent) error {
	if it.Side == SideClose {
		return nil
	}
	if p.limits.MinNotionalUSDT > 0 && it.NotionalUSDT < p.limits.MinNotionalUSDT {
		return fmt.Errorf("notional %v below configured minimum %v", it.NotionalUSDT, p.limits.MinNotionalUSDT)
	}
	return nil
}

// parseSide maps a direction token to a Side. Long/Short map to the obvious
// directions; BUY/SELL are accepted as aliases; Close requests a reduce-only
// full close. Anything else invalidates the row.
func parseSide(direct string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(direct)) {
	case "long", "buy":
		return SideLong, nil
	case "short", "sell":
		return SideShort, nil
	case "close":
		return SideClose, nil
	default:
		return "", fmt.Errorf("unknown direction %q (expected Long, Short or Close)", direct)
	}
}

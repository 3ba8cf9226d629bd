package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LeverageCall records one SetLeverage invocation on the mock.
type LeverageCall struct {
	Symbol   string
	Leverage int
}

// MockClient is a configurable in-memory Client used by tests and mock mode.
// Behavior is scripted per symbol: rejected symbols come back as per-order
// batch rejections, and TransientFailures makes whole batch requests fail at
// the transport level before succeeding.
type MockClient struct {
	mu sync.Mutex

	positions  map[string]Position
	markPrices map[string]float64
	precisions map[string]int
	leverages  map[string]int

	// Scripting
	rejectSymbols     map[string]struct{}
	TransientFailures int // remaining PlaceBatchOrders calls that fail with a 503
	leverageErrs      map[string]error

	// Recorded activity
	LeverageCalls []LeverageCall
	BatchCalls    [][]OrderParams
	PlacedOrders  []OrderParams

	nextOrderID int64
}

// NewMockClient creates an empty mock exchange.
func NewMockClient() *MockClient {
	return &MockClient{
		positions:     make(map[string]Position),
		markPrices:    make(map[string]float64),
		precisions:    make(map[string]int),
		leverages:     make(map[string]int),
		rejectSymbols: make(map[string]struct{}),
		leverageErrs:  make(map[string]error),
		nextOrderID:   1000,
	}
}

// SetMarkPrice sets the mark price returned for a symbol.
func (m *MockClient) SetMarkPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markPrices[symbol] = price
}

// SetPosition sets the live position for a symbol.
func (m *MockClient) SetPosition(symbol string, amt, entryPrice float64, leverage int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[symbol] = Position{
		Symbol:      symbol,
		PositionAmt: amt,
		EntryPrice:  entryPrice,
		MarkPrice:   m.markPrices[symbol],
		Leverage:    leverage,
		UpdateTime:  time.Now().UnixMilli(),
	}
	m.leverages[symbol] = leverage
}

// SetQuantityPrecision overrides the quantity precision for a symbol.
func (m *MockClient) SetQuantityPrecision(symbol string, precision int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.precisions[symbol] = precision
}

// RejectOrders makes batch entries for the symbol come back rejected.
func (m *MockClient) RejectOrders(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectSymbols[symbol] = struct{}{}
}

// FailLeverage makes SetLeverage fail for the symbol.
func (m *MockClient) FailLeverage(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverageErrs[symbol] = err
}

// Leverage returns the last leverage configured for a symbol (0 if never set).
func (m *MockClient) Leverage(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leverages[symbol]
}

func (m *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	positions := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		p.MarkPrice = m.markPrices[p.Symbol]
		positions = append(positions, p)
	}
	return positions, nil
}

func (m *MockClient) GetPositionBySymbol(ctx context.Context, symbol string) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		p.MarkPrice = m.markPrices[symbol]
		return &p, nil
	}
	return &Position{Symbol: symbol, MarkPrice: m.markPrices[symbol]}, nil
}

func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) (*LeverageResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LeverageCalls = append(m.LeverageCalls, LeverageCall{Symbol: symbol, Leverage: leverage})
	if err, ok := m.leverageErrs[symbol]; ok {
		return nil, err
	}
	m.leverages[symbol] = leverage
	return &LeverageResponse{Symbol: symbol, Leverage: leverage}, nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, params OrderParams) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, rejected := m.rejectSymbols[params.Symbol]; rejected {
		return nil, &APIError{StatusCode: 400, Code: -2021, Message: "Order would immediately trigger."}
	}
	m.PlacedOrders = append(m.PlacedOrders, params)
	m.nextOrderID++
	return m.fillResponse(params), nil
}

func (m *MockClient) PlaceBatchOrders(ctx context.Context, orders []OrderParams) ([]BatchOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TransientFailures > 0 {
		m.TransientFailures--
		return nil, &APIError{StatusCode: 503, Message: "Service Unavailable"}
	}

	m.BatchCalls = append(m.BatchCalls, append([]OrderParams(nil), orders...))
	results := make([]BatchOrderResult, 0, len(orders))
	for _, o := range orders {
		if _, rejected := m.rejectSymbols[o.Symbol]; rejected {
			results = append(results, BatchOrderResult{Code: -2019, Msg: "Margin is insufficient."})
			continue
		}
		m.PlacedOrders = append(m.PlacedOrders, o)
		m.nextOrderID++
		results = append(results, BatchOrderResult{OrderResponse: *m.fillResponse(o)})
	}
	return results, nil
}

func (m *MockClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error) {
	return &OrderResponse{
		OrderID:    orderID,
		Symbol:     symbol,
		Status:     string(OrderStatusFilled),
		UpdateTime: time.Now().UnixMilli(),
	}, nil
}

func (m *MockClient) GetMarkPrice(ctx context.Context, symbol string) (*MarkPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.markPrices[symbol]
	if !ok {
		return nil, fmt.Errorf("no mark price for symbol %s", symbol)
	}
	return &MarkPrice{Symbol: symbol, MarkPrice: price, Time: time.Now().UnixMilli()}, nil
}

func (m *MockClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := &ExchangeInfo{}
	for symbol := range m.markPrices {
		prec, ok := m.precisions[symbol]
		if !ok {
			prec = DefaultQuantityPrecision
		}
		base := symbol
		if len(base) > 4 && base[len(base)-4:] == "USDT" {
			base = base[:len(base)-4]
		}
		info.Symbols = append(info.Symbols, SymbolInfo{
			Symbol:            symbol,
			Status:            "TRADING",
			BaseAsset:         base,
			QuoteAsset:        "USDT",
			QuantityPrecision: prec,
		})
	}
	return info, nil
}

func (m *MockClient) GetListenKey(ctx context.Context) (string, error) {
	return "mock-listen-key", nil
}

func (m *MockClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return nil
}

// fillResponse builds a FILLED response for a market order (NEW for limit).
// Caller must hold the mutex.
func (m *MockClient) fillResponse(o OrderParams) *OrderResponse {
	status := OrderStatusFilled
	avgPrice := m.markPrices[o.Symbol]
	executed := o.Quantity
	if o.Type == OrderTypeLimit {
		status = OrderStatusNew
		avgPrice = 0
		executed = 0
	}
	return &OrderResponse{
		OrderID:     m.nextOrderID,
		Symbol:      o.Symbol,
		Status:      string(status),
		Side:        o.Side,
		Type:        string(o.Type),
		OrigQty:     o.Quantity,
		ExecutedQty: executed,
		AvgPrice:    avgPrice,
		Price:       o.Price,
		ReduceOnly:  o.ReduceOnly,
		UpdateTime:  time.Now().UnixMilli(),
	}
}

package exchange

import "context"

// Client defines the Binance USD-M futures operations the engine consumes.
// Two implementations exist: the signed REST client and a mock for tests.
type Client interface {
	// ==================== ACCOUNT ====================

	// GetPositions retrieves all futures positions
	GetPositions(ctx context.Context) ([]Position, error)

	// GetPositionBySymbol retrieves the position for a specific symbol
	GetPositionBySymbol(ctx context.Context, symbol string) (*Position, error)

	// ==================== LEVERAGE ====================

	// SetLeverage sets the initial leverage for a symbol (1-125x)
	SetLeverage(ctx context.Context, symbol string, leverage int) (*LeverageResponse, error)

	// ==================== TRADING ====================

	// PlaceOrder places a single futures order
	PlaceOrder(ctx context.Context, params OrderParams) (*OrderResponse, error)

	// PlaceBatchOrders submits up to the exchange batch limit of orders in
	// one request; each order is accepted or rejected independently
	PlaceBatchOrders(ctx context.Context, orders []OrderParams) ([]BatchOrderResult, error)

	// GetOrder queries a single order by id
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// ==================== MARKET DATA ====================

	// GetMarkPrice retrieves the current mark price for a symbol
	GetMarkPrice(ctx context.Context, symbol string) (*MarkPrice, error)

	// GetExchangeInfo retrieves symbol metadata (precision, listing status)
	GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error)

	// ==================== USER DATA STREAM ====================

	// GetListenKey creates a new user data stream listen key
	GetListenKey(ctx context.Context) (string, error)

	// KeepAliveListenKey extends the validity of a listen key
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

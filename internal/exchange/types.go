package exchange

// ==================== ENUMS ====================

// OrderType represents order types supported by the engine
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce represents order time-in-force options
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good Till Cancel
	TimeInForceIOC TimeInForce = "IOC" // Immediate or Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill or Kill
)

// OrderStatus represents exchange-side order status
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// ==================== POSITION TYPES ====================

// Position represents a futures position from the positionRisk endpoint
type Position struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnrealizedProfit float64 `json:"unRealizedProfit,string"`
	LiquidationPrice float64 `json:"liquidationPrice,string"`
	Leverage         int     `json:"leverage,string"`
	MaxNotionalValue float64 `json:"maxNotionalValue,string"`
	MarginType       string  `json:"marginType"`
	PositionSide     string  `json:"positionSide"`
	Notional         float64 `json:"notional,string"`
	UpdateTime       int64   `json:"updateTime"`
}

// ==================== ORDER TYPES ====================

// OrderParams represents parameters for placing a futures order
type OrderParams struct {
	Symbol           string      `json:"symbol"`
	Side             string      `json:"side"` // BUY or SELL
	Type             OrderType   `json:"type"`
	Quantity         float64     `json:"quantity"`
	Price            float64     `json:"price,omitempty"`
	TimeInForce      TimeInForce `json:"timeInForce,omitempty"`
	ReduceOnly       bool        `json:"reduceOnly,omitempty"`
	NewClientOrderID string      `json:"newClientOrderId,omitempty"`

	// QuantityPrecision is the decimal precision used when serializing
	// Quantity; the exchange rejects excess decimals.
	QuantityPrecision int `json:"-"`
}

// OrderResponse represents the response from placing or querying an order
type OrderResponse struct {
	OrderID       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	ClientOrderID string  `json:"clientOrderId"`
	Price         float64 `json:"price,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	OrigQty       float64 `json:"origQty,string"`
	ExecutedQty   float64 `json:"executedQty,string"`
	CumQuote      float64 `json:"cumQuote,string"`
	TimeInForce   string  `json:"timeInForce"`
	Type          string  `json:"type"`
	ReduceOnly    bool    `json:"reduceOnly"`
	Side          string  `json:"side"`
	UpdateTime    int64   `json:"updateTime"`
}

// BatchOrderResult is one element of a batchOrders response. The exchange
// accepts or rejects each order in a batch independently: accepted entries
// carry an order response, rejected ones carry a code and message.
type BatchOrderResult struct {
	OrderResponse
	Code int    `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

// Rejected reports whether this batch entry was rejected by the exchange.
func (r BatchOrderResult) Rejected() bool {
	return r.Code != 0
}

// ==================== LEVERAGE ====================

// LeverageResponse represents the response from a leverage change
type LeverageResponse struct {
	Leverage         int     `json:"leverage"`
	MaxNotionalValue float64 `json:"maxNotionalValue,string"`
	Symbol           string  `json:"symbol"`
}

// ==================== MARKET DATA ====================

// MarkPrice represents mark price data for a symbol
type MarkPrice struct {
	Symbol    string  `json:"symbol"`
	MarkPrice float64 `json:"markPrice,string"`
	Time      int64   `json:"time"`
}

// ==================== EXCHANGE INFO ====================

// ExchangeInfo represents the subset of exchangeInfo the engine needs
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one tradable symbol
type SymbolInfo struct {
	Symbol            string `json:"symbol"`
	Status            string `json:"status"`
	BaseAsset         string `json:"baseAsset"`
	QuoteAsset        string `json:"quoteAsset"`
	QuantityPrecision int    `json:"quantityPrecision"`
	PricePrecision    int    `json:"pricePrecision"`
}

// Package intent normalizes raw order input (tabular rows, structured
// suggestions) into validated order intents. Malformed rows are dropped
// individually; one bad row never aborts the rest of the batch.
package intent

import "perp-trade-engine/internal/exchange"

// Side is the trade direction of an intent.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	// SideClose targets a flat position with a reduce-only order; the order
	// side is derived from the live position during reconciliation.
	SideClose Side = "CLOSE"
)

// Origin identifies who authored a batch. Assistant-suggested batches must
// pass the approval gate before execution; operator batches skip it.
type Origin string

const (
	OriginOperator  Origin = "operator"
	OriginAssistant Origin = "assistant"
)

// OrderIntent is one validated, normalized trade intent.
type OrderIntent struct {
	Symbol       string             // resolved exchange symbol, e.g. 1000HYPEUSDT
	NotionalUSDT float64            // > 0; ignored for SideClose (full close)
	Side         Side
	OrderType    exchange.OrderType
	LimitPrice   float64 // 0 for LIMIT means "use mark price"
	Leverage     int     // 0 = leave current leverage unchanged
}

// Row is one tabular input row with header currency,size_usdt,direct,lever.
type Row struct {
	Currency string `json:"currency"`
	SizeUSDT string `json:"size_usdt"`
	Direct   string `json:"direct"`
	Lever    string `json:"lever"`
}

// Suggestion is one structured order suggestion, typically LLM-composed.
// Suggestions are untrusted input and go through the same validation as rows.
type Suggestion struct {
	Currency     string  `json:"currency"`
	AmountUSDT   float64 `json:"amountUsdt"`
	PositionSide string  `json:"positionSide"`
	OrderType    string  `json:"orderType"`
	LimitPrice   float64 `json:"limitPrice"`
	Leverage     int     `json:"leverage"`
}

// Dropped describes one input row that failed validation and was skipped.
type Dropped struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// BaseURL is the production Binance Futures API URL
	BaseURL = "https://fapi.binance.com"
	// TestnetURL is the testnet Binance Futures API URL
	TestnetURL = "https://testnet.binancefuture.com"

	// recvWindow tolerance for clock skew, in milliseconds
	recvWindow = "10000"
)

// APIError is a non-2xx response from the exchange. The embedded code is
// Binance's error code (e.g. -2019 margin is insufficient).
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// IsTransient reports whether an error is a transport-level failure (network
// error, timeout, 5xx) rather than a per-order business rejection. Transient
// failures are the only class the coordinator retries.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Context deadline on the HTTP round trip surfaces as a url.Error.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// RESTClient implements Client against the Binance USD-M REST API.
type RESTClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRESTClient creates a signed REST client. An empty baseURL selects the
// production or testnet endpoint depending on the testnet flag.
func NewRESTClient(apiKey, secretKey, baseURL string, testnet bool, callTimeout time.Duration, logger zerolog.Logger) *RESTClient {
	if baseURL == "" {
		baseURL = BaseURL
		if testnet {
			baseURL = TestnetURL
		}
	}
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}

	// Trim any whitespace from keys - critical for signature generation
	return &RESTClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: callTimeout},
		logger:     logger.With().Str("component", "ExchangeClient").Logger(),
	}
}

// ==================== ACCOUNT ====================

func (c *RESTClient) GetPositions(ctx context.Context) ([]Position, error) {
	resp, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	var positions []Position
	if err := json.Unmarshal(resp, &positions); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}
	return positions, nil
}

func (c *RESTClient) GetPositionBySymbol(ctx context.Context, symbol string) (*Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching position: %w", err)
	}

	var positions []Position
	if err := json.Unmarshal(resp, &positions); err != nil {
		return nil, fmt.Errorf("error parsing position: %w", err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("position not found for symbol: %s", symbol)
	}

	// In hedge mode there are two entries; prefer the one with size.
	for i := range positions {
		if positions[i].PositionAmt != 0 {
			return &positions[i], nil
		}
	}
	return &positions[0], nil
}

// ==================== LEVERAGE ====================

func (c *RESTClient) SetLeverage(ctx context.Context, symbol string, leverage int) (*LeverageResponse, error) {
	if leverage < 1 {
		leverage = 1
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	if err != nil {
		return nil, fmt.Errorf("error setting leverage: %w", err)
	}

	var leverageResp LeverageResponse
	if err := json.Unmarshal(resp, &leverageResp); err != nil {
		return nil, fmt.Errorf("error parsing leverage response: %w", err)
	}
	return &leverageResp, nil
}

// ==================== TRADING ====================

func (c *RESTClient) PlaceOrder(ctx context.Context, p OrderParams) (*OrderResponse, error) {
	params := url.Values{}
	for k, v := range orderParamsToValues(p) {
		params.Set(k, v)
	}

	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &orderResp, nil
}

func (c *RESTClient) PlaceBatchOrders(ctx context.Context, orders []OrderParams) ([]BatchOrderResult, error) {
	if len(orders) == 0 {
		return nil, nil
	}

	payloads := make([]map[string]string, 0, len(orders))
	for _, o := range orders {
		payloads = append(payloads, orderParamsToValues(o))
	}
	// The exchange expects batchOrders as one compact JSON string parameter;
	// it is signed as part of the querystring like any other parameter.
	encoded, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("error encoding batch orders: %w", err)
	}

	params := url.Values{}
	params.Set("batchOrders", string(encoded))

	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/batchOrders", params)
	if err != nil {
		return nil, fmt.Errorf("error placing batch orders: %w", err)
	}

	var results []BatchOrderResult
	if err := json.Unmarshal(resp, &results); err != nil {
		return nil, fmt.Errorf("error parsing batch order response: %w", err)
	}
	return results, nil
}

func (c *RESTClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	resp, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching order: %w", err)
	}

	var order OrderResponse
	if err := json.Unmarshal(resp, &order); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}
	return &order, nil
}

// ==================== MARKET DATA ====================

func (c *RESTClient) GetMarkPrice(ctx context.Context, symbol string) (*MarkPrice, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := c.publicGet(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching mark price: %w", err)
	}

	var markPrice MarkPrice
	if err := json.Unmarshal(resp, &markPrice); err != nil {
		return nil, fmt.Errorf("error parsing mark price: %w", err)
	}
	return &markPrice, nil
}

func (c *RESTClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	resp, err := c.publicGet(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching exchange info: %w", err)
	}

	var info ExchangeInfo
	if err := json.Unmarshal(resp, &info); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}
	return &info, nil
}

// ==================== USER DATA STREAM ====================

func (c *RESTClient) GetListenKey(ctx context.Context) (string, error) {
	resp, err := c.keyedRequest(ctx, http.MethodPost, "/fapi/v1/listenKey", nil)
	if err != nil {
		return "", fmt.Errorf("error creating listen key: %w", err)
	}

	var result struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("error parsing listen key: %w", err)
	}
	return result.ListenKey, nil
}

func (c *RESTClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)

	if _, err := c.keyedRequest(ctx, http.MethodPut, "/fapi/v1/listenKey", params); err != nil {
		return fmt.Errorf("error keeping listen key alive: %w", err)
	}
	return nil
}

// ==================== INTERNALS ====================

// orderParamsToValues serializes OrderParams into the flat string map the
// exchange expects, formatting quantity with the symbol's precision.
func orderParamsToValues(p OrderParams) map[string]string {
	prec := p.QuantityPrecision
	if prec < 0 {
		prec = 0
	}
	if prec > 8 {
		prec = 8
	}

	values := map[string]string{
		"symbol":   p.Symbol,
		"side":     p.Side,
		"type":     string(p.Type),
		"quantity": strconv.FormatFloat(p.Quantity, 'f', prec, 64),
	}
	if p.Type == OrderTypeLimit {
		values["price"] = strconv.FormatFloat(p.Price, 'f', -1, 64)
		tif := p.TimeInForce
		if tif == "" {
			tif = TimeInForceGTC
		}
		values["timeInForce"] = string(tif)
	}
	if p.ReduceOnly {
		values["reduceOnly"] = "true"
	}
	if p.NewClientOrderID != "" {
		values["newClientOrderId"] = p.NewClientOrderID
	}
	return values
}

func (c *RESTClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedRequest performs a signed request; params may be nil.
func (c *RESTClient) signedRequest(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)

	query := params.Encode()
	query += "&signature=" + c.sign(query)

	return c.do(ctx, method, endpoint, query, true)
}

// keyedRequest performs a request that needs the API key header but no
// signature (listen key endpoints).
func (c *RESTClient) keyedRequest(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	query := ""
	if params != nil {
		query = params.Encode()
	}
	return c.do(ctx, method, endpoint, query, true)
}

// publicGet performs an unauthenticated GET request.
func (c *RESTClient) publicGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	query := ""
	if params != nil {
		query = params.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, query, false)
}

func (c *RESTClient) do(ctx context.Context, method, endpoint, query string, keyed bool) ([]byte, error) {
	reqURL := c.baseURL + endpoint
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if keyed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		c.logger.Warn().
			Str("method", method).
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Exchange request failed")
		return nil, apiErr
	}
	return body, nil
}

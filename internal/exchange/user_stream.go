package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamBaseURL        = "wss://fstream.binance.com/ws/"
	streamTestnetBaseURL = "wss://stream.binancefuture.com/ws/"

	// Listen keys expire after 60 minutes; refresh well before that.
	listenKeyKeepAlive = 30 * time.Minute
	reconnectDelay     = 5 * time.Second
)

// OrderUpdate is an ORDER_TRADE_UPDATE event from the user data stream.
type OrderUpdate struct {
	Symbol        string  `json:"s"`
	ClientOrderID string  `json:"c"`
	Side          string  `json:"S"`
	OrderType     string  `json:"o"`
	OrigQty       float64 `json:"q,string"`
	AvgPrice      float64 `json:"ap,string"`
	ExecutionType string  `json:"x"`
	OrderStatus   string  `json:"X"`
	OrderID       int64   `json:"i"`
	FilledQty     float64 `json:"z,string"`
	RealizedPnL   float64 `json:"rp,string"`
	TradeTime     int64   `json:"T"`
}

type streamEvent struct {
	EventType string      `json:"e"`
	EventTime int64       `json:"E"`
	Order     OrderUpdate `json:"o"`
}

// OrderUpdateFunc receives real-time order updates from the stream.
type OrderUpdateFunc func(OrderUpdate)

// UserStream consumes the futures user data websocket and forwards order
// updates to a callback, replacing REST polling for order status.
type UserStream struct {
	mu sync.Mutex

	client        Client
	onOrderUpdate OrderUpdateFunc
	logger        zerolog.Logger
	baseURL       string

	running bool
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

// NewUserStream creates a user data stream bound to the given client.
func NewUserStream(client Client, testnet bool, onOrderUpdate OrderUpdateFunc, logger zerolog.Logger) *UserStream {
	baseURL := streamBaseURL
	if testnet {
		baseURL = streamTestnetBaseURL
	}
	return &UserStream{
		client:        client,
		onOrderUpdate: onOrderUpdate,
		logger:        logger.With().Str("component", "UserStream").Logger(),
		baseURL:       baseURL,
	}
}

// Start connects the stream and runs the read loop until Stop or ctx cancel.
func (s *UserStream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.done.Add(1)
	go s.run(ctx)
}

// Stop shuts the stream down and waits for the read loop to exit.
func (s *UserStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.done.Wait()
}

func (s *UserStream) run(ctx context.Context) {
	defer s.done.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("User stream disconnected, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}
}

// consume opens one websocket session and reads until it drops.
func (s *UserStream) consume(ctx context.Context) error {
	listenKey, err := s.client.GetListenKey(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.baseURL+listenKey, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.logger.Info().Msg("User data stream connected")

	// Keep the listen key alive for the lifetime of this connection.
	keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
	defer cancelKeepAlive()
	go s.keepAlive(keepAliveCtx, listenKey)

	// Unblock ReadMessage when the context is cancelled.
	go func() {
		<-keepAliveCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event streamEvent
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to decode stream event")
			continue
		}
		if event.EventType != "ORDER_TRADE_UPDATE" {
			continue
		}
		if s.onOrderUpdate != nil {
			s.onOrderUpdate(event.Order)
		}
	}
}

func (s *UserStream) keepAlive(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.KeepAliveListenKey(ctx, listenKey); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to keep listen key alive")
			}
		}
	}
}

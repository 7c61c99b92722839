// Package feed adapts external market data into the engine's caches and
// provides the execution adapters used in paper mode.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// tickerMessage is one quote update pushed by a venue's market-data stream.
type tickerMessage struct {
	Type       string  `json:"type"`
	Asset      string  `json:"asset"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	DepthUSD   float64 `json:"depth_usd"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"ts"`
}

type wsCommand struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets"`
}

// WSPriceFeed maintains a websocket subscription to one venue's market-data
// stream and writes every ticker update into the quote cache. It reconnects
// with exponential backoff and restores its subscriptions.
type WSPriceFeed struct {
	venue  domain.Venue
	chain  domain.Chain
	wsURL  string
	assets []string
	cache  domain.QuoteCache
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	done chan struct{}
}

func NewWSPriceFeed(venue domain.Venue, chain domain.Chain, wsURL string, assets []string, cache domain.QuoteCache, logger *slog.Logger) *WSPriceFeed {
	return &WSPriceFeed{
		venue:  venue,
		chain:  chain,
		wsURL:  wsURL,
		assets: assets,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_feed"), slog.String("venue", string(venue))),
		done:   make(chan struct{}),
	}
}

// Connect establishes the websocket connection, subscribes to the configured
// assets, and starts the read and ping loops.
func (w *WSPriceFeed) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("feed: %s: %w", w.venue, domain.ErrUnavailable)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", w.venue, err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := w.sendCommand(wsCommand{Type: "subscribe", Assets: w.assets}); err != nil {
		conn.Close()
		return fmt.Errorf("feed: subscribe %s: %w", w.venue, err)
	}

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// Close shuts down the connection and stops the loops.
func (w *WSPriceFeed) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command. Caller must hold w.mu.
func (w *WSPriceFeed) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSPriceFeed) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

func (w *WSPriceFeed) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect redials with exponential backoff until it succeeds or the feed
// is closed. Connect restores the subscription.
func (w *WSPriceFeed) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			w.logger.Info("reconnected")
			return
		}
		w.logger.Warn("reconnect failed", slog.Any("error", err))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// handleMessage parses one raw stream message and writes the quote through
// to the cache. Unparseable and non-ticker messages are dropped.
func (w *WSPriceFeed) handleMessage(raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "" && msg.Type != "ticker" {
		return
	}
	if msg.Asset == "" || msg.Bid <= 0 || msg.Ask <= 0 {
		return
	}

	observedAt := time.Now()
	if msg.Timestamp > 0 {
		observedAt = time.UnixMilli(msg.Timestamp)
	}
	confidence := msg.Confidence
	if confidence == 0 {
		confidence = 1
	}

	quote := domain.Quote{
		Venue:          w.venue,
		Chain:          w.chain,
		Asset:          msg.Asset,
		Bid:            msg.Bid,
		Ask:            msg.Ask,
		Mid:            (msg.Bid + msg.Ask) / 2,
		LiquidityDepth: msg.DepthUSD,
		Confidence:     confidence,
		ObservedAt:     observedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.cache.SetQuote(ctx, quote); err != nil {
		w.logger.Warn("quote cache write failed",
			slog.String("asset", msg.Asset), slog.Any("error", err))
	}
}

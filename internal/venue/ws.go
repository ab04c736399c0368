package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// FillHandler is called for each confirmation event from the venue stream.
type FillHandler func(Fill)

// WSClient subscribes to the venue's confirmation stream. The executor polls
// GetStatus for the critical path; this stream exists so settlement learns
// about fills that confirm after the polling window closed.
type WSClient struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu sync.RWMutex
	handlers  []FillHandler

	done chan struct{}
}

// NewWSClient creates a confirmation-stream client for the given endpoint.
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "venue_ws")),
		done:   make(chan struct{}),
	}
}

// OnFill registers a handler invoked for every fill event.
func (w *WSClient) OnFill(h FillHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Run connects and reads fill events until the context is cancelled,
// reconnecting with exponential backoff on connection loss.
func (w *WSClient) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		if err := w.connect(ctx); err != nil {
			w.logger.Warn("connect failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		} else {
			delay = reconnectDelay
			w.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			w.Close()
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// connect establishes the websocket connection and keep-alive handlers.
func (w *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.pingLoop(ctx, conn)
	return nil
}

// readLoop decodes fill events until the connection drops.
func (w *WSClient) readLoop(ctx context.Context) {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			w.logger.Warn("read failed, reconnecting", slog.String("error", err.Error()))
			_ = conn.Close()
			return
		}

		var fill Fill
		if err := json.Unmarshal(data, &fill); err != nil {
			w.logger.Debug("skipping undecodable message", slog.String("error", err.Error()))
			continue
		}
		if fill.TxID == "" {
			continue
		}

		w.handlerMu.RLock()
		handlers := w.handlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(fill)
		}
	}
}

// pingLoop sends keep-alive pings until the context ends or the connection
// is replaced.
func (w *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// Close shuts the client down permanently.
func (w *WSClient) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.done)
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/api"
	"github.com/butterflyhq/butterfly/internal/audit"
	"github.com/butterflyhq/butterfly/internal/causal"
	"github.com/butterflyhq/butterfly/internal/metrics"
	"github.com/butterflyhq/butterfly/internal/middleware"
	"github.com/butterflyhq/butterfly/pkg/types"
)

// WebSocket message types
const (
	MessageTypeStage    = "stage"
	MessageTypeStep     = "step"
	MessageTypeComplete = "complete"
	MessageTypeError    = "error"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = maxBodyBytes
)

// WSMessage is a server to client progress message. The client sends the
// same payload as POST /api/generate.
type WSMessage struct {
	Type      string                   `json:"type"`
	RequestID string                   `json:"request_id,omitempty"`
	Stage     causal.Stage             `json:"stage,omitempty"`
	Step      *causal.CausalStep       `json:"step,omitempty"`
	Result    *causal.AnalysisResponse `json:"result,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Status    int                      `json:"status,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// newUpgrader builds an upgrader that applies the CORS allow-list to the
// Origin header.
func newUpgrader(cors *middleware.CORS) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cors.Allowed(r.Header.Get("Origin"))
		},
	}
}

// wsConnection is one streaming session.
type wsConnection struct {
	conn    *websocket.Conn
	server  *Server
	client  string
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// handleWebSocket upgrades the connection and serves analysis requests one
// at a time until the client disconnects or the server stops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	// Register the session before hijacking so Stop waits for it.
	if !s.beginSession() {
		api.WriteJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{Error: "Service shutting down"})
		return
	}
	defer s.wg.Done()

	conn, err := newUpgrader(s.cors).Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	wsc := &wsConnection{
		conn:   conn,
		server: s,
		client: middleware.ClientKey(r),
		ctx:    ctx,
		cancel: cancel,
		logger: s.logger.With(zap.String("client", middleware.ClientKey(r))),
	}

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	wsc.logger.Info("WebSocket connection established")
	wsc.handle()
}

// handle manages the WebSocket connection lifecycle
func (wsc *wsConnection) handle() {
	defer func() {
		wsc.cancel()
		_ = wsc.conn.Close()
		wsc.logger.Info("WebSocket connection closed")
	}()

	wsc.conn.SetReadLimit(wsMaxMessageSize)
	wsc.conn.SetPongHandler(func(string) error {
		return wsc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go wsc.heartbeat()

	for {
		// Analyses can outlast the pong window, so the deadline is renewed
		// before every read.
		if err := wsc.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			return
		}
		_, data, err := wsc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsc.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()

		if err := wsc.serve(data); err != nil {
			return
		}
	}
}

// serve runs one analysis and streams its progress. The returned error is a
// write failure, which ends the session.
func (wsc *wsConnection) serve(data []byte) error {
	requestID := uuid.NewString()
	ctx := audit.WithCorrelationID(wsc.ctx, requestID)

	if !wsc.server.limiter.Allow(wsc.client) {
		metrics.RateLimitedTotal.Inc()
		_ = wsc.server.audit.LogRateLimited(ctx, wsc.client, "/ws/analyze")
		return wsc.send(WSMessage{
			Type:      MessageTypeError,
			RequestID: requestID,
			Error:     "Rate limit exceeded. Please try again later.",
			Status:    http.StatusTooManyRequests,
		})
	}

	req, err := types.ParseAnalyzeRequest(data)
	if err != nil {
		return wsc.sendError(requestID, err)
	}

	// Observer writes happen on this goroutine; a failed write cancels the run.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var writeErr error
	obs := func(ev causal.ProgressEvent) {
		if writeErr != nil {
			return
		}
		msg := WSMessage{Type: MessageTypeStage, RequestID: requestID, Stage: ev.Stage}
		if ev.Step != nil {
			msg = WSMessage{Type: MessageTypeStep, RequestID: requestID, Stage: ev.Stage, Step: ev.Step}
		}
		if writeErr = wsc.send(msg); writeErr != nil {
			cancel()
		}
	}

	resp, err := wsc.server.analyze(runCtx, req, wsc.client, obs)
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return wsc.sendError(requestID, err)
	}
	return wsc.send(WSMessage{Type: MessageTypeComplete, RequestID: requestID, Result: resp})
}

func (wsc *wsConnection) sendError(requestID string, err error) error {
	return wsc.send(WSMessage{
		Type:      MessageTypeError,
		RequestID: requestID,
		Error:     api.ErrorMessage(err),
		Status:    api.StatusForError(err),
	})
}

// send writes one message. Safe for concurrent use with heartbeat.
func (wsc *wsConnection) send(msg WSMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = wsc.server.now().UTC()
	}

	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()

	_ = wsc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := wsc.conn.WriteJSON(msg); err != nil {
		wsc.logger.Warn("WebSocket write failed", zap.Error(err))
		return err
	}
	metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	return nil
}

// heartbeat pings the client and closes the connection when the session or
// the server ends, which unblocks the read loop.
func (wsc *wsConnection) heartbeat() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wsc.writeMu.Lock()
			err := wsc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			wsc.writeMu.Unlock()
			if err != nil {
				wsc.cancel()
				return
			}
		case <-wsc.ctx.Done():
			wsc.writeMu.Lock()
			_ = wsc.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			wsc.writeMu.Unlock()
			_ = wsc.conn.Close()
			return
		}
	}
}

package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/config"
	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/metrics"
	"fabtrack.io/tracker/internal/pkg/worker"
)

// ConnConfig contains per-socket timing limits.
type ConnConfig struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// ConnConfigFrom converts the realtime config section.
func ConnConfigFrom(cfg config.RealtimeConfig) ConnConfig {
	return ConnConfig{
		PingInterval:    cfg.PingInterval,
		PongWait:        cfg.PongWait,
		WriteTimeout:    cfg.WriteTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval * 2
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 4096
	}
	return c
}

// Serve starts the read and write pumps of an admitted session on pool. ctx
// bounds the pumps' lifetime and should be the service context, not the
// upgrade request's. On error the session has already been removed.
func (h *Hub) Serve(ctx context.Context, pool *worker.Pool, ws *websocket.Conn, s *Session, cfg ConnConfig) error {
	cfg = cfg.withDefaults()
	if err := pool.Submit(ctx, func(ctx context.Context) { h.writePump(ctx, ws, s, cfg) }); err != nil {
		h.Remove(s)
		_ = ws.Close()
		return err
	}
	// The write pump owns the socket from here: removing the session closes
	// the queue, which makes it send a close frame and close the socket.
	if err := pool.Submit(ctx, func(context.Context) { h.readPump(ws, s, cfg) }); err != nil {
		h.Remove(s)
		return err
	}
	return nil
}

func (h *Hub) writePump(ctx context.Context, ws *websocket.Conn, s *Session, cfg ConnConfig) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug("Write failed", zap.String("connection_id", s.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Debug("Ping failed", zap.String("connection_id", s.id), zap.Error(err))
				return
			}
		case <-ctx.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (h *Hub) readPump(ws *websocket.Conn, s *Session, cfg ConnConfig) {
	defer h.Remove(s)

	ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Connection closed unexpectedly", zap.String("connection_id", s.id), zap.Error(err))
			}
			return
		}
		h.HandleControl(s, frame)
	}
}

// HandleControl applies one client-to-server frame. Frames that fail to
// decode or carry an unknown type are answered with ERROR; the session stays
// open.
func (h *Hub) HandleControl(s *Session, frame []byte) {
	env, err := domain.DecodeEnvelope(frame)
	if err != nil {
		h.rejectControl(s, "", err)
		return
	}

	switch env.Type {
	case domain.MessageSubscribeEntity, domain.MessageUnsubscribeEntity:
		var data domain.SubscriptionData
		if err := env.Decode(&data); err != nil {
			h.rejectControl(s, env.Type, err)
			return
		}
		op := h.Subscribe
		if env.Type == domain.MessageUnsubscribeEntity {
			op = h.Unsubscribe
		}
		if err := op(s, data.ID); err != nil {
			h.replyError(s, apperrors.CodeOf(err), err.Error())
			return
		}
		h.log.Debug("Subscription changed",
			zap.String("connection_id", s.id),
			zap.String("op", string(env.Type)),
			zap.String("entity_id", data.ID),
		)
	case domain.MessageAckStatusUpdate:
		var data domain.AckData
		if err := env.Decode(&data); err != nil {
			h.rejectControl(s, env.Type, err)
			return
		}
		metrics.RealtimeAcks.Inc()
		h.log.Debug("Status update acknowledged",
			zap.String("connection_id", s.id),
			zap.String("update_id", data.UpdateID),
			zap.String("entity_id", data.EntityID),
		)
	default:
		h.rejectControl(s, env.Type, fmt.Errorf("unknown message type %q", env.Type))
	}
}

func (h *Hub) rejectControl(s *Session, t domain.EventType, cause error) {
	metrics.RealtimeMalformedMessages.Inc()
	h.log.Warn("Malformed control message",
		zap.String("connection_id", s.id),
		zap.String("type", string(t)),
		zap.Error(cause),
	)
	h.replyError(s, apperrors.CodeRealtimeMalformedEvent, cause.Error())
}

func (h *Hub) replyError(s *Session, code, message string) {
	if code == "" {
		code = apperrors.CodeRealtimeMalformedEvent
	}
	_ = h.Send(s, domain.EventError, domain.ErrorData{Code: code, Message: message})
}

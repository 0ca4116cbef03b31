package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"resumeforge/internal/auth"
	"resumeforge/internal/notify"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsMaxMessage   = 4 << 10
)

// 客户端消息：
//
//	{"type":"auth","token":"..."}            连接后第一条，必须
//	{"type":"watch","document_id":12}        只接收该文档的通知；0 表示全部
type wsClientMessage struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	DocumentID uint   `json:"document_id,omitempty"`
}

type wsServerMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WsHandler 鉴权 WebSocket 连接，并把 user_notify:<user> 频道上的通知转发给客户端。
type WsHandler struct {
	redisClient *redis.Client
	verifier    auth.Verifier
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func NewWsHandler(redisClient *redis.Client, verifier auth.Verifier, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	return &WsHandler{
		redisClient: redisClient,
		verifier:    verifier,
		logger:      logger,
		upgrader:    websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

// originChecker 未配置白名单时只允许同源。
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(allowed) == 0 {
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		}
		for _, o := range allowed {
			if origin == o {
				return true
			}
		}
		return false
	}
}

// wsConn 是一条已升级的连接。gorilla 的连接只允许一个并发写者，写操作经 writeMu 串行化。
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	watch   atomic.Uint64
	log     *slog.Logger
}

func (w *wsConn) writeJSON(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) writeText(payload string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func (w *wsConn) ping() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (w *wsConn) close(code int, text string) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteTimeout))
}

// HandleConnection 升级连接，等待鉴权消息，然后转发通知直到任一方断开。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer raw.Close()
	raw.SetReadLimit(wsMaxMessage)

	ws := &wsConn{conn: raw, log: h.logger.With(slog.String("client_ip", c.ClientIP()))}

	userID, err := h.authenticate(ws)
	if err != nil {
		ws.log.Warn("websocket authentication failed", slog.Any("error", err))
		return
	}
	ws.log = ws.log.With(slog.String("user_id", userID))
	if err := ws.writeJSON(wsServerMessage{Type: "auth_ok", UserID: userID}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- h.readLoop(ws) }()
	go func() { done <- h.forward(ctx, ws, userID) }()

	err = <-done
	cancel()
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		ws.log.Info("websocket connection closed", slog.Any("error", err))
		return
	}
	ws.log.Info("websocket connection closed")
}

// authenticate 读取第一条消息并校验令牌。
func (h *WsHandler) authenticate(ws *wsConn) (string, error) {
	_ = ws.conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	defer ws.conn.SetReadDeadline(time.Time{})

	var msg wsClientMessage
	if err := ws.conn.ReadJSON(&msg); err != nil {
		ws.close(websocket.ClosePolicyViolation, "auth required")
		return "", fmt.Errorf("read auth message: %w", err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		ws.close(websocket.ClosePolicyViolation, "auth required")
		return "", errors.New("first message is not an auth message")
	}
	id, err := h.verifier.Verify(msg.Token)
	if err != nil {
		_ = ws.writeJSON(wsServerMessage{Type: "auth_failed", Error: "unauthorized"})
		ws.close(websocket.ClosePolicyViolation, "unauthorized")
		return "", fmt.Errorf("verify token: %w", err)
	}
	return id.UserID, nil
}

// readLoop 处理 watch 消息，同时用于检测客户端断开。
func (h *WsHandler) readLoop(ws *wsConn) error {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "watch" {
			ws.watch.Store(uint64(msg.DocumentID))
		}
	}
}

// forward 订阅用户频道并转发消息；设置了 watch 时只转发该文档的通知。
func (h *WsHandler) forward(ctx context.Context, ws *wsConn, userID string) error {
	channel := notify.Channel(userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if !wantMessage(ws.watch.Load(), msg.Payload) {
				continue
			}
			if err := ws.writeText(msg.Payload); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// wantMessage 判断 payload 是否属于被关注的文档。无法解析的消息照常转发。
func wantMessage(watch uint64, payload string) bool {
	if watch == 0 {
		return true
	}
	var msg notify.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return true
	}
	return msg.DocumentID == 0 || uint64(msg.DocumentID) == watch
}

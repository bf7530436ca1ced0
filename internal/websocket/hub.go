// Package websocket 实现揭示事件的实时推送。
//
// 客户端带 JWT 连接后按所有者归组，身份即订阅：每个连接只会
// 收到属于自己胶囊的揭示事件，不存在跨所有者的订阅操作。
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/domain"
)

// EventCapsuleRevealed 胶囊到达揭示时刻
const EventCapsuleRevealed = "capsule.revealed"

// Event 推送给客户端的事件
type Event struct {
	Type      string    `json:"type"`
	CapsuleID string    `json:"capsuleId,omitempty"`
	Title     string    `json:"title,omitempty"`
	RevealAt  time.Time `json:"revealAt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client 一条已认证的 WebSocket 连接
type Client struct {
	id      string
	ownerID string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	log     *zap.Logger
}

// Hub 管理全部 WebSocket 连接，按所有者归组分发事件
type Hub struct {
	clients        map[string]*Client            // clientID -> Client
	owners         map[string]map[string]*Client // ownerID -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan ownerEvent
	mu             sync.RWMutex
	tokens         *auth.JWTManager
	allowedOrigins []string
	log            *zap.Logger
}

type ownerEvent struct {
	ownerID string
	event   *Event
}

// NewHub 创建 Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，空表示允许所有
//   - tokens: JWT 校验器，连接必须携带有效访问令牌
func NewHub(allowedOrigins []string, tokens *auth.JWTManager, logger *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:        make(map[string]*Client),
		owners:         make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan ownerEvent, 256),
		tokens:         tokens,
		allowedOrigins: allowedOrigins,
		log:            logger,
	}
}

// Run 启动事件循环，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			if h.owners[client.ownerID] == nil {
				h.owners[client.ownerID] = make(map[string]*Client)
			}
			h.owners[client.ownerID][client.id] = client
			h.mu.Unlock()
			h.log.Info("websocket client registered",
				zap.String("client_id", client.id),
				zap.String("owner_id", client.ownerID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				if group, exists := h.owners[client.ownerID]; exists {
					delete(group, client.id)
					if len(group) == 0 {
						delete(h.owners, client.ownerID)
					}
				}
				close(client.send)
				h.log.Info("websocket client unregistered",
					zap.String("client_id", client.id))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliverToOwner(msg.ownerID, msg.event)
		}
	}
}

// NotifyReveal 向胶囊所有者推送揭示事件
//
// 匿名胶囊没有推送对象，直接忽略。事件不含封存留言，
// 客户端要看内容仍需走门控读取。
func (h *Hub) NotifyReveal(_ context.Context, capsule *domain.Capsule) {
	if capsule.OwnerID == nil {
		return
	}

	event := &Event{
		Type:      EventCapsuleRevealed,
		CapsuleID: capsule.ID,
		Title:     capsule.Title,
		RevealAt:  capsule.RevealAt,
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- ownerEvent{ownerID: *capsule.OwnerID, event: event}:
	default:
		// 广播队列满时丢弃，揭示状态以存储为准
		h.log.Warn("websocket broadcast queue full, event dropped",
			zap.String("capsule_id", capsule.ID))
	}
}

// deliverToOwner 把事件投递给所有者的全部在线连接
func (h *Hub) deliverToOwner(ownerID string, event *Event) {
	h.mu.RLock()
	group := h.owners[ownerID]
	clients := make([]*Client, 0, len(group))
	for _, client := range group {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal websocket event", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			// 客户端写缓冲阻塞，跳过
			h.log.Warn("websocket client blocked, event skipped",
				zap.String("client_id", client.id))
		}
	}
}

// ConnectionCount 当前在线连接数（指标上报用）
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.owners = make(map[string]map[string]*Client)
}

// authenticate 从查询参数或 Authorization 头取出令牌并校验
func (h *Hub) authenticate(c *gin.Context) (string, error) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		return "", errors.New("missing authentication token")
	}

	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		return "", err
	}
	if claims.OwnerID == "" {
		return "", errors.New("token carries no owner identity")
	}
	return claims.OwnerID, nil
}

// upgraderFactory 创建带 Origin 验证的升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 无 Origin 视为同源请求
				return true
			}
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleWebSocket 处理 WebSocket 升级请求
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		ownerID, err := hub.authenticate(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("websocket upgrade failed",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")))
			return
		}

		client := &Client{
			id:      uuid.NewString(),
			ownerID: ownerID,
			conn:    conn,
			send:    make(chan []byte, 256),
			hub:     hub,
			log:     hub.log,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 消费客户端消息，仅用于保活与连接关闭检测
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		// 入站消息没有协议含义，读到即丢弃
	}
}

// writePump 把事件写给客户端并周期性发送协议层 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

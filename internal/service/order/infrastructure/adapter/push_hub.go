package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 由上游网关负责来源校验
		return true
	},
}

// Hub 维护所有活跃的 WebSocket 连接，按用户推送通知。
// 同一用户重复连接时新连接替换旧连接。
type Hub struct {
	nodeID   string
	staffIDs map[string]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	lock    sync.RWMutex
	clients map[string]*Client // 使用UserID作为Key
}

func NewHub(staffIDs []string) *Hub {
	staff := make(map[string]struct{}, len(staffIDs))
	for _, id := range staffIDs {
		staff[id] = struct{}{}
	}
	return &Hub{
		nodeID:     "order-bot-" + uuid.New().String()[:8],
		staffIDs:   staff,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
	}
}

// Run 处理注册与注销，ctx 取消时关闭所有连接。
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			if old, ok := h.clients[client.userID]; ok {
				close(old.send)
			}
			h.clients[client.userID] = client
			h.lock.Unlock()
			log.Debug().Str("user", client.userID).Str("node", h.nodeID).Msg("Push client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			if cur, ok := h.clients[client.userID]; ok && cur == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.lock.Unlock()
			log.Debug().Str("user", client.userID).Msg("Push client unregistered")
		case <-ctx.Done():
			close(h.done)
			h.lock.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.lock.Unlock()
			return nil
		}
	}
}

// Connected reports whether the user currently has a live connection on this node.
func (h *Hub) Connected(userID string) bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Notify 推送给接收人，员工频道通知推送给所有在线员工。没有在线连接不算失败。
func (h *Hub) Notify(_ context.Context, ev *domain.NotificationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal push payload")
	}

	h.lock.RLock()
	defer h.lock.RUnlock()

	if ev.Audience == domain.AudienceStaff {
		for id, c := range h.clients {
			if _, ok := h.staffIDs[id]; ok {
				h.deliver(c, payload)
			}
		}
		return nil
	}
	if c, ok := h.clients[ev.RecipientID]; ok {
		if !h.deliver(c, payload) {
			return errors.Errorf("push buffer full for %s", ev.RecipientID)
		}
	}
	return nil
}

func (h *Hub) deliver(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		log.Warn().Str("user", c.userID).Msg("Push buffer full, dropping notification")
		return false
	}
}

// ServeWs 把 HTTP 请求升级为 WebSocket。用户身份取自 X-User-ID 头或 userId 参数。
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), userID: userID}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Client 是一个WebSocket连接的代表
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// readPump 只处理心跳，客户端发来的内容直接丢弃
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user", c.userID).Msg("WebSocket closed unexpectedly")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

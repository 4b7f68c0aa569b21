package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"backtester/internal/logger"
	"backtester/internal/middleware"
	"backtester/internal/monitoring"
	"backtester/internal/orchestrator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketHandler 推送任务进度
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	manager  *orchestrator.Manager
	metrics  *monitoring.Metrics
	log      logger.Logger
}

// Client represents a WebSocket client
type Client struct {
	ID    string
	JobID string
	Conn  *websocket.Conn
	done  chan struct{}
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(upgrader websocket.Upgrader, manager *orchestrator.Manager, metrics *monitoring.Metrics, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{upgrader: upgrader, manager: manager, metrics: metrics, log: log}
}

// JobStream 先发送当前快照，之后每次状态迁移推送一次，任务结束后关闭连接
func (h *WebSocketHandler) JobStream(c *gin.Context) {
	id := c.Param("id")

	// 先订阅再读快照，避免漏掉两者之间的迁移
	updates, stop := h.manager.Watch(id)
	defer stop()

	current, err := h.manager.GetStatus(c.Request.Context(), id)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", logger.FieldJobID, id, "error", err)
		return
	}

	client := &Client{ID: uuid.NewString(), JobID: id, Conn: conn, done: make(chan struct{})}
	h.metrics.ConnectionOpened()
	h.log.Debug("WebSocket client connected", "client_id", client.ID, logger.FieldJobID, id)
	defer func() {
		conn.Close()
		h.metrics.ConnectionClosed()
		h.log.Debug("WebSocket client disconnected", "client_id", client.ID, logger.FieldJobID, id)
	}()

	go client.readPump()

	if err := client.send(*current); err != nil {
		return
	}
	last := *current
	if last.Status.Terminal() {
		client.close("backtest " + string(last.Status))
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case job, ok := <-updates:
			if !ok {
				client.close("backtest " + string(last.Status))
				return
			}
			if stale(job, last) {
				continue
			}
			if err := client.send(job); err != nil {
				return
			}
			last = job
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// stale 订阅与快照之间的迁移可能重复送达，旧于已发送快照的丢弃
func stale(job, last orchestrator.Job) bool {
	if job.Status.Terminal() {
		return false
	}
	return job.UpdatedAt.Before(last.UpdatedAt) || job.Progress < last.Progress
}

// readPump 丢弃客户端消息，只用于感知断开与 pong
func (c *Client) readPump() {
	defer close(c.done)
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) send(job orchestrator.Job) error {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(Message{Type: "status", Data: job, Time: time.Now().UTC()})
}

func (c *Client) close(reason string) {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := c.Conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		return
	}
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
}

package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"autoflow/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// RecordMessage is one live debugger frame.
type RecordMessage struct {
	Type         string      `json:"type"`
	TenantID     string      `json:"tenant_id"`
	AutomationID string      `json:"automation_id"`
	Data         interface{} `json:"data"`
	Timestamp    time.Time   `json:"timestamp"`
}

type recordClient struct {
	id           string
	tenantID     string
	automationID string
	conn         *websocket.Conn
	send         chan RecordMessage
	hub          *RecordHub
}

func (c *recordClient) wants(msg RecordMessage) bool {
	if c.tenantID != "" && c.tenantID != msg.TenantID {
		return false
	}
	return c.automationID == "" || c.automationID == msg.AutomationID
}

// RecordHub fans new execution records out to websocket subscribers.
type RecordHub struct {
	clients    map[string]*recordClient
	broadcast  chan RecordMessage
	register   chan *recordClient
	unregister chan *recordClient
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要验证源
	},
}

func NewRecordHub(logger *logrus.Logger) *RecordHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &RecordHub{
		clients:    make(map[string]*recordClient),
		broadcast:  make(chan RecordMessage, 256),
		register:   make(chan *recordClient),
		unregister: make(chan *recordClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is cancelled.
func (h *RecordHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			h.logger.Debugf("record stream: client %s connected", client.id)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				h.logger.Debugf("record stream: client %s disconnected", client.id)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// 慢消费者直接断开
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Publish queues a record for subscribers. It never blocks the caller; when
// the queue is full the frame is dropped.
func (h *RecordHub) Publish(rec *models.ExecutionRecord) {
	msg := RecordMessage{
		Type:         "execution_record",
		TenantID:     rec.TenantID,
		AutomationID: rec.AutomationID,
		Data:         FormatClean(rec),
		Timestamp:    time.Now().UTC(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("record stream: broadcast queue full, frame dropped")
	}
}

// HandleWebSocket upgrades the request and subscribes it, optionally
// filtered by tenant_id and automation_id query parameters.
func (h *RecordHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("record stream: websocket upgrade failed: %v", err)
		return
	}

	client := &recordClient{
		id:           "client_" + uuid.NewString(),
		tenantID:     c.Query("tenant_id"),
		automationID: c.Query("automation_id"),
		conn:         conn,
		send:         make(chan RecordMessage, 64),
		hub:          h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only watches for close and pong frames; subscribers do not send
// data.
func (c *recordClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("record stream: websocket error: %v", err)
			}
			return
		}
	}
}

func (c *recordClient) writePump() {
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
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.logger.Warnf("record stream: write failed: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of live subscribers.
func (h *RecordHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

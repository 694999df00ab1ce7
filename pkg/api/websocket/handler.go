package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/aescanero/flowdeploy/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	pathspec   string
	deployment string
	send       chan []byte
}

func (c *client) wants(event domain.Event) bool {
	if c.pathspec != "" && event.Pathspec != c.pathspec {
		return false
	}
	if c.deployment != "" && event.Deployment != c.deployment {
		return false
	}
	return true
}

// Handler streams lifecycle events to WebSocket clients. It holds one
// subscription per topic and fans events out to every connection.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Start subscribes to the run and deployment topics until ctx is done
func (h *Handler) Start(ctx context.Context) error {
	for _, topic := range []string{domain.TopicRuns, domain.TopicDeployments} {
		if err := h.eventBus.Subscribe(ctx, topic, h.broadcast); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) broadcast(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client too slow, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}

// Clients returns the number of connected clients
func (h *Handler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Handler) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Handler) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// HandleRunStream streams events, optionally narrowed to one pathspec or
// deployment with the query parameters of the same name
func (h *Handler) HandleRunStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	cl := &client{
		pathspec:   c.Query("pathspec"),
		deployment: c.Query("deployment"),
		send:       make(chan []byte, sendBuffer),
	}
	h.register(cl)
	defer h.unregister(cl)

	h.logger.Info("WebSocket connection established",
		zap.String("pathspec", cl.pathspec),
		zap.String("deployment", cl.deployment),
		zap.String("client", c.ClientIP()))

	// the reader only notices the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case data := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
